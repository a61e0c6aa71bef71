package models

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Genres is the closed set a book's genres are drawn from.
var Genres = []string{
	"Fiction", "Non-Fiction", "Science Fiction", "Fantasy", "Mystery", "Thriller",
	"Romance", "Horror", "Biography", "History", "Science", "Technology",
	"Self-Help", "Poetry", "Drama", "Children", "Other",
}

const (
	StatusWantToRead       = "Want to Read"
	StatusCurrentlyReading = "Currently Reading"
	StatusRead             = "Read"
)

func ValidGenre(g string) bool {
	for _, v := range Genres {
		if v == g {
			return true
		}
	}
	return false
}

func ValidReadingStatus(s string) bool {
	switch s {
	case StatusWantToRead, StatusCurrentlyReading, StatusRead:
		return true
	}
	return false
}

type Cover struct {
	URL string `bson:"url,omitempty" json:"url,omitempty"`
	Key string `bson:"key,omitempty" json:"publicId,omitempty"` // object key in the covers bucket
}

type Review struct {
	User      primitive.ObjectID `bson:"user" json:"user"`
	Rating    int                `bson:"rating" json:"rating"`
	Comment   string             `bson:"comment" json:"comment"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

type Book struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title                string             `bson:"title" json:"title"`
	Author               string             `bson:"author" json:"author"`
	PublishYear          int                `bson:"publishYear" json:"publishYear"`
	Owner                primitive.ObjectID `bson:"owner" json:"owner"`
	ISBN                 string             `bson:"isbn,omitempty" json:"isbn,omitempty"`
	Genres               []string           `bson:"genres,omitempty" json:"genres,omitempty"`
	CoverImage           *Cover             `bson:"coverImage,omitempty" json:"coverImage,omitempty"`
	Description          string             `bson:"description,omitempty" json:"description,omitempty"`
	PageCount            int                `bson:"pageCount,omitempty" json:"pageCount,omitempty"`
	ReadingStatus        string             `bson:"readingStatus" json:"readingStatus"`
	ReadingProgress      int                `bson:"readingProgress" json:"readingProgress"`
	EstimatedReadingTime int                `bson:"estimatedReadingTime,omitempty" json:"estimatedReadingTime,omitempty"` // minutes
	Reviews              []Review           `bson:"reviews" json:"reviews"`
	AverageRating        float64            `bson:"averageRating" json:"averageRating"`
	TotalReviews         int                `bson:"totalReviews" json:"totalReviews"`
	CreatedAt            time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt            time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// EstimatedReadingMinutes assumes a minute and a half per page.
func EstimatedReadingMinutes(pageCount int) int {
	if pageCount <= 0 {
		return 0
	}
	return int(math.Round(float64(pageCount) * 1.5))
}

// HasGenre reports whether the book is tagged with any of genres.
func (b *Book) HasGenre(genres ...string) bool {
	for _, g := range b.Genres {
		for _, want := range genres {
			if g == want {
				return true
			}
		}
	}
	return false
}
