package service

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kevinaaaquil/bookcatalog/models"
)

const (
	DefaultRecommendLimit = 10
	DefaultSimilarLimit   = 5
)

// Recommendation is a candidate book with its score.
type Recommendation struct {
	models.Book
	Score float64 `json:"score"`
}

// History is how often each genre and author appears among a user's read books.
type History struct {
	Genres  map[string]int
	Authors map[string]int
}

func BuildHistory(read []models.Book) History {
	h := History{Genres: map[string]int{}, Authors: map[string]int{}}
	for _, b := range read {
		for _, g := range b.Genres {
			h.Genres[g]++
		}
		h.Authors[b.Author]++
	}
	return h
}

// PersonalizedScore weights rating by 1.5, each genre by twice its read
// count and the author by three times its read count.
func PersonalizedScore(h History, b *models.Book) float64 {
	score := b.AverageRating * 1.5
	for _, g := range b.Genres {
		score += float64(h.Genres[g] * 2)
	}
	return score + float64(h.Authors[b.Author]*3)
}

// FavoriteScore doubles the rating and adds 3 when any genre is a favorite.
func FavoriteScore(favorites []string, b *models.Book) float64 {
	score := b.AverageRating * 2
	if len(favorites) > 0 && b.HasGenre(favorites...) {
		score += 3
	}
	return score
}

// SimilarScore counts shared genres twice, adds 3 for the same author and
// then the candidate's rating.
func SimilarScore(base, b *models.Book) float64 {
	shared := 0
	seen := map[string]bool{}
	for _, g := range b.Genres {
		if !seen[g] && base.HasGenre(g) {
			shared++
		}
		seen[g] = true
	}
	score := float64(shared * 2)
	if b.Author == base.Author {
		score += 3
	}
	return score + b.AverageRating
}

// Rank drops books owned by userID or listed in exclude, scores the rest and
// returns the top limit by score. Equal scores order by id.
func Rank(userID primitive.ObjectID, exclude []primitive.ObjectID, candidates []models.Book, score func(*models.Book) float64, limit int) []Recommendation {
	skip := make(map[primitive.ObjectID]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	out := make([]Recommendation, 0, len(candidates))
	for i := range candidates {
		b := &candidates[i]
		if skip[b.ID] || (!userID.IsZero() && b.Owner == userID) {
			continue
		}
		out = append(out, Recommendation{Book: *b, Score: score(b)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type RecommendStore interface {
	BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	ReadBooks(ctx context.Context, userID primitive.ObjectID) ([]models.Book, error)
	CandidateBooks(ctx context.Context, userID primitive.ObjectID, exclude []primitive.ObjectID, genres []string) ([]models.Book, error)
	SimilarCandidates(ctx context.Context, base *models.Book) ([]models.Book, error)
}

type Recommender struct {
	store RecommendStore
}

func NewRecommender(store RecommendStore) *Recommender {
	return &Recommender{store: store}
}

func (r *Recommender) readIDs(ctx context.Context, userID primitive.ObjectID) ([]models.Book, []primitive.ObjectID, error) {
	read, err := r.store.ReadBooks(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]primitive.ObjectID, len(read))
	for i := range read {
		ids[i] = read[i].ID
	}
	return read, ids, nil
}

// ForFavorites recommends books in the user's favorite genres (any book when
// there are none), ranked mostly by rating.
func (r *Recommender) ForFavorites(ctx context.Context, user *models.User, limit int) ([]Recommendation, error) {
	if limit <= 0 {
		limit = DefaultRecommendLimit
	}
	_, readIDs, err := r.readIDs(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	favorites := user.Preferences.FavoriteGenres
	candidates, err := r.store.CandidateBooks(ctx, user.ID, readIDs, favorites)
	if err != nil {
		return nil, err
	}
	return Rank(user.ID, readIDs, candidates, func(b *models.Book) float64 {
		return FavoriteScore(favorites, b)
	}, limit), nil
}

// Personalized ranks books by the genres and authors of what the user has read.
func (r *Recommender) Personalized(ctx context.Context, userID primitive.ObjectID, limit int) ([]Recommendation, error) {
	if limit <= 0 {
		limit = DefaultRecommendLimit
	}
	read, readIDs, err := r.readIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	history := BuildHistory(read)
	candidates, err := r.store.CandidateBooks(ctx, userID, readIDs, nil)
	if err != nil {
		return nil, err
	}
	return Rank(userID, readIDs, candidates, func(b *models.Book) float64 {
		return PersonalizedScore(history, b)
	}, limit), nil
}

// Similar finds books sharing genres or the author with bookID.
func (r *Recommender) Similar(ctx context.Context, bookID primitive.ObjectID, limit int) ([]Recommendation, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	base, err := r.store.BookByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	candidates, err := r.store.SimilarCandidates(ctx, base)
	if err != nil {
		return nil, err
	}
	return Rank(primitive.NilObjectID, []primitive.ObjectID{base.ID}, candidates, func(b *models.Book) float64 {
		return SimilarScore(base, b)
	}, limit), nil
}
