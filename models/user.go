package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Preferences struct {
	FavoriteGenres []string `bson:"favoriteGenres" json:"favoriteGenres"`
}

type ActivityDetails struct {
	Method string `bson:"method" json:"method"`
	URL    string `bson:"url" json:"url"`
}

// Activity is one entry of a user's append-only activity log.
type Activity struct {
	Action    string             `bson:"action" json:"action"`
	BookID    primitive.ObjectID `bson:"bookId,omitempty" json:"bookId,omitempty"`
	Details   ActivityDetails    `bson:"details" json:"details"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

const (
	ActionAddBook    = "ADD_BOOK"
	ActionUpdateBook = "UPDATE_BOOK"
	ActionDeleteBook = "DELETE_BOOK"
)

type User struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name"`
	Email       string             `bson:"email" json:"email"`
	Password    string             `bson:"password" json:"-"` // bcrypt hash
	Role        Role               `bson:"role" json:"role"`
	Preferences Preferences        `bson:"preferences" json:"preferences"`
	ActivityLog []Activity         `bson:"activityLog,omitempty" json:"activityLog,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
}
