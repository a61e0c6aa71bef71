package store

import (
	"context"
	"time"

	"github.com/kevinaaaquil/bookcatalog/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// activityLogCap bounds each user's activity log to its most recent entries.
const activityLogCap = 500

// UserUpdate holds the fields an admin may change. Nil fields are left alone.
type UserUpdate struct {
	Name     *string
	Role     *models.Role
	Password *string // bcrypt hash
}

func (db *DB) UsersCount(ctx context.Context) (int64, error) {
	return db.Users().CountDocuments(ctx, bson.M{})
}

func (db *DB) UsersCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	return db.Users().CountDocuments(ctx, bson.M{"createdAt": bson.M{"$gte": since}})
}

func (db *DB) AdminsCount(ctx context.Context) (int64, error) {
	return db.Users().CountDocuments(ctx, bson.M{"role": models.RoleAdmin})
}

func (db *DB) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := db.Users().FindOne(ctx, bson.M{"email": email}).Decode(&u); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (db *DB) CreateUser(ctx context.Context, user *models.User) (primitive.ObjectID, error) {
	res, err := db.Users().InsertOne(ctx, user)
	if err != nil {
		return primitive.NilObjectID, translate(err)
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (db *DB) UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	opts := options.FindOne().SetProjection(bson.M{"activityLog": 0})
	if err := db.Users().FindOne(ctx, bson.M{"_id": id}, opts).Decode(&u); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (db *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	opts := options.Find().SetSort(bson.M{"createdAt": 1}).SetProjection(bson.M{"activityLog": 0})
	cur, err := db.Users().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	users := []models.User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (db *DB) UpdateUser(ctx context.Context, id primitive.ObjectID, upd UserUpdate) (*models.User, error) {
	set := bson.M{}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Role != nil {
		set["role"] = *upd.Role
	}
	if upd.Password != nil {
		set["password"] = *upd.Password
	}
	if len(set) == 0 {
		return db.UserByID(ctx, id)
	}
	var u models.User
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After).SetProjection(bson.M{"activityLog": 0})
	if err := db.Users().FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&u); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (db *DB) SetFavoriteGenres(ctx context.Context, id primitive.ObjectID, genres []string) error {
	res, err := db.Users().UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"preferences.favoriteGenres": genres}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendActivity pushes one entry onto the user's activity log.
func (db *DB) AppendActivity(ctx context.Context, id primitive.ObjectID, a models.Activity) error {
	_, err := db.Users().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$push": bson.M{
		"activityLog": bson.M{"$each": bson.A{a}, "$slice": -activityLogCap},
	}})
	return err
}

func (db *DB) DeleteUser(ctx context.Context, id primitive.ObjectID) error {
	res, err := db.Users().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) AllUsers(ctx context.Context) ([]models.User, error) {
	cur, err := db.Users().Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	users := []models.User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ReplaceUsers drops every user and inserts users in their place.
func (db *DB) ReplaceUsers(ctx context.Context, users []models.User) error {
	if _, err := db.Users().DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}
	docs := make([]any, len(users))
	for i := range users {
		docs[i] = users[i]
	}
	_, err := db.Users().InsertMany(ctx, docs)
	return translate(err)
}
