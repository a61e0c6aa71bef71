package store

import (
	"context"
	"time"

	"github.com/kevinaaaquil/bookcatalog/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BookFilter narrows ListBooks. Zero fields are ignored.
type BookFilter struct {
	Owner         primitive.ObjectID
	Genre         string
	ReadingStatus string
}

func (f BookFilter) query() bson.M {
	q := bson.M{}
	if !f.Owner.IsZero() {
		q["owner"] = f.Owner
	}
	if f.Genre != "" {
		q["genres"] = f.Genre
	}
	if f.ReadingStatus != "" {
		q["readingStatus"] = f.ReadingStatus
	}
	return q
}

func (db *DB) InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error) {
	res, err := db.Books().InsertOne(ctx, book)
	if err != nil {
		return primitive.NilObjectID, translate(err)
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (db *DB) ListBooks(ctx context.Context, f BookFilter) ([]models.Book, error) {
	return db.findBooks(ctx, f.query(), options.Find().SetSort(bson.M{"createdAt": -1}))
}

func (db *DB) findBooks(ctx context.Context, q bson.M, opts ...*options.FindOptions) ([]models.Book, error) {
	cur, err := db.Books().Find(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	books := []models.Book{}
	if err := cur.All(ctx, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (db *DB) BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	var book models.Book
	if err := db.Books().FindOne(ctx, bson.M{"_id": id}).Decode(&book); err != nil {
		return nil, translate(err)
	}
	return &book, nil
}

// UpdateBook applies the given fields and returns the document as stored
// after the write. A nil value removes the field.
func (db *DB) UpdateBook(ctx context.Context, id primitive.ObjectID, fields bson.M) (*models.Book, error) {
	var book models.Book
	err := db.Books().FindOneAndUpdate(ctx, bson.M{"_id": id}, bookUpdate(fields, time.Now()),
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&book)
	if err != nil {
		return nil, translate(err)
	}
	return &book, nil
}

// bookUpdate splits fields into $set and $unset. Sparse unique indexes skip
// missing fields but not empty ones, so cleared keys must be unset.
func bookUpdate(fields bson.M, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	unset := bson.M{}
	for k, v := range fields {
		if v == nil {
			unset[k] = ""
			continue
		}
		set[k] = v
	}
	upd := bson.M{"$set": set}
	if len(unset) > 0 {
		upd["$unset"] = unset
	}
	return upd
}

// DeleteBook removes a book and returns what was deleted so callers can
// clean up its cover and index entry.
func (db *DB) DeleteBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	var book models.Book
	if err := db.Books().FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&book); err != nil {
		return nil, translate(err)
	}
	return &book, nil
}

// AddReview appends a review and recomputes averageRating and totalReviews in
// the same update, so concurrent reviews never see a stale average.
func (db *DB) AddReview(ctx context.Context, id primitive.ObjectID, review models.Review) (*models.Book, error) {
	var book models.Book
	err := db.Books().FindOneAndUpdate(ctx, bson.M{"_id": id}, reviewPipeline(review, time.Now()),
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&book)
	if err != nil {
		return nil, translate(err)
	}
	return &book, nil
}

func reviewPipeline(review models.Review, now time.Time) mongo.Pipeline {
	reviews := bson.D{{Key: "$concatArrays", Value: bson.A{
		bson.D{{Key: "$ifNull", Value: bson.A{"$reviews", bson.A{}}}},
		bson.D{{Key: "$literal", Value: bson.A{review}}},
	}}}
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "reviews", Value: reviews},
			{Key: "updatedAt", Value: now},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "totalReviews", Value: bson.D{{Key: "$size", Value: "$reviews"}}},
			{Key: "averageRating", Value: roundOneDecimal(bson.D{{Key: "$avg", Value: "$reviews.rating"}})},
		}}},
	}
}

// roundOneDecimal rounds expr half up to one decimal: floor(x*10+0.5)/10.
func roundOneDecimal(expr any) bson.D {
	return bson.D{{Key: "$divide", Value: bson.A{
		bson.D{{Key: "$floor", Value: bson.D{{Key: "$add", Value: bson.A{
			bson.D{{Key: "$multiply", Value: bson.A{expr, 10}}},
			0.5,
		}}}}},
		10,
	}}}
}

// ReadBooks returns the user's books marked Read.
func (db *DB) ReadBooks(ctx context.Context, userID primitive.ObjectID) ([]models.Book, error) {
	return db.findBooks(ctx, bson.M{"owner": userID, "readingStatus": models.StatusRead})
}

// CandidateBooks returns books not owned by userID and not in exclude. A
// non-empty genres list restricts results to books sharing one of them.
func (db *DB) CandidateBooks(ctx context.Context, userID primitive.ObjectID, exclude []primitive.ObjectID, genres []string) ([]models.Book, error) {
	q := bson.M{"owner": bson.M{"$ne": userID}}
	if len(exclude) > 0 {
		q["_id"] = bson.M{"$nin": exclude}
	}
	if len(genres) > 0 {
		q["genres"] = bson.M{"$in": genres}
	}
	return db.findBooks(ctx, q)
}

// SimilarCandidates returns books sharing a genre or the author with base.
func (db *DB) SimilarCandidates(ctx context.Context, base *models.Book) ([]models.Book, error) {
	or := bson.A{bson.M{"author": base.Author}}
	if len(base.Genres) > 0 {
		or = append(or, bson.M{"genres": bson.M{"$in": base.Genres}})
	}
	return db.findBooks(ctx, bson.M{"_id": bson.M{"$ne": base.ID}, "$or": or})
}

func (db *DB) CountBooks(ctx context.Context) (int64, error) {
	return db.Books().CountDocuments(ctx, bson.M{})
}

func (db *DB) CountBooksSince(ctx context.Context, since time.Time) (int64, error) {
	return db.Books().CountDocuments(ctx, bson.M{"createdAt": bson.M{"$gte": since}})
}

// PopularGenres counts books per genre, most common first.
func (db *DB) PopularGenres(ctx context.Context, limit int) ([]models.GenreCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$unwind", Value: "$genres"}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$genres"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "genre", Value: "$_id"},
			{Key: "count", Value: 1},
		}}},
	}
	cur, err := db.Books().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.GenreCount{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) AllBooks(ctx context.Context) ([]models.Book, error) {
	return db.findBooks(ctx, bson.M{})
}

// ReplaceBooks drops every book and inserts books in their place.
func (db *DB) ReplaceBooks(ctx context.Context, books []models.Book) error {
	if _, err := db.Books().DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	if len(books) == 0 {
		return nil
	}
	docs := make([]any, len(books))
	for i := range books {
		docs[i] = books[i]
	}
	_, err := db.Books().InsertMany(ctx, docs)
	return translate(err)
}
