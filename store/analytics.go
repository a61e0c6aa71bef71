package store

import (
	"context"
	"errors"

	"github.com/kevinaaaquil/bookcatalog/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// analyticsID is the _id of the single analytics document.
const analyticsID = "analytics"

// Series caps keep the singleton well under the 16MB document limit.
const (
	systemMetricsCap = 2016 // a week at five-minute samples
	dailyMetricsCap  = 365
	errorsCap        = 1000
	backupsCap       = 500
)

// push appends value to one of the analytics series. The document is created
// on first write.
func (db *DB) push(ctx context.Context, field string, value any, keep int) error {
	update := bson.M{"$push": bson.M{field: bson.M{"$each": bson.A{value}, "$slice": -keep}}}
	opts := options.Update().SetUpsert(true)
	_, err := db.Analytics().UpdateOne(ctx, bson.M{"_id": analyticsID}, update, opts)
	// Two first writes can race on the upsert; the loser retries as a plain update.
	if err != nil && errors.Is(translate(err), ErrDuplicate) {
		_, err = db.Analytics().UpdateOne(ctx, bson.M{"_id": analyticsID}, update, opts)
	}
	return err
}

func (db *DB) PushSystemMetric(ctx context.Context, m models.SystemMetric) error {
	return db.push(ctx, "systemMetrics", m, systemMetricsCap)
}

func (db *DB) PushUserMetric(ctx context.Context, m models.UserMetric) error {
	return db.push(ctx, "userMetrics", m, dailyMetricsCap)
}

func (db *DB) PushBookMetric(ctx context.Context, m models.BookMetric) error {
	return db.push(ctx, "bookMetrics", m, dailyMetricsCap)
}

func (db *DB) PushError(ctx context.Context, e models.ErrorEntry) error {
	return db.push(ctx, "errors", e, errorsCap)
}

func (db *DB) PushBackupEvent(ctx context.Context, e models.BackupEvent) error {
	return db.push(ctx, "backups", e, backupsCap)
}

// ClearErrors empties the error log.
func (db *DB) ClearErrors(ctx context.Context) error {
	_, err := db.Analytics().UpdateOne(ctx, bson.M{"_id": analyticsID},
		bson.M{"$set": bson.M{"errors": bson.A{}}})
	return err
}

// LoadAnalytics returns the analytics document, or an empty one if nothing
// has been recorded yet.
func (db *DB) LoadAnalytics(ctx context.Context) (*models.Analytics, error) {
	var a models.Analytics
	err := db.Analytics().FindOne(ctx, bson.M{"_id": analyticsID}).Decode(&a)
	if errors.Is(translate(err), ErrNotFound) {
		return &models.Analytics{ID: analyticsID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (db *DB) AllAnalytics(ctx context.Context) ([]models.Analytics, error) {
	cur, err := db.Analytics().Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.Analytics{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) ReplaceAnalytics(ctx context.Context, docs []models.Analytics) error {
	if _, err := db.Analytics().DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	in := make([]any, len(docs))
	for i := range docs {
		in[i] = docs[i]
	}
	_, err := db.Analytics().InsertMany(ctx, in)
	return translate(err)
}
