package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kevinaaaquil/bookcatalog/middleware"
	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/service"
	"github.com/kevinaaaquil/bookcatalog/store"
)

type bookStoreMock struct {
	insertFn   func(ctx context.Context, book *models.Book) (primitive.ObjectID, error)
	listFn     func(ctx context.Context, f store.BookFilter) ([]models.Book, error)
	bookByIDFn func(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	updateFn   func(ctx context.Context, id primitive.ObjectID, fields bson.M) (*models.Book, error)
	deleteFn   func(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	reviewFn   func(ctx context.Context, id primitive.ObjectID, review models.Review) (*models.Book, error)
	userByIDFn func(ctx context.Context, id primitive.ObjectID) (*models.User, error)

	activity []models.Activity
}

func (m *bookStoreMock) InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error) {
	return m.insertFn(ctx, book)
}

func (m *bookStoreMock) ListBooks(ctx context.Context, f store.BookFilter) ([]models.Book, error) {
	return m.listFn(ctx, f)
}

func (m *bookStoreMock) BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	return m.bookByIDFn(ctx, id)
}

func (m *bookStoreMock) UpdateBook(ctx context.Context, id primitive.ObjectID, fields bson.M) (*models.Book, error) {
	return m.updateFn(ctx, id, fields)
}

func (m *bookStoreMock) DeleteBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	return m.deleteFn(ctx, id)
}

func (m *bookStoreMock) AddReview(ctx context.Context, id primitive.ObjectID, review models.Review) (*models.Book, error) {
	return m.reviewFn(ctx, id, review)
}

func (m *bookStoreMock) UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return m.userByIDFn(ctx, id)
}

func (m *bookStoreMock) AppendActivity(_ context.Context, _ primitive.ObjectID, a models.Activity) error {
	m.activity = append(m.activity, a)
	return nil
}

type indexMock struct {
	indexed []string
	deleted []string
}

func (m *indexMock) IndexBook(_ context.Context, b *models.Book) error {
	m.indexed = append(m.indexed, b.ID.Hex())
	return nil
}

func (m *indexMock) UpdateBook(_ context.Context, b *models.Book) error {
	m.indexed = append(m.indexed, b.ID.Hex())
	return nil
}

func (m *indexMock) DeleteBook(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type removerMock struct {
	keys []string
}

func (m *removerMock) Delete(_ context.Context, key string) error {
	m.keys = append(m.keys, key)
	return nil
}

type recommendMock struct {
	similarFn func(ctx context.Context, bookID primitive.ObjectID, limit int) ([]service.Recommendation, error)
}

func (m *recommendMock) ForFavorites(context.Context, *models.User, int) ([]service.Recommendation, error) {
	return nil, nil
}

func (m *recommendMock) Personalized(context.Context, primitive.ObjectID, int) ([]service.Recommendation, error) {
	return nil, nil
}

func (m *recommendMock) Similar(ctx context.Context, bookID primitive.ObjectID, limit int) ([]service.Recommendation, error) {
	return m.similarFn(ctx, bookID, limit)
}

// serve routes one request through a chi router so URL params resolve, with
// id attached as the authenticated caller.
func serve(t *testing.T, method, pattern, path string, body any, id *middleware.Identity, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if id != nil {
		req = req.WithContext(middleware.WithIdentity(req.Context(), *id))
	}
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func caller(role models.Role) *middleware.Identity {
	return &middleware.Identity{UserID: primitive.NewObjectID(), Email: "me@example.com", Role: role}
}
