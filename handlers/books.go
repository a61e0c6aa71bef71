package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/middleware"
	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/service"
	"github.com/kevinaaaquil/bookcatalog/store"
	"github.com/kevinaaaquil/bookcatalog/utils"
)

type BookStore interface {
	InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error)
	ListBooks(ctx context.Context, f store.BookFilter) ([]models.Book, error)
	BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	UpdateBook(ctx context.Context, id primitive.ObjectID, fields bson.M) (*models.Book, error)
	DeleteBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	AddReview(ctx context.Context, id primitive.ObjectID, review models.Review) (*models.Book, error)
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	AppendActivity(ctx context.Context, id primitive.ObjectID, a models.Activity) error
}

// BookIndex mirrors book writes into the search index.
type BookIndex interface {
	IndexBook(ctx context.Context, b *models.Book) error
	UpdateBook(ctx context.Context, b *models.Book) error
	DeleteBook(ctx context.Context, id string) error
}

type ObjectRemover interface {
	Delete(ctx context.Context, key string) error
}

type Recommendations interface {
	ForFavorites(ctx context.Context, user *models.User, limit int) ([]service.Recommendation, error)
	Personalized(ctx context.Context, userID primitive.ObjectID, limit int) ([]service.Recommendation, error)
	Similar(ctx context.Context, bookID primitive.ObjectID, limit int) ([]service.Recommendation, error)
}

type BooksHandler struct {
	Books     BookStore
	Index     BookIndex     // nil when search is not configured
	Covers    ObjectRemover // nil when uploads are not configured
	Recommend Recommendations
}

// BookRequest is the body of create and update. Update applies only the
// optional fields that are present.
type BookRequest struct {
	Title           string        `json:"title" validate:"required,max=300"`
	Author          string        `json:"author" validate:"required,max=200"`
	PublishYear     int           `json:"publishYear" validate:"required,min=1,max=9999"`
	ISBN            *string       `json:"isbn" validate:"omitempty,isbn"`
	Genres          []string      `json:"genres" validate:"omitempty,max=17,dive,genre"`
	Description     *string       `json:"description" validate:"omitempty,max=5000"`
	PageCount       *int          `json:"pageCount" validate:"omitempty,min=0,max=100000"`
	ReadingStatus   *string       `json:"readingStatus" validate:"omitempty,readingstatus"`
	ReadingProgress *int          `json:"readingProgress" validate:"omitempty,min=0,max=100"`
	CoverImage      *models.Cover `json:"coverImage"`
}

type ReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"required,max=2000"`
}

type StatusRequest struct {
	ReadingStatus   string `json:"readingStatus" validate:"required,readingstatus"`
	ReadingProgress *int   `json:"readingProgress" validate:"omitempty,min=0,max=100"`
}

type BookListResponse struct {
	Count int           `json:"count"`
	Data  []models.Book `json:"data"`
}

type RecommendationsResponse struct {
	Count int                      `json:"count"`
	Data  []service.Recommendation `json:"data"`
}

func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.BookFilter{Genre: q.Get("genre"), ReadingStatus: q.Get("readingStatus")}
	if owner := q.Get("owner"); owner != "" {
		id, err := primitive.ObjectIDFromHex(owner)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid owner id", nil)
			return
		}
		f.Owner = id
	}
	books, err := h.Books.ListBooks(r.Context(), f)
	if err != nil {
		writeFailure(w, r, err, "failed to list books")
		return
	}
	writeJSON(w, http.StatusOK, BookListResponse{Count: len(books), Data: books})
}

func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := objectIDParam(w, r, "id", "book")
	if !ok {
		return
	}
	book, err := h.Books.BookByID(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err, "book not found")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	caller, _ := middleware.IdentityFromContext(r.Context())
	now := time.Now().UTC()
	book := &models.Book{
		Title:         strings.TrimSpace(req.Title),
		Author:        strings.TrimSpace(req.Author),
		PublishYear:   req.PublishYear,
		Owner:         caller.UserID,
		Genres:        req.Genres,
		CoverImage:    req.CoverImage,
		ReadingStatus: models.StatusWantToRead,
		Reviews:       []models.Review{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.ISBN != nil {
		book.ISBN = utils.NormalizeISBN(*req.ISBN)
	}
	if req.Description != nil {
		book.Description = *req.Description
	}
	if req.PageCount != nil {
		book.PageCount = *req.PageCount
		book.EstimatedReadingTime = models.EstimatedReadingMinutes(*req.PageCount)
	}
	if req.ReadingStatus != nil {
		book.ReadingStatus = *req.ReadingStatus
	}
	if req.ReadingProgress != nil {
		book.ReadingProgress = *req.ReadingProgress
	}

	id, err := h.Books.InsertBook(r.Context(), book)
	if err != nil {
		writeFailure(w, r, err, "failed to create book")
		return
	}
	book.ID = id
	if h.Index != nil {
		if err := h.Index.IndexBook(r.Context(), book); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Str("book_id", id.Hex()).Msg("index book")
		}
	}
	h.recordActivity(r, caller, models.ActionAddBook, id)
	writeJSON(w, http.StatusCreated, book)
}

// updateFields turns the request into an update document. Absent optional
// fields are left out so they keep their stored values; an empty ISBN is nil
// so the store removes it.
func (req *BookRequest) updateFields() bson.M {
	set := bson.M{
		"title":       strings.TrimSpace(req.Title),
		"author":      strings.TrimSpace(req.Author),
		"publishYear": req.PublishYear,
	}
	if req.ISBN != nil {
		if isbn := utils.NormalizeISBN(*req.ISBN); isbn != "" {
			set["isbn"] = isbn
		} else {
			set["isbn"] = nil
		}
	}
	if req.Genres != nil {
		set["genres"] = req.Genres
	}
	if req.Description != nil {
		set["description"] = *req.Description
	}
	if req.PageCount != nil {
		set["pageCount"] = *req.PageCount
		set["estimatedReadingTime"] = models.EstimatedReadingMinutes(*req.PageCount)
	}
	if req.ReadingStatus != nil {
		set["readingStatus"] = *req.ReadingStatus
	}
	if req.ReadingProgress != nil {
		set["readingProgress"] = *req.ReadingProgress
	}
	if req.CoverImage != nil {
		set["coverImage"] = req.CoverImage
	}
	return set
}

// loadOwned fetches the book and checks the caller may change it.
func (h *BooksHandler) loadOwned(w http.ResponseWriter, r *http.Request, c models.Capability) (*models.Book, middleware.Identity, bool) {
	caller, _ := middleware.IdentityFromContext(r.Context())
	id, ok := objectIDParam(w, r, "id", "book")
	if !ok {
		return nil, caller, false
	}
	book, err := h.Books.BookByID(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err, "book not found")
		return nil, caller, false
	}
	if !caller.CanModify(book.Owner, c) {
		writeError(w, r, http.StatusForbidden, "access denied: not the owner of this book", nil)
		return nil, caller, false
	}
	return book, caller, true
}

func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	existing, caller, ok := h.loadOwned(w, r, models.CapManage)
	if !ok {
		return
	}
	book, err := h.Books.UpdateBook(r.Context(), existing.ID, req.updateFields())
	if err != nil {
		writeFailure(w, r, err, "book not found")
		return
	}
	h.reindex(r, book)
	h.recordActivity(r, caller, models.ActionUpdateBook, book.ID)
	writeJSON(w, http.StatusOK, book)
}

func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	existing, caller, ok := h.loadOwned(w, r, models.CapDelete)
	if !ok {
		return
	}
	book, err := h.Books.DeleteBook(r.Context(), existing.ID)
	if err != nil {
		writeFailure(w, r, err, "book not found")
		return
	}
	log := logging.Ctx(r.Context())
	if h.Index != nil {
		if err := h.Index.DeleteBook(r.Context(), book.ID.Hex()); err != nil {
			log.Warn().Err(err).Str("book_id", book.ID.Hex()).Msg("remove book from index")
		}
	}
	if h.Covers != nil && book.CoverImage != nil && book.CoverImage.Key != "" {
		if err := h.Covers.Delete(r.Context(), book.CoverImage.Key); err != nil {
			log.Warn().Err(err).Str("key", book.CoverImage.Key).Msg("delete cover")
		}
	}
	h.recordActivity(r, caller, models.ActionDeleteBook, book.ID)
	writeMessage(w, http.StatusOK, "Book deleted successfully")
}

func (h *BooksHandler) AddReview(w http.ResponseWriter, r *http.Request) {
	id, ok := objectIDParam(w, r, "id", "book")
	if !ok {
		return
	}
	var req ReviewRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	caller, _ := middleware.IdentityFromContext(r.Context())
	review := models.Review{
		User:      caller.UserID,
		Rating:    req.Rating,
		Comment:   strings.TrimSpace(req.Comment),
		CreatedAt: time.Now().UTC(),
	}
	book, err := h.Books.AddReview(r.Context(), id, review)
	if err != nil {
		writeFailure(w, r, err, "book not found")
		return
	}
	h.reindex(r, book)
	writeJSON(w, http.StatusCreated, book)
}

func (h *BooksHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	existing, caller, ok := h.loadOwned(w, r, models.CapManage)
	if !ok {
		return
	}
	set := bson.M{"readingStatus": req.ReadingStatus}
	switch {
	case req.ReadingProgress != nil:
		set["readingProgress"] = *req.ReadingProgress
	case req.ReadingStatus == models.StatusRead:
		set["readingProgress"] = 100
	}
	book, err := h.Books.UpdateBook(r.Context(), existing.ID, set)
	if err != nil {
		writeFailure(w, r, err, "book not found")
		return
	}
	h.reindex(r, book)
	h.recordActivity(r, caller, models.ActionUpdateBook, book.ID)
	writeJSON(w, http.StatusOK, book)
}

func (h *BooksHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.IdentityFromContext(r.Context())
	user, err := h.Books.UserByID(r.Context(), caller.UserID)
	if err != nil {
		writeFailure(w, r, err, "user not found")
		return
	}
	recs, err := h.Recommend.ForFavorites(r.Context(), user, limitParam(r, service.DefaultRecommendLimit))
	if err != nil {
		writeFailure(w, r, err, "failed to get recommendations")
		return
	}
	writeJSON(w, http.StatusOK, RecommendationsResponse{Count: len(recs), Data: recs})
}

func (h *BooksHandler) Personalized(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.IdentityFromContext(r.Context())
	recs, err := h.Recommend.Personalized(r.Context(), caller.UserID, limitParam(r, service.DefaultRecommendLimit))
	if err != nil {
		writeFailure(w, r, err, "failed to get recommendations")
		return
	}
	writeJSON(w, http.StatusOK, RecommendationsResponse{Count: len(recs), Data: recs})
}

func (h *BooksHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id, ok := objectIDParam(w, r, "id", "book")
	if !ok {
		return
	}
	recs, err := h.Recommend.Similar(r.Context(), id, limitParam(r, service.DefaultSimilarLimit))
	if err != nil {
		writeFailure(w, r, err, "book not found")
		return
	}
	writeJSON(w, http.StatusOK, RecommendationsResponse{Count: len(recs), Data: recs})
}

func (h *BooksHandler) reindex(r *http.Request, book *models.Book) {
	if h.Index == nil {
		return
	}
	if err := h.Index.UpdateBook(r.Context(), book); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("book_id", book.ID.Hex()).Msg("reindex book")
	}
}

// recordActivity appends to the caller's activity log. Failures are logged
// and do not affect the response.
func (h *BooksHandler) recordActivity(r *http.Request, caller middleware.Identity, action string, bookID primitive.ObjectID) {
	a := models.Activity{
		Action:    action,
		BookID:    bookID,
		Details:   models.ActivityDetails{Method: r.Method, URL: r.URL.RequestURI()},
		Timestamp: time.Now().UTC(),
	}
	if err := h.Books.AppendActivity(r.Context(), caller.UserID, a); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("action", action).Msg("record activity")
	}
}

// limitParam reads ?limit=, falling back to def for missing or out of range values.
func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 || n > 50 {
		return def
	}
	return n
}
