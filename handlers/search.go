package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/service"
	"github.com/kevinaaaquil/bookcatalog/utils"
)

// maxEPUBBytes caps EPUB uploads for ISBN extraction.
const maxEPUBBytes = 50 << 20

type MetadataLookup interface {
	LookupISBN(ctx context.Context, isbn string) (*service.BookMetadata, error)
	SearchVolumes(ctx context.Context, query string, limit int) ([]service.BookMetadata, error)
}

type BookSearcher interface {
	Search(ctx context.Context, p service.SearchParams) (*service.SearchResult, error)
	Suggest(ctx context.Context, prefix string, limit int) (*service.Suggestions, error)
}

type SearchHandler struct {
	Metadata MetadataLookup
	Index    BookSearcher // nil when search is not configured
}

type ISBNRequest struct {
	ISBN string `json:"isbn" validate:"required"`
}

type ValidateISBNResponse struct {
	IsValid bool `json:"isValid"`
}

type ConvertISBNResponse struct {
	ISBN13 string `json:"isbn13"`
}

type ExtractResponse struct {
	ISBN        string                `json:"isbn"`
	Title       string                `json:"title,omitempty"`
	Author      string                `json:"author,omitempty"`
	Identifiers []string              `json:"identifiers,omitempty"`
	HasCover    bool                  `json:"hasCover"`
	Metadata    *service.BookMetadata `json:"metadata,omitempty"`
}

func (h *SearchHandler) LookupISBN(w http.ResponseWriter, r *http.Request) {
	isbn := chi.URLParam(r, "isbn")
	if !utils.ValidateISBN(isbn) {
		writeError(w, r, http.StatusBadRequest, "invalid ISBN", nil)
		return
	}
	meta, err := h.Metadata.LookupISBN(r.Context(), isbn)
	if errors.Is(err, service.ErrBookNotFound) {
		writeError(w, r, http.StatusNotFound, "book not found", nil)
		return
	}
	if err != nil {
		writeFailure(w, r, err, "failed to look up ISBN")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *SearchHandler) ValidateISBN(w http.ResponseWriter, r *http.Request) {
	var req ISBNRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, ValidateISBNResponse{IsValid: utils.ValidateISBN(req.ISBN)})
}

func (h *SearchHandler) ConvertISBN(w http.ResponseWriter, r *http.Request) {
	var req ISBNRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	isbn13, err := utils.ConvertISBN10to13(req.ISBN)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid ISBN-10", nil)
		return
	}
	writeJSON(w, http.StatusOK, ConvertISBNResponse{ISBN13: isbn13})
}

// ExtractISBN reads an uploaded EPUB ("file" form field), picks its ISBN and
// looks the book up. A failed lookup still returns what the EPUB declared.
func (h *SearchHandler) ExtractISBN(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEPUBBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "missing file", err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to read file", err)
		return
	}
	info, err := utils.ReadEPUB(data)
	if errors.Is(err, utils.ErrNoISBN) {
		writeError(w, r, http.StatusUnprocessableEntity, "no ISBN found in EPUB", nil)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "not a readable EPUB", err)
		return
	}
	resp := ExtractResponse{
		ISBN:        info.ISBN,
		Title:       info.Title,
		Author:      info.Author,
		Identifiers: info.Identifiers,
		HasCover:    len(info.Cover) > 0,
	}
	if meta, err := h.Metadata.LookupISBN(r.Context(), info.ISBN); err == nil {
		resp.Metadata = meta
	}
	writeJSON(w, http.StatusOK, resp)
}

// SearchBooks queries the book index. Query parameters: q, genres (comma
// list), minRating, maxRating, startYear, endYear, owner, page, pageSize, sortBy.
func (h *SearchHandler) SearchBooks(w http.ResponseWriter, r *http.Request) {
	if h.Index == nil {
		writeError(w, r, http.StatusServiceUnavailable, "search is not configured", nil)
		return
	}
	p, err := parseSearchParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	res, err := h.Index.Search(r.Context(), p)
	if err != nil {
		writeFailure(w, r, err, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SearchHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	if h.Index == nil {
		writeError(w, r, http.StatusServiceUnavailable, "search is not configured", nil)
		return
	}
	prefix := strings.TrimSpace(r.URL.Query().Get("q"))
	if prefix == "" {
		writeJSON(w, http.StatusOK, service.Suggestions{Titles: []string{}, Authors: []string{}})
		return
	}
	res, err := h.Index.Suggest(r.Context(), prefix, limitParam(r, 5))
	if err != nil {
		writeFailure(w, r, err, "suggest failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SearchExternal runs a free-text query against Google Books.
func (h *SearchHandler) SearchExternal(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, http.StatusBadRequest, "query parameter q is required", nil)
		return
	}
	res, err := h.Metadata.SearchVolumes(r.Context(), q, limitParam(r, 10))
	if err != nil {
		writeFailure(w, r, err, "failed to search books")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

var sortKeys = map[string]bool{"": true, "relevance": true, "rating": true, "year": true, "reviews": true}

func parseSearchParams(r *http.Request) (service.SearchParams, error) {
	q := r.URL.Query()
	p := service.SearchParams{
		Query:  q.Get("q"),
		Owner:  q.Get("owner"),
		SortBy: q.Get("sortBy"),
	}
	if !sortKeys[p.SortBy] {
		return p, errors.New("sortBy must be one of: relevance, rating, year, reviews")
	}
	for _, g := range strings.Split(q.Get("genres"), ",") {
		if g = strings.TrimSpace(g); g == "" {
			continue
		}
		if !models.ValidGenre(g) {
			return p, errors.New("unknown genre: " + g)
		}
		p.Genres = append(p.Genres, g)
	}

	var err error
	if p.MinRating, err = floatParam(q.Get("minRating"), "minRating"); err != nil {
		return p, err
	}
	if p.MaxRating, err = floatParam(q.Get("maxRating"), "maxRating"); err != nil {
		return p, err
	}
	if p.StartYear, err = intParam(q.Get("startYear"), "startYear"); err != nil {
		return p, err
	}
	if p.EndYear, err = intParam(q.Get("endYear"), "endYear"); err != nil {
		return p, err
	}
	if v, err := intParam(q.Get("page"), "page"); err != nil {
		return p, err
	} else if v != nil {
		if *v < 1 {
			return p, errors.New("page must be at least 1")
		}
		p.Page = *v
	}
	if v, err := intParam(q.Get("pageSize"), "pageSize"); err != nil {
		return p, err
	} else if v != nil {
		if *v < 1 {
			return p, errors.New("pageSize must be at least 1")
		}
		p.PageSize = *v
	}
	return p, p.Validate()
}

func floatParam(s, name string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.New(name + " must be a number")
	}
	return &v, nil
}

func intParam(s, name string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, errors.New(name + " must be an integer")
	}
	return &v, nil
}
