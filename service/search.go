package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kevinaaaquil/bookcatalog/models"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	// MaxResultWindow is the deepest hit (from+size) the index serves.
	MaxResultWindow = 10000
	maxYear         = 9999
)

// ErrBadQuery marks a search the caller got wrong, either rejected locally
// or by a 400 from Elasticsearch. It never trips the breaker.
var ErrBadQuery = errors.New("invalid search query")

// SearchParams is a structured book query. Nil bounds are open.
type SearchParams struct {
	Query     string
	Genres    []string
	MinRating *float64
	MaxRating *float64
	StartYear *int
	EndYear   *int
	Owner     string
	Page      int
	PageSize  int
	SortBy    string // relevance, rating, year or reviews
}

func (p *SearchParams) normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
}

// Validate rejects parameters that cannot produce a valid Elasticsearch
// request. Zero Page and PageSize take their defaults.
func (p SearchParams) Validate() error {
	if p.Page < 0 || p.PageSize < 0 {
		return fmt.Errorf("%w: page and pageSize must be positive", ErrBadQuery)
	}
	p.normalize()
	if p.Page > MaxResultWindow/p.PageSize {
		return fmt.Errorf("%w: page*pageSize must not exceed %d", ErrBadQuery, MaxResultWindow)
	}
	for name, r := range map[string]*float64{"minRating": p.MinRating, "maxRating": p.MaxRating} {
		if r != nil && (math.IsNaN(*r) || *r < 0 || *r > 5) {
			return fmt.Errorf("%w: %s must be between 0 and 5", ErrBadQuery, name)
		}
	}
	if p.MinRating != nil && p.MaxRating != nil && *p.MinRating > *p.MaxRating {
		return fmt.Errorf("%w: minRating must not exceed maxRating", ErrBadQuery)
	}
	for name, y := range map[string]*int{"startYear": p.StartYear, "endYear": p.EndYear} {
		if y != nil && (*y < 0 || *y > maxYear) {
			return fmt.Errorf("%w: %s must be between 0 and %d", ErrBadQuery, name, maxYear)
		}
	}
	if p.StartYear != nil && p.EndYear != nil && *p.StartYear > *p.EndYear {
		return fmt.Errorf("%w: startYear must not exceed endYear", ErrBadQuery)
	}
	return nil
}

// BuildSearchQuery renders p as an Elasticsearch search body. Free text is a
// fuzzy multi_match; every other criterion is a non-scoring filter.
func BuildSearchQuery(p SearchParams) map[string]any {
	p.normalize()

	must := []any{}
	if q := strings.TrimSpace(p.Query); q != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":     q,
				"fields":    []string{"title^2", "author^1.5", "description"},
				"fuzziness": "AUTO",
			},
		})
	}

	filter := []any{}
	if len(p.Genres) > 0 {
		filter = append(filter, map[string]any{"terms": map[string]any{"genres": p.Genres}})
	}
	minRating, maxRating := 0.0, 5.0
	if p.MinRating != nil {
		minRating = *p.MinRating
	}
	if p.MaxRating != nil {
		maxRating = *p.MaxRating
	}
	filter = append(filter, map[string]any{
		"range": map[string]any{"averageRating": map[string]any{"gte": minRating, "lte": maxRating}},
	})
	if p.StartYear != nil || p.EndYear != nil {
		years := map[string]any{}
		if p.StartYear != nil {
			years["gte"] = *p.StartYear
		}
		if p.EndYear != nil {
			years["lte"] = *p.EndYear
		}
		filter = append(filter, map[string]any{"range": map[string]any{"publishYear": years}})
	}
	if p.Owner != "" {
		filter = append(filter, map[string]any{"term": map[string]any{"owner": p.Owner}})
	}

	var sort []any
	switch p.SortBy {
	case "rating":
		sort = []any{map[string]any{"averageRating": "desc"}}
	case "year":
		sort = []any{map[string]any{"publishYear": "desc"}}
	case "reviews":
		sort = []any{map[string]any{"totalReviews": "desc"}}
	default:
		sort = []any{"_score"}
	}

	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{"must": must, "filter": filter},
		},
		"sort": sort,
		"from": (p.Page - 1) * p.PageSize,
		"size": p.PageSize,
	}
}

// BuildSuggestQuery finds titles and authors starting with prefix.
func BuildSuggestQuery(prefix string, limit int) map[string]any {
	return map[string]any{
		"size":    limit,
		"_source": []string{"title", "author"},
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  prefix,
				"type":   "bool_prefix",
				"fields": []string{"title", "author"},
			},
		},
	}
}

// IndexedBook is the search document for a book.
type IndexedBook struct {
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Description   string   `json:"description,omitempty"`
	Genres        []string `json:"genres"`
	ISBN          string   `json:"isbn,omitempty"`
	PublishYear   int      `json:"publishYear"`
	AverageRating float64  `json:"averageRating"`
	TotalReviews  int      `json:"totalReviews"`
	Owner         string   `json:"owner"`
}

func NewIndexedBook(b *models.Book) IndexedBook {
	genres := b.Genres
	if genres == nil {
		genres = []string{}
	}
	return IndexedBook{
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		Genres:        genres,
		ISBN:          b.ISBN,
		PublishYear:   b.PublishYear,
		AverageRating: b.AverageRating,
		TotalReviews:  b.TotalReviews,
		Owner:         b.Owner.Hex(),
	}
}

type SearchHit struct {
	ID string `json:"id"`
	IndexedBook
	Score *float64 `json:"score"`
}

type SearchResult struct {
	Total      int64       `json:"total"`
	Books      []SearchHit `json:"books"`
	Page       int         `json:"page"`
	TotalPages int         `json:"totalPages"`
}

type Suggestions struct {
	Titles  []string `json:"titles"`
	Authors []string `json:"authors"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string      `json:"_id"`
			Score  *float64    `json:"_score"`
			Source IndexedBook `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// indexSettings uses a stemming analyzer on the text fields.
var indexSettings = map[string]any{
	"settings": map[string]any{
		"analysis": map[string]any{
			"analyzer": map[string]any{
				"book_text": map[string]any{
					"type":      "custom",
					"tokenizer": "standard",
					"filter":    []string{"lowercase", "stop", "snowball"},
				},
			},
		},
	},
	"mappings": map[string]any{
		"properties": map[string]any{
			"title":         map[string]any{"type": "text", "analyzer": "book_text"},
			"author":        map[string]any{"type": "text", "analyzer": "book_text"},
			"description":   map[string]any{"type": "text", "analyzer": "book_text"},
			"genres":        map[string]any{"type": "keyword"},
			"isbn":          map[string]any{"type": "keyword"},
			"publishYear":   map[string]any{"type": "integer"},
			"averageRating": map[string]any{"type": "float"},
			"totalReviews":  map[string]any{"type": "integer"},
			"owner":         map[string]any{"type": "keyword"},
		},
	},
}

// SearchService mirrors books into an Elasticsearch index and queries it.
type SearchService struct {
	es    *elasticsearch.Client
	index string
	cb    *gobreaker.CircuitBreaker[[]byte]
}

func NewSearchService(url, username, password, index string) (*SearchService, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, err
	}
	cb := newBreaker[[]byte]("elasticsearch", func(err error) bool {
		return errors.Is(err, ErrBadQuery)
	})
	return &SearchService{es: es, index: index, cb: cb}, nil
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (s *SearchService) EnsureIndex(ctx context.Context) error {
	res, err := s.es.Indices.Exists([]string{s.index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	body, err := json.Marshal(indexSettings)
	if err != nil {
		return err
	}
	_, err = s.do(s.es.Indices.Create(s.index,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(bytes.NewReader(body))))
	return err
}

func (s *SearchService) IndexBook(ctx context.Context, b *models.Book) error {
	body, err := json.Marshal(NewIndexedBook(b))
	if err != nil {
		return err
	}
	_, err = s.exec(func() (*esapi.Response, error) {
		return s.es.Index(s.index, bytes.NewReader(body),
			s.es.Index.WithContext(ctx),
			s.es.Index.WithDocumentID(b.ID.Hex()))
	})
	return err
}

// UpdateBook re-sends the whole document; partial updates would drift from Mongo.
func (s *SearchService) UpdateBook(ctx context.Context, b *models.Book) error {
	return s.IndexBook(ctx, b)
}

// DeleteBook removes a document. A missing document is not an error.
func (s *SearchService) DeleteBook(ctx context.Context, id string) error {
	_, err := s.exec(func() (*esapi.Response, error) {
		res, err := s.es.Delete(s.index, id, s.es.Delete.WithContext(ctx))
		if err == nil && res.StatusCode == http.StatusNotFound {
			res.Body.Close()
			return &esapi.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}"))}, nil
		}
		return res, err
	})
	return err
}

// reindexBatch bounds one bulk request.
const reindexBatch = 500

// ReindexAll replaces the whole index with books.
func (s *SearchService) ReindexAll(ctx context.Context, books []models.Book) error {
	matchAll, err := json.Marshal(map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
	if err != nil {
		return err
	}
	_, err = s.exec(func() (*esapi.Response, error) {
		return s.es.DeleteByQuery([]string{s.index}, bytes.NewReader(matchAll),
			s.es.DeleteByQuery.WithContext(ctx),
			s.es.DeleteByQuery.WithConflicts("proceed"),
			s.es.DeleteByQuery.WithRefresh(true))
	})
	if err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	for start := 0; start < len(books); start += reindexBatch {
		batch := books[start:min(start+reindexBatch, len(books))]
		var buf bytes.Buffer
		for i := range batch {
			meta, err := json.Marshal(map[string]any{"index": map[string]any{"_id": batch[i].ID.Hex()}})
			if err != nil {
				return err
			}
			doc, err := json.Marshal(NewIndexedBook(&batch[i]))
			if err != nil {
				return err
			}
			buf.Write(meta)
			buf.WriteByte('\n')
			buf.Write(doc)
			buf.WriteByte('\n')
		}
		raw, err := s.exec(func() (*esapi.Response, error) {
			return s.es.Bulk(bytes.NewReader(buf.Bytes()),
				s.es.Bulk.WithContext(ctx),
				s.es.Bulk.WithIndex(s.index))
		})
		if err != nil {
			return fmt.Errorf("bulk index: %w", err)
		}
		var resp struct {
			Errors bool `json:"errors"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("decode bulk response: %w", err)
		}
		if resp.Errors {
			return fmt.Errorf("bulk index: documents rejected in batch starting at %d", start)
		}
	}
	return nil
}

func (s *SearchService) Search(ctx context.Context, p SearchParams) (*SearchResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.normalize()
	raw, err := s.query(ctx, BuildSearchQuery(p))
	if err != nil {
		return nil, err
	}
	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := &SearchResult{
		Total:      resp.Hits.Total.Value,
		Books:      make([]SearchHit, 0, len(resp.Hits.Hits)),
		Page:       p.Page,
		TotalPages: int(math.Ceil(float64(resp.Hits.Total.Value) / float64(p.PageSize))),
	}
	for _, h := range resp.Hits.Hits {
		out.Books = append(out.Books, SearchHit{ID: h.ID, IndexedBook: h.Source, Score: h.Score})
	}
	return out, nil
}

func (s *SearchService) Suggest(ctx context.Context, prefix string, limit int) (*Suggestions, error) {
	if limit <= 0 {
		limit = 5
	}
	raw, err := s.query(ctx, BuildSuggestQuery(prefix, limit*2))
	if err != nil {
		return nil, err
	}
	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode suggest response: %w", err)
	}
	return collectSuggestions(prefix, resp, limit), nil
}

// collectSuggestions keeps distinct titles and authors that actually start
// with one of the prefix's words, in hit order.
func collectSuggestions(prefix string, resp searchResponse, limit int) *Suggestions {
	out := &Suggestions{Titles: []string{}, Authors: []string{}}
	p := strings.ToLower(strings.TrimSpace(prefix))
	matches := func(s string) bool {
		s = strings.ToLower(s)
		if strings.HasPrefix(s, p) {
			return true
		}
		for _, w := range strings.Fields(s) {
			if strings.HasPrefix(w, p) {
				return true
			}
		}
		return false
	}
	seenT, seenA := map[string]bool{}, map[string]bool{}
	for _, h := range resp.Hits.Hits {
		if t := h.Source.Title; t != "" && !seenT[t] && len(out.Titles) < limit && matches(t) {
			seenT[t] = true
			out.Titles = append(out.Titles, t)
		}
		if a := h.Source.Author; a != "" && !seenA[a] && len(out.Authors) < limit && matches(a) {
			seenA[a] = true
			out.Authors = append(out.Authors, a)
		}
	}
	return out
}

func (s *SearchService) query(ctx context.Context, q map[string]any) ([]byte, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	return s.exec(func() (*esapi.Response, error) {
		return s.es.Search(
			s.es.Search.WithContext(ctx),
			s.es.Search.WithIndex(s.index),
			s.es.Search.WithBody(bytes.NewReader(body)),
		)
	})
}

// exec runs one request through the breaker and returns the response body.
func (s *SearchService) exec(call func() (*esapi.Response, error)) ([]byte, error) {
	raw, err := s.cb.Execute(func() ([]byte, error) {
		return s.do(call())
	})
	return raw, breakerErr("elasticsearch", err)
}

func (s *SearchService) do(res *esapi.Response, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: elasticsearch: %s", ErrBadQuery, truncate(string(raw), 200))
	}
	if res.IsError() {
		return nil, errors.New("elasticsearch: " + res.Status() + ": " + truncate(string(raw), 200))
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
