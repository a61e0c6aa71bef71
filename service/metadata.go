package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/utils"
)

var ErrBookNotFound = errors.New("book not found")

type volumesResp struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo volumeInfo `json:"volumeInfo"`
	} `json:"items"`
}

type volumeInfo struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	PublishedDate string   `json:"publishedDate"`
	Description   string   `json:"description"`
	PageCount     int      `json:"pageCount"`
	Categories    []string `json:"categories"`
	ImageLinks    *struct {
		Thumbnail string `json:"thumbnail"`
	} `json:"imageLinks"`
	IndustryIdentifiers []struct {
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
	} `json:"industryIdentifiers"`
	AverageRating float64 `json:"averageRating"`
	RatingsCount  int     `json:"ratingsCount"`
}

// BookMetadata is a lookup result shaped like a book create request so the
// frontend can prefill its form.
type BookMetadata struct {
	Title         string        `json:"title"`
	Author        string        `json:"author"`
	PublishYear   *int          `json:"publishYear"`
	Description   string        `json:"description"`
	PageCount     int           `json:"pageCount,omitempty"`
	Genres        []string      `json:"genres"`
	CoverImage    *models.Cover `json:"coverImage"`
	ISBN          string        `json:"isbn"`
	AverageRating float64       `json:"averageRating"`
	TotalReviews  int           `json:"totalReviews"`
}

// MetadataClient talks to the Google Books volumes API.
type MetadataClient struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[*volumesResp]
}

func NewMetadataClient(baseURL string, timeout time.Duration) *MetadataClient {
	return &MetadataClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		cb:      newBreaker[*volumesResp]("google-books", nil),
	}
}

// LookupISBN returns metadata for the first volume matching isbn.
func (c *MetadataClient) LookupISBN(ctx context.Context, isbn string) (*BookMetadata, error) {
	isbn = utils.NormalizeISBN(strings.TrimSpace(isbn))
	if isbn == "" {
		return nil, errors.New("isbn is required")
	}
	q := url.Values{}
	q.Set("q", "isbn:"+isbn)
	data, err := c.volumes(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(data.Items) == 0 {
		return nil, ErrBookNotFound
	}
	meta := toMetadata(data.Items[0].VolumeInfo)
	meta.ISBN = isbn
	return meta, nil
}

// SearchVolumes runs a free-text query. It returns an empty slice when nothing matches.
func (c *MetadataClient) SearchVolumes(ctx context.Context, query string, limit int) ([]BookMetadata, error) {
	if limit <= 0 || limit > 40 {
		limit = 10
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("maxResults", strconv.Itoa(limit))
	data, err := c.volumes(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]BookMetadata, 0, len(data.Items))
	for _, it := range data.Items {
		meta := toMetadata(it.VolumeInfo)
		meta.ISBN = preferredIdentifier(it.VolumeInfo)
		out = append(out, *meta)
	}
	return out, nil
}

func (c *MetadataClient) volumes(ctx context.Context, q url.Values) (*volumesResp, error) {
	data, err := c.cb.Execute(func() (*volumesResp, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/volumes?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("google books returned %d", resp.StatusCode)
		}
		var out volumesResp
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	return data, breakerErr("google-books", err)
}

func toMetadata(vi volumeInfo) *BookMetadata {
	meta := &BookMetadata{
		Title:         vi.Title,
		Author:        "Unknown",
		Description:   vi.Description,
		PageCount:     vi.PageCount,
		Genres:        vi.Categories,
		AverageRating: vi.AverageRating,
		TotalReviews:  vi.RatingsCount,
	}
	if meta.Genres == nil {
		meta.Genres = []string{}
	}
	if len(vi.Authors) > 0 {
		meta.Author = vi.Authors[0]
	}
	if len(vi.PublishedDate) >= 4 {
		if y, err := strconv.Atoi(vi.PublishedDate[:4]); err == nil {
			meta.PublishYear = &y
		}
	}
	if vi.ImageLinks != nil && vi.ImageLinks.Thumbnail != "" {
		meta.CoverImage = &models.Cover{URL: strings.Replace(vi.ImageLinks.Thumbnail, "http:", "https:", 1)}
	}
	return meta
}

func preferredIdentifier(vi volumeInfo) string {
	for _, id := range vi.IndustryIdentifiers {
		if id.Type == "ISBN_13" {
			return id.Identifier
		}
	}
	if len(vi.IndustryIdentifiers) > 0 {
		return vi.IndustryIdentifiers[0].Identifier
	}
	return ""
}
