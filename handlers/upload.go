package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/kevinaaaquil/bookcatalog/logging"
)

// coverPrefix keeps cover keys flat so a key can travel as one path segment.
const coverPrefix = "cover-"

const placeholderBaseURL = "https://api.dicebear.com/7.x/initials/svg"

var coverKeyPattern = regexp.MustCompile(`^cover-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.(jpg|jpeg|png|webp)$`)

// allowedImageTypes maps detected MIME types to the stored extension.
var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type ImageStore interface {
	Upload(ctx context.Context, prefix, originalFilename string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

type UploadHandler struct {
	Images   ImageStore // nil when uploads are not configured
	MaxBytes int64
}

type ImageResponse struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

type PlaceholderResponse struct {
	URL string `json:"url"`
}

func (h *UploadHandler) Single(w http.ResponseWriter, r *http.Request) {
	if h.Images == nil {
		writeError(w, r, http.StatusServiceUnavailable, "upload not configured", nil)
		return
	}
	resp, ok := h.store(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Replace uploads the new image first and removes the old one afterwards, so
// a failed upload leaves the old cover in place.
func (h *UploadHandler) Replace(w http.ResponseWriter, r *http.Request) {
	if h.Images == nil {
		writeError(w, r, http.StatusServiceUnavailable, "upload not configured", nil)
		return
	}
	old, ok := coverKeyParam(w, r)
	if !ok {
		return
	}
	resp, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := h.Images.Delete(r.Context(), old); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("key", old).Msg("delete replaced image")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.Images == nil {
		writeError(w, r, http.StatusServiceUnavailable, "upload not configured", nil)
		return
	}
	key, ok := coverKeyParam(w, r)
	if !ok {
		return
	}
	if err := h.Images.Delete(r.Context(), key); err != nil {
		writeError(w, r, http.StatusInternalServerError, "error deleting image", err)
		return
	}
	writeMessage(w, http.StatusOK, "Image deleted successfully")
}

func (h *UploadHandler) Placeholder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PlaceholderResponse{URL: PlaceholderURL(chi.URLParam(r, "title"))})
}

// PlaceholderURL is a generated initials image for a book without a cover.
func PlaceholderURL(title string) string {
	q := url.Values{}
	q.Set("seed", title)
	q.Set("backgroundColor", "random")
	return placeholderBaseURL + "?" + q.Encode()
}

// store reads the "image" form file, checks its real type and size and
// uploads it.
func (h *UploadHandler) store(w http.ResponseWriter, r *http.Request) (*ImageResponse, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes+(1<<20))
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "file too large", nil)
			return nil, false
		}
		writeError(w, r, http.StatusBadRequest, "No file uploaded", nil)
		return nil, false
	}
	defer file.Close()
	if header.Size > h.MaxBytes {
		writeError(w, r, http.StatusRequestEntityTooLarge, "file too large", nil)
		return nil, false
	}
	data, err := io.ReadAll(io.LimitReader(file, h.MaxBytes+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to read file", err)
		return nil, false
	}
	if int64(len(data)) > h.MaxBytes {
		writeError(w, r, http.StatusRequestEntityTooLarge, "file too large", nil)
		return nil, false
	}

	mt := mimetype.Detect(data)
	ext, ok := allowedImageTypes[mt.String()]
	if !ok {
		writeError(w, r, http.StatusBadRequest, "only jpg, jpeg, png and webp images are allowed", nil)
		return nil, false
	}
	key, err := h.Images.Upload(r.Context(), coverPrefix, "image"+ext, bytes.NewReader(data), mt.String())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "error uploading image", err)
		return nil, false
	}
	return &ImageResponse{URL: h.Images.URL(key), PublicID: key}, true
}

func coverKeyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "publicId")
	if !coverKeyPattern.MatchString(key) {
		writeError(w, r, http.StatusBadRequest, "invalid image id", nil)
		return "", false
	}
	return key, true
}
