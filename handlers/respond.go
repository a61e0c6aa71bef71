package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/service"
	"github.com/kevinaaaquil/bookcatalog/store"
	"github.com/kevinaaaquil/bookcatalog/utils"
)

// maxJSONBody caps request bodies decoded as JSON.
const maxJSONBody = 1 << 20

var exposeErrors atomic.Bool

// ExposeErrorDetails controls whether error responses carry the underlying
// error text. Enabled in development only.
func ExposeErrorDetails(on bool) {
	exposeErrors.Store(on)
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	resp := errorResponse{Message: msg}
	if err != nil {
		if status >= http.StatusInternalServerError {
			logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg(msg)
		}
		if exposeErrors.Load() {
			resp.Error = err.Error()
		}
	}
	writeJSON(w, status, resp)
}

// writeFailure maps well-known errors to their status codes. Anything else is
// a 500 with msg.
func writeFailure(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, notFoundMessage(msg), err)
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, r, http.StatusNotFound, "backup not found", err)
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, r, http.StatusConflict, "resource already exists", err)
	case errors.Is(err, utils.ErrInvalidISBN):
		writeError(w, r, http.StatusBadRequest, "invalid ISBN", err)
	case errors.Is(err, models.ErrInvalidBackup), errors.Is(err, service.ErrBackupLocator):
		writeError(w, r, http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, service.ErrBadQuery):
		writeError(w, r, http.StatusBadRequest, "invalid search query", err)
	case errors.Is(err, service.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable", err)
	case errors.As(err, &verrs):
		writeError(w, r, http.StatusBadRequest, validationMessage(verrs), nil)
	default:
		writeError(w, r, http.StatusInternalServerError, msg, err)
	}
}

func notFoundMessage(msg string) string {
	if strings.Contains(msg, "not found") {
		return msg
	}
	return "not found"
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("genre", func(fl validator.FieldLevel) bool {
		return models.ValidGenre(fl.Field().String())
	})
	_ = v.RegisterValidation("readingstatus", func(fl validator.FieldLevel) bool {
		return models.ValidReadingStatus(fl.Field().String())
	})
	_ = v.RegisterValidation("isbn", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || utils.ValidateISBN(s)
	})
	return v
}

func validationMessage(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "min", "gte":
			parts = append(parts, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max", "lte":
			parts = append(parts, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "email":
			parts = append(parts, field+" must be a valid email")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "genre":
			parts = append(parts, fmt.Sprintf("%s: %q is not a known genre", field, fe.Value()))
		case "readingstatus":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", field,
				strings.Join([]string{models.StatusWantToRead, models.StatusCurrentlyReading, models.StatusRead}, ", ")))
		case "isbn":
			parts = append(parts, field+" has an invalid checksum")
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the 400 itself and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, r, http.StatusBadRequest, validationMessage(verrs), nil)
			return false
		}
		writeError(w, r, http.StatusBadRequest, "invalid request", err)
		return false
	}
	return true
}

func objectIDParam(w http.ResponseWriter, r *http.Request, name, what string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid "+what+" id", nil)
		return primitive.NilObjectID, false
	}
	return id, true
}
