package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/metrics"
	"github.com/kevinaaaquil/bookcatalog/models"
)

const RequestIDHeader = "X-Request-ID"

// RequestID propagates an incoming X-Request-ID or generates one, and puts it
// on the context for logging.Ctx.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = logging.NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// RequestLogger writes one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ev := logging.Ctx(r.Context()).Info()
		if status >= 500 {
			ev = logging.Ctx(r.Context()).Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// Track counts every finished request in counter and in the Prometheus
// request metrics, labelled by route pattern.
func Track(counter *metrics.RequestCounter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			counter.Record(status)
			metrics.RecordRequest(r.Method, routePattern(r), status, time.Since(start))
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type ErrorRecorder interface {
	PushError(ctx context.Context, e models.ErrorEntry) error
}

// ErrorLog appends responses with status >= 400 to the analytics error log.
// The write happens off the request path and never affects the response.
// The caller identity is read from a holder filled in by Auth further down
// the chain, so ErrorLog can sit in front of the routers.
func ErrorLog(rec ErrorRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			holder := &identityHolder{}
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), holderKey, holder)))

			status := ww.Status()
			if status < http.StatusBadRequest {
				return
			}
			entry := models.ErrorEntry{
				Timestamp:  time.Now().UTC(),
				Error:      http.StatusText(status),
				Endpoint:   r.URL.RequestURI(),
				Method:     r.Method,
				StatusCode: status,
				User:       holder.id.UserID,
			}
			ctx := context.WithoutCancel(r.Context())
			go func() {
				ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				if err := rec.PushError(ctx, entry); err != nil {
					logging.Ctx(ctx).Warn().Err(err).Msg("record error entry")
				}
			}()
		})
	}
}

const holderKey contextKey = "identity-holder"

type identityHolder struct {
	id Identity
}

func rememberIdentity(ctx context.Context, id Identity) {
	if h, ok := ctx.Value(holderKey).(*identityHolder); ok {
		h.id = id
	}
}
