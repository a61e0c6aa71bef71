package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/metrics"
)

// HTTPServer is satisfied by *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// JobFunc is one run of a background job.
type JobFunc func(ctx context.Context) error

// PeriodicJob runs fn every interval. A failed run is logged and counted; the
// next tick tries again.
type PeriodicJob struct {
	name     string
	interval time.Duration
	fn       JobFunc
	// runAtStart triggers one run before the first tick.
	runAtStart bool
}

func NewPeriodicJob(name string, interval time.Duration, runAtStart bool, fn JobFunc) *PeriodicJob {
	return &PeriodicJob{name: name, interval: interval, fn: fn, runAtStart: runAtStart}
}

func (j *PeriodicJob) Serve(ctx context.Context) error {
	if j.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", j.name)
	}
	if j.runAtStart {
		run(ctx, j.name, j.fn)
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run(ctx, j.name, j.fn)
		}
	}
}

func (j *PeriodicJob) String() string { return j.name }

// DailyJob runs fn once a day, sleeping for until(now) before each run.
type DailyJob struct {
	name  string
	fn    JobFunc
	until func(now time.Time) time.Duration
	now   func() time.Time
}

func NewDailyJob(name string, until func(time.Time) time.Duration, fn JobFunc) *DailyJob {
	return &DailyJob{name: name, fn: fn, until: until, now: time.Now}
}

func (j *DailyJob) Serve(ctx context.Context) error {
	for {
		timer := time.NewTimer(j.until(j.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			run(ctx, j.name, j.fn)
		}
	}
}

func (j *DailyJob) String() string { return j.name }

func run(ctx context.Context, name string, fn JobFunc) {
	start := time.Now()
	err := fn(ctx)
	metrics.RecordJob(name, err)
	if err != nil {
		if ctx.Err() == nil {
			logging.Error().Err(err).Str("job", name).Msg("job failed")
		}
		return
	}
	logging.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("job finished")
}
