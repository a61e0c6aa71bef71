package service

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/metrics"
)

// ErrUnavailable is returned while an upstream's circuit is open.
var ErrUnavailable = errors.New("upstream temporarily unavailable")

// newBreaker trips after five consecutive failures, or a 60% failure rate
// over at least ten requests, and probes again after 30s. Errors for which
// benign returns true do not count against the upstream.
func newBreaker[T any](name string, benign func(error) bool) *gobreaker.CircuitBreaker[T] {
	metrics.CircuitState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.ConsecutiveFailures >= 5 {
				return true
			}
			return c.Requests >= 10 && float64(c.TotalFailures)/float64(c.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || (benign != nil && benign(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

// breakerErr folds the breaker's own rejections into ErrUnavailable.
func breakerErr(upstream string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrUnavailable, err)
	}
	if errors.Is(err, ErrBadQuery) {
		return err
	}
	metrics.UpstreamErrors.WithLabelValues(upstream).Inc()
	return err
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
