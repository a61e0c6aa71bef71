// Package metrics holds the Prometheus collectors and the in-process request counter.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookcatalog_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookcatalog_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookcatalog_backups_total",
			Help: "Backups by outcome",
		},
		[]string{"status"},
	)

	BackupSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookcatalog_backup_size_bytes",
			Help: "Size of the most recent successful backup",
		},
	)

	CollectorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookcatalog_collector_runs_total",
			Help: "Background job runs by job and outcome",
		},
		[]string{"job", "status"},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookcatalog_upstream_errors_total",
			Help: "Failed calls to external services",
		},
		[]string{"upstream"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookcatalog_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

func RecordRequest(method, route string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordJob(job string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	CollectorRuns.WithLabelValues(job, status).Inc()
}
