// Package instrumentation defines the Prometheus metrics exposed at
// /metrics. All collectors are registered on the default registry at init
// so callers record through package functions without plumbing.
package instrumentation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dbfleet"

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Finished executions by kind and terminal status.",
	}, []string{"kind", "status"})

	statementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "statement_duration_seconds",
		Help:      "Wall-clock duration of individual SQL statements.",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"cloud", "status"})

	scanKeys = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_keys_total",
		Help:      "Keys found and deleted by cache scans.",
	}, []string{"cloud", "action"})

	poolHandles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_handles",
		Help:      "Live connection pool handles by kind.",
	}, []string{"kind"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// ExecutionFinished records a terminal execution. Kind is "sql" or "scan".
func ExecutionFinished(kind, status string) {
	executionsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveStatement records one SQL statement's duration.
func ObserveStatement(cloud, status string, d time.Duration) {
	statementDuration.WithLabelValues(cloud, status).Observe(d.Seconds())
}

// ScanKeysFound adds to the found-key counter for a cloud.
func ScanKeysFound(cloud string, n int) {
	scanKeys.WithLabelValues(cloud, "found").Add(float64(n))
}

// ScanKeysDeleted adds to the deleted-key counter for a cloud.
func ScanKeysDeleted(cloud string, n int) {
	scanKeys.WithLabelValues(cloud, "deleted").Add(float64(n))
}

// SetPoolHandles publishes the current handle count for a pool kind.
func SetPoolHandles(kind string, n int) {
	poolHandles.WithLabelValues(kind).Set(float64(n))
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(route string, code string, d time.Duration) {
	httpRequests.WithLabelValues(route, code).Inc()
	httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
