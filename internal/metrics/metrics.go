// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Digest run outcomes.
const (
	OutcomeSent       = "sent"
	OutcomeDuplicate  = "duplicate"
	OutcomeInProgress = "in_progress"
	OutcomeError      = "error"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certtrack_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certtrack_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	digestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certtrack_digest_runs_total",
			Help: "Total digest runs by outcome",
		},
		[]string{"outcome"},
	)

	digestExpiringRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "certtrack_digest_expiring_records",
			Help: "Expiring records found by the most recent digest run",
		},
	)

	digestSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "certtrack_digest_run_duration_seconds",
			Help:    "End-to-end digest run duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "certtrack_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDigestRun records the outcome and duration of a digest run.
func RecordDigestRun(outcome string, duration time.Duration) {
	digestRunsTotal.WithLabelValues(outcome).Inc()
	digestSendDuration.Observe(duration.Seconds())
}

// SetExpiringRecords records the record count of the latest run.
func SetExpiringRecords(count int) {
	digestExpiringRecords.Set(float64(count))
}

// RecordRateLimitRejection records a rate limit rejection.
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
