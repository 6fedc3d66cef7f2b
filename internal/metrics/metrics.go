// Package metrics exposes Prometheus collectors for the tap.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// domainPropertyPrefix marks Search Console domain properties.
const domainPropertyPrefix = "sc-domain:"

var (
	apiRequestsTotal           *prometheus.CounterVec
	apiRequestDurationSeconds  *prometheus.HistogramVec
	apiRetriesTotal            *prometheus.CounterVec
	tapRecordsTotal            *prometheus.CounterVec
	tapPassesTotal             *prometheus.CounterVec
	tapRunsTotal               *prometheus.CounterVec
	tapActiveRuns              prometheus.Gauge
	tapRateLimitDelaysSeconds  *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_api_requests_total",
				Help: "Search Console API calls, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		apiRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tap_api_request_duration_seconds",
				Help:    "Latency of Search Console API calls, labeled by operation.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		)

		apiRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_api_retries_total",
				Help: "Retried Search Console API calls, labeled by operation.",
			},
			[]string{"operation"},
		)

		tapRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_records_total",
				Help: "Records emitted, labeled by stream and site.",
			},
			[]string{"stream", "site"},
		)

		tapPassesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_passes_total",
				Help: "Extraction passes finished, labeled by stream and outcome.",
			},
			[]string{"stream", "outcome"},
		)

		tapRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_runs_total",
				Help: "Sync runs processed, labeled by status.",
			},
			[]string{"status"},
		)

		tapActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tap_active_runs",
				Help: "Number of sync runs currently executing.",
			},
		)

		tapRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tap_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite reduces a Search Console property to a lowercase host label.
// Domain properties ("sc-domain:example.com") map to their domain. It returns
// "unknown" if nothing usable remains.
func SanitizeSite(property string) string {
	if rest, ok := strings.CutPrefix(property, domainPropertyPrefix); ok {
		if rest = strings.TrimSpace(rest); rest != "" {
			return strings.ToLower(rest)
		}
		return "unknown"
	}
	if !strings.HasPrefix(property, "http") {
		property = "http://" + property
	}
	u, err := url.Parse(property)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveAPICall records one Search Console API call.
func ObserveAPICall(operation string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	apiRequestsTotal.WithLabelValues(operation, outcome).Inc()
	apiRequestDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveAPIRetry increments the retry counter for operation.
func ObserveAPIRetry(operation string) {
	apiRetriesTotal.WithLabelValues(operation).Inc()
}

// ObserveRecords adds n emitted records for stream and site.
func ObserveRecords(stream, site string, n int) {
	if n <= 0 {
		return
	}
	tapRecordsTotal.WithLabelValues(stream, SanitizeSite(site)).Add(float64(n))
}

// ObservePass records a finished extraction pass.
func ObservePass(stream string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	tapPassesTotal.WithLabelValues(stream, outcome).Inc()
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	tapRunsTotal.WithLabelValues(status).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	tapActiveRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	tapActiveRuns.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	tapRateLimitDelaysSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
