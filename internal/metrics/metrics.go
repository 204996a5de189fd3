package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheLookupsTotal counts interceptor outcomes per key family.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_lookups_total",
			Help: "Response cache lookups by key family and outcome (hit, miss, bypass).",
		},
		[]string{"family", "outcome"},
	)

	// StoreOpsTotal counts store client operations by result.
	StoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_store_ops_total",
			Help: "Key-value store operations by op and result (ok, miss, fail, noop).",
		},
		[]string{"op", "result"},
	)

	// StoreConnected is 1 while the store client is Connected.
	StoreConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_cache_store_connected",
			Help: "Whether the key-value store client is connected (1) or degraded (0).",
		},
	)

	// BackgroundWritesTotal counts cache writes handed to the background writer.
	BackgroundWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_background_writes_total",
			Help: "Background cache writes by result (stored, failed, dropped).",
		},
		[]string{"result"},
	)

	// InvalidationTargetsTotal counts invalidation targets by kind and result.
	InvalidationTargetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_invalidation_targets_total",
			Help: "Invalidation targets processed by kind (key, pattern) and result (ok, fail).",
		},
		[]string{"kind", "result"},
	)

	// InvalidatedKeysTotal sums keys reported deleted by invalidation.
	InvalidatedKeysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_cache_invalidated_keys_total",
			Help: "Keys reported deleted by invalidation (informational).",
		},
	)

	// HTTPLatencySeconds is the API latency histogram.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheLookupsTotal,
		StoreOpsTotal,
		StoreConnected,
		BackgroundWritesTotal,
		InvalidationTargetsTotal,
		InvalidatedKeysTotal,
		HTTPLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency per chi route pattern, so /v1/products/42 and
// /v1/products/43 share one series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		HTTPLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
