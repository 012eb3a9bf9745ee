package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// metricsRegistry holds the facade's Prometheus collectors. Provider-pool
// and dispatcher-internal metrics stay inside their own packages; these
// cover only the HTTP boundary the composition root owns.
type metricsRegistry struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tracer          trace.Tracer
}

// newMetrics registers the facade's collectors against the default registry
// and obtains a tracer from the global otel TracerProvider. go.mod carries
// only the otel API packages (otel, otel/metric, otel/trace), not an SDK or
// exporter, so this tracer is a no-op unless a deployment separately
// registers a TracerProvider via otel.SetTracerProvider; see DESIGN.md.
func newMetrics() *metricsRegistry {
	return &metricsRegistry{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "resolverd_http_requests_total",
			Help: "Total HTTP requests served by the resolution core's facade.",
		}, []string{"method", "path", "status"}),
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resolverd_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		tracer: otel.Tracer("resolverd"),
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.Handler()
}

// instrument wraps every request with a span and records its outcome. routes
// are recorded as the chi pattern when available so label cardinality stays
// bounded (no raw path params).
func (m *metricsRegistry) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := m.tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		m.requestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
