package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics instruments the admin API on its own registry.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	rejectedTotal   *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "autoresponder",
			Subsystem:   "admin_api",
			Name:        "requests_total",
			Help:        "Admin API requests by route and status.",
			ConstLabels: constLabels,
		},
		[]string{"method", "route", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "autoresponder",
			Subsystem:   "admin_api",
			Name:        "request_duration_seconds",
			Help:        "Admin API request duration in seconds.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		},
		[]string{"method", "route"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "autoresponder",
			Subsystem:   "admin_api",
			Name:        "in_flight_requests",
			Help:        "Admin API requests currently being served.",
			ConstLabels: constLabels,
		},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "autoresponder",
			Subsystem:   "admin_api",
			Name:        "rejected_total",
			Help:        "Requests shed by traffic control, by reason.",
			ConstLabels: constLabels,
		},
		[]string{"reason"},
	)

	registry.MustRegister(requestTotal, requestDuration, requestInFlight, rejectedTotal)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		rejectedTotal:   rejectedTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records every request under its route template. Responses
// carrying Retry-After with 429 or 503 count as traffic-control rejections.
func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeTemplate(r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(rec, r)

		m.requestTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if reason := rejectionReason(rec); reason != "" {
			m.rejectedTotal.WithLabelValues(reason).Inc()
		}
	})
}

func rejectionReason(rec *statusRecorder) string {
	if rec.Header().Get("Retry-After") == "" {
		return ""
	}
	switch rec.statusCode {
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "overloaded"
	default:
		return ""
	}
}

// routeTemplate collapses escalation ids so label cardinality stays bounded.
func routeTemplate(path string) string {
	rest, ok := strings.CutPrefix(path, "/v1/escalations/")
	if !ok || rest == "" {
		return path
	}
	switch {
	case strings.HasSuffix(rest, "/assign"):
		return "/v1/escalations/{id}/assign"
	case strings.HasSuffix(rest, "/resolve"):
		return "/v1/escalations/{id}/resolve"
	default:
		return "/v1/escalations/{id}"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
