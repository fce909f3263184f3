package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the API process.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	matches         *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
}

// NewMetrics creates a private registry with the HTTP and domain collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fakturace_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fakturace_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	matches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fakturace_payment_matches_total",
		Help: "Payment matching attempts by tier.",
	}, []string{"tier"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fakturace_extraction_fallbacks_total",
		Help: "Extractions that fell back to regular expressions.",
	}, []string{"component"})
	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fakturace_assistant_dispatch_total",
		Help: "Assistant tool dispatches by tool and outcome.",
	}, []string{"tool", "outcome"})
	registry.MustRegister(requests, duration, matches, fallbacks, dispatches)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		matches:         matches,
		fallbacks:       fallbacks,
		dispatches:      dispatches,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveMatch counts one matching attempt.
func (m *Metrics) ObserveMatch(tier string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(tier).Inc()
}

// ObserveFallback counts one regex fallback.
func (m *Metrics) ObserveFallback(component string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(component).Inc()
}

// ObserveDispatch counts one assistant dispatch.
func (m *Metrics) ObserveDispatch(tool, outcome string) {
	if m == nil {
		return
	}
	if tool == "" {
		tool = "none"
	}
	m.dispatches.WithLabelValues(tool, outcome).Inc()
}

// Registerer exposes the registry for collectors owned by other packages.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
