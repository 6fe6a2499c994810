// Package observability exposes Prometheus metrics for the portal.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the portal's Prometheus metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	collectTotal    *prometheus.CounterVec
	collectedAmount *prometheus.CounterVec
	collectItems    *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and fee collection metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	collects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_fee_collect_total",
		Help: "Fee collection attempts by outcome and payment mode.",
	}, []string{"outcome", "mode"})
	amount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_fee_collected_amount_total",
		Help: "Money recorded by successful collections, by payment mode.",
	}, []string{"mode"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_fee_collect_items_total",
		Help: "Collection items by result.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, collects, amount, items)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		collectTotal:    collects,
		collectedAmount: amount,
		collectItems:    items,
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

// Middleware records request count and latency per route pattern.
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

// ObserveCollect records the outcome of one collection attempt.
func (m *Metrics) ObserveCollect(outcome, mode string, amount float64, recorded, skipped int) {
	if m == nil {
		return
	}
	if mode == "" {
		mode = "UNKNOWN"
	}
	m.collectTotal.WithLabelValues(outcome, mode).Inc()
	if amount > 0 {
		m.collectedAmount.WithLabelValues(mode).Add(amount)
	}
	if recorded > 0 {
		m.collectItems.WithLabelValues("recorded").Add(float64(recorded))
	}
	if skipped > 0 {
		m.collectItems.WithLabelValues("skipped").Add(float64(skipped))
	}
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
