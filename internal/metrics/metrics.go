// Package metrics owns the Prometheus registry for the backend. Each Metrics
// has its own registry, so tests can build as many as they like.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SalesCreated       *prometheus.CounterVec
	SalesCanceled      prometheus.Counter
	StockMovements     *prometheus.CounterVec
	StockConflicts     *prometheus.CounterVec
	UnitOfWorkDuration *prometheus.HistogramVec
	EventsPublished    *prometheus.CounterVec
	ReportCacheLookups *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
	m.SalesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_created_total",
			Help:      "Sales committed, by payment method",
		},
		[]string{"payment"},
	)
	m.SalesCanceled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_canceled_total",
			Help:      "Sales canceled with stock returned",
		},
	)
	m.StockMovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movements_total",
			Help:      "Ledger entries written, by movement type",
		},
		[]string{"type"},
	)
	m.StockConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_conflicts_total",
			Help:      "Rejected stock operations, by reason",
		},
		[]string{"reason"},
	)
	m.UnitOfWorkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_of_work_duration_seconds",
			Help:      "Duration of atomic units of work, by operation and outcome",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)
	m.EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events handed to the publisher, by type and status",
		},
		[]string{"event_type", "status"},
	)
	m.ReportCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cache_lookups_total",
			Help:      "Report cache lookups, by result",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SalesCreated,
		m.SalesCanceled,
		m.StockMovements,
		m.StockConflicts,
		m.UnitOfWorkDuration,
		m.EventsPublished,
		m.ReportCacheLookups,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordSaleCreated(payment string) {
	m.SalesCreated.WithLabelValues(payment).Inc()
}

func (m *Metrics) RecordSaleCanceled() {
	m.SalesCanceled.Inc()
}

func (m *Metrics) RecordMovement(movementType string, n int) {
	m.StockMovements.WithLabelValues(movementType).Add(float64(n))
}

func (m *Metrics) RecordConflict(reason string) {
	m.StockConflicts.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveUnitOfWork(op string, outcome string, d time.Duration) {
	m.UnitOfWorkDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
}

func (m *Metrics) RecordEvent(eventType string, status string) {
	m.EventsPublished.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ReportCacheLookups.WithLabelValues(result).Inc()
}

// unmatchedRoute labels requests no route claimed, keeping raw paths out of
// the label set.
const unmatchedRoute = "unmatched"

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
