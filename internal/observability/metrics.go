package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the API and the worker.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	recomputes      *prometheus.HistogramVec
	warnings        *prometheus.CounterVec
	reportRows      *prometheus.GaugeVec
	exportsTotal    *prometheus.CounterVec
	exportDuration  prometheus.Histogram
	changesTotal    *prometheus.CounterVec
}

// NewMetrics creates a private registry with every saldo metric registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saldo_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saldo_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	recomputes := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saldo_balance_recompute_seconds",
		Help:    "Time spent rebuilding a balance table from a snapshot.",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"scope"})
	warnings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saldo_balance_warnings_total",
		Help: "Expenses skipped or adjusted while computing balances.",
	}, []string{"scope"})
	rows := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "saldo_balance_rows",
		Help: "Rows in the most recent balance table.",
	}, []string{"scope"})
	exports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saldo_exports_total",
		Help: "Balance export attempts by result.",
	}, []string{"result"})
	exportDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "saldo_export_duration_seconds",
		Help:    "Duration of balance export calls.",
		Buckets: prometheus.DefBuckets,
	})
	changes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saldo_changes_consumed_total",
		Help: "Change messages consumed from the broker by kind.",
	}, []string{"kind"})
	registry.MustRegister(requests, duration, recomputes, warnings, rows, exports, exportDuration, changes)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		recomputes:      recomputes,
		warnings:        warnings,
		reportRows:      rows,
		exportsTotal:    exports,
		exportDuration:  exportDuration,
		changesTotal:    changes,
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

// Middleware records count and latency for every HTTP request, labelled by
// the chi route pattern.
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

// ObserveRecompute records one balance table rebuild. scope is "global" or
// "user" so per-user scopes do not explode label cardinality.
func (m *Metrics) ObserveRecompute(scope string, took time.Duration, rows, warnings int) {
	if m == nil {
		return
	}
	m.recomputes.WithLabelValues(scope).Observe(took.Seconds())
	m.reportRows.WithLabelValues(scope).Set(float64(rows))
	if warnings > 0 {
		m.warnings.WithLabelValues(scope).Add(float64(warnings))
	}
}

func (m *Metrics) ObserveExport(err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.exportsTotal.WithLabelValues(result).Inc()
	m.exportDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveChange(kind string) {
	if m == nil {
		return
	}
	m.changesTotal.WithLabelValues(kind).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming responses working behind the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
