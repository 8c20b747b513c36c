// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stockline/stockline-backend/pkg/httputil"
)

// Metrics groups every collector the inventory service records.
type Metrics struct {
	registry *prometheus.Registry

	LedgerOps          *prometheus.CounterVec
	LedgerConflicts    prometheus.Counter
	UnitsReserved      prometheus.Counter
	ReservationsClosed *prometheus.CounterVec
	AllocationShort    *prometheus.CounterVec
	TransferLines      *prometheus.CounterVec
	ThresholdAlerts    *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	SweepReleased      prometheus.Counter
	HTTPDuration       *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry alongside the Go and process collectors.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LedgerOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		LedgerConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_conflicts_total",
			Help:      "Ledger mutations that exhausted their retries.",
		}),
		UnitsReserved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_reserved_total",
			Help:      "Units placed on hold.",
		}),
		ReservationsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_closed_total",
			Help:      "Reservations leaving the active state, by terminal status.",
		}, []string{"status"}),
		AllocationShort: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_shortfall_units_total",
			Help:      "Units requested from a pool that could not be allocated.",
		}, []string{"strategy"}),
		TransferLines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_lines_total",
			Help:      "Transfer lines by outcome.",
		}, []string{"outcome"}),
		ThresholdAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_alerts_total",
			Help:      "Low and out-of-stock crossings detected.",
		}, []string{"kind"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_duration_seconds",
			Help:      "Time spent per expiry sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		SweepReleased: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_released_total",
			Help:      "Reservations released by the expiry sweeper.",
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP latency by route pattern, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument records request latency keyed by the chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &httputil.ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.HTTPDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(wrapped.StatusCode)).
			Observe(time.Since(start).Seconds())
	})
}

// Outcome maps an error to the "outcome" label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
