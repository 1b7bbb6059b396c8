package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
	"github.com/odyssey-erp/odyssey-cmms/internal/meters"
	"github.com/odyssey-erp/odyssey-cmms/internal/platform/httpx"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	degraded        *prometheus.CounterVec
	movements       *prometheus.CounterVec
	readings        *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry, metrik HTTP, dan metrik domain.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmms_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cmms_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	degraded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmms_degraded_outcomes_total",
		Help: "Committed requests whose side effect failed, by route and effect.",
	}, []string{"route", "effect"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmms_stock_movements_total",
		Help: "Stock ledger entries posted, by movement type.",
	}, []string{"type"})
	readings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmms_meter_readings_total",
		Help: "Meter readings recorded, by kind.",
	}, []string{"kind"})
	registry.MustRegister(requests, duration, degraded, movements, readings)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		degraded:        degraded,
		movements:       movements,
		readings:        readings,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
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
		if effects := recorder.Header().Get(httpx.DegradedHeader); effects != "" {
			for _, effect := range strings.Split(effects, ",") {
				m.degraded.WithLabelValues(route, effect).Inc()
			}
		}
	})
}

// ObserveMovement menghitung entri ledger yang sudah commit.
func (m *Metrics) ObserveMovement(entry inventory.LedgerEntry) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(string(entry.Type)).Inc()
}

// ObserveReading menghitung pembacaan meter, memisahkan rollback dan late entry.
func (m *Metrics) ObserveReading(reading meters.Reading) {
	if m == nil {
		return
	}
	kind := "forward"
	switch {
	case reading.IsRollback:
		kind = "rollback"
	case reading.IsLateEntry:
		kind = "late"
	}
	m.readings.WithLabelValues(kind).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
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
