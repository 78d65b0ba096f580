package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	movementsTotal    *prometheus.CounterVec
	movedQuantity     *prometheus.CounterVec
	insufficientTotal prometheus.Counter
	ledgerChecks      *prometheus.CounterVec
	txRetries         prometheus.Counter
}

// NewMetrics menginisialisasi registry, metrik HTTP, dan metrik ledger stok.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_movements_total",
		Help: "Jumlah mutasi stok yang tercatat per tipe.",
	}, []string{"type"})
	quantity := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_movement_quantity_total",
		Help: "Total kuantitas yang dimutasi per tipe.",
	}, []string{"type"})
	insufficient := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_insufficient_stock_total",
		Help: "Jumlah pengeluaran stok yang ditolak karena stok kurang.",
	})
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_ledger_checks_total",
		Help: "Hasil verifikasi ledger per item.",
	}, []string{"result"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_tx_retries_total",
		Help: "Jumlah transaksi yang diulang karena serialization failure atau deadlock.",
	})
	registry.MustRegister(requests, duration, movements, quantity, insufficient, checks, retries)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		movementsTotal:    movements,
		movedQuantity:     quantity,
		insufficientTotal: insufficient,
		ledgerChecks:      checks,
		txRetries:         retries,
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
	})
}

// RecordMovement menambah counter mutasi untuk tipe tertentu.
func (m *Metrics) RecordMovement(movementType string, quantity int64) {
	if m == nil {
		return
	}
	m.movementsTotal.WithLabelValues(movementType).Inc()
	if quantity > 0 {
		m.movedQuantity.WithLabelValues(movementType).Add(float64(quantity))
	}
}

// RecordInsufficientStock mencatat penolakan karena stok tidak cukup.
func (m *Metrics) RecordInsufficientStock() {
	if m == nil {
		return
	}
	m.insufficientTotal.Inc()
}

// RecordLedgerCheck mencatat hasil verifikasi ledger.
func (m *Metrics) RecordLedgerCheck(consistent bool) {
	if m == nil {
		return
	}
	result := "consistent"
	if !consistent {
		result = "mismatch"
	}
	m.ledgerChecks.WithLabelValues(result).Inc()
}

// RecordTxRetry mencatat satu percobaan ulang transaksi.
func (m *Metrics) RecordTxRetry(error) {
	if m == nil {
		return
	}
	m.txRetries.Inc()
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
