// Package telemetry exposes Prometheus metrics for the in-patient service:
// HTTP traffic, bed pool outcomes, ledger activity and the accrual job.
package telemetry

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many instances as they
// like. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	bedAllocations  *prometheus.CounterVec
	bedReleases     prometheus.Counter
	wardAvailable   *prometheus.GaugeVec
	ledgerCharges   *prometheus.CounterVec
	ledgerPayments  *prometheus.CounterVec
	accrualRuns     *prometheus.CounterVec
	accrualLedgers  *prometheus.CounterVec
	accrualDuration prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ipd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		bedAllocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipd_bed_allocations_total",
			Help: "Bed allocation attempts by result",
		}, []string{"result"}),
		bedReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipd_bed_releases_total",
			Help: "Beds released on discharge",
		}),
		wardAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ipd_ward_available_beds",
			Help: "Free active beds per ward as of the last mutation",
		}, []string{"tenant", "ward"}),
		ledgerCharges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipd_ledger_charges_total",
			Help: "Manual charges posted to billing ledgers",
		}, []string{"category"}),
		ledgerPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipd_ledger_payments_total",
			Help: "Payments recorded against billing ledgers",
		}, []string{"method"}),
		accrualRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipd_accrual_runs_total",
			Help: "Daily accrual runs by trigger",
		}, []string{"trigger"}),
		accrualLedgers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipd_accrual_ledgers_total",
			Help: "Ledgers visited by the accrual job by outcome",
		}, []string{"outcome"}),
		accrualDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ipd_accrual_run_duration_seconds",
			Help:    "Wall time of one accrual run",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}
	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.bedAllocations,
		m.bedReleases,
		m.wardAvailable,
		m.ledgerCharges,
		m.ledgerPayments,
		m.accrualRuns,
		m.accrualLedgers,
		m.accrualDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterPool exports pgxpool connection statistics.
func (m *Metrics) RegisterPool(pool *pgxpool.Pool) {
	if m == nil || pool == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ipd_db_pool_acquired_conns",
			Help: "Connections currently checked out of the pool",
		}, func() float64 { return float64(pool.Stat().AcquiredConns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ipd_db_pool_total_conns",
			Help: "Connections currently held by the pool",
		}, func() float64 { return float64(pool.Stat().TotalConns()) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request count and latency keyed by the matched route
// template so path parameters do not explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Allocation results.
const (
	AllocationOK       = "ok"
	AllocationConflict = "conflict"
	AllocationRejected = "rejected"
)

func (m *Metrics) BedAllocation(result string) {
	if m == nil {
		return
	}
	m.bedAllocations.WithLabelValues(result).Inc()
}

func (m *Metrics) BedReleased() {
	if m == nil {
		return
	}
	m.bedReleases.Inc()
}

func (m *Metrics) WardAvailability(tenant, wardCode string, available int) {
	if m == nil {
		return
	}
	m.wardAvailable.WithLabelValues(tenant, wardCode).Set(float64(available))
}

func (m *Metrics) LedgerCharge(category string) {
	if m == nil {
		return
	}
	m.ledgerCharges.WithLabelValues(category).Inc()
}

func (m *Metrics) LedgerPayment(method string) {
	if m == nil {
		return
	}
	m.ledgerPayments.WithLabelValues(method).Inc()
}

// Accrual outcomes.
const (
	AccrualApplied = "applied"
	AccrualSkipped = "skipped"
	AccrualFailed  = "failed"
)

func (m *Metrics) AccrualRun(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.accrualRuns.WithLabelValues(trigger).Inc()
	m.accrualDuration.Observe(d.Seconds())
}

func (m *Metrics) AccrualLedger(outcome string) {
	if m == nil {
		return
	}
	m.accrualLedgers.WithLabelValues(outcome).Inc()
}
