package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.BedAllocation(AllocationOK)
	m.BedReleased()
	m.WardAvailability("t", "ICU", 3)
	m.LedgerCharge("LAB")
	m.LedgerPayment("CASH")
	m.AccrualRun("timer", time.Second)
	m.AccrualLedger(AccrualApplied)
	m.RegisterPool(nil)
}

func TestCounters(t *testing.T) {
	m := New()
	m.BedAllocation(AllocationOK)
	m.BedAllocation(AllocationOK)
	m.BedAllocation(AllocationConflict)
	m.AccrualLedger(AccrualSkipped)
	m.WardAvailability("acme", "GEN", 7)

	if got := testutil.ToFloat64(m.bedAllocations.WithLabelValues(AllocationOK)); got != 2 {
		t.Errorf("expected 2 ok allocations, got %v", got)
	}
	if got := testutil.ToFloat64(m.bedAllocations.WithLabelValues(AllocationConflict)); got != 1 {
		t.Errorf("expected 1 conflict, got %v", got)
	}
	if got := testutil.ToFloat64(m.accrualLedgers.WithLabelValues(AccrualSkipped)); got != 1 {
		t.Errorf("expected 1 skipped ledger, got %v", got)
	}
	if got := testutil.ToFloat64(m.wardAvailable.WithLabelValues("acme", "GEN")); got != 7 {
		t.Errorf("expected gauge 7, got %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/wards/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/metrics", m.Handler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wards/abc", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/wards/:id", "200")); got != 1 {
		t.Errorf("expected 1 request on route template, got %v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ipd_http_requests_total") {
		t.Error("expected ipd_http_requests_total in exposition")
	}
}
