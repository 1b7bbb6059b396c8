package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
	"github.com/odyssey-erp/odyssey-cmms/internal/meters"
	"github.com/odyssey-erp/odyssey-cmms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func withRoute(req *http.Request, pattern string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, pattern)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveMovement(inventory.LedgerEntry{Type: inventory.MovementIssue})
	body := scrape(t, metrics)
	if !strings.Contains(body, "# TYPE cmms_stock_movements_total counter") {
		t.Fatalf("expected body to contain cmms_stock_movements_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, withRoute(httptest.NewRequest(http.MethodGet, "/test", nil), "/test"))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, "cmms_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, "cmms_http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
	if strings.Contains(body, "cmms_degraded_outcomes_total{") {
		t.Fatalf("plain response must not count as degraded, got: %s", body)
	}
}

func TestMetricsMiddlewareCountsDegradedEffects(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var outcome shared.Outcome
		outcome.Record(shared.SideEffectAudit, errors.New("audit down"))
		outcome.Record(shared.SideEffectAlert, errors.New("queue down"))
		httpx.WithOutcome(w, http.StatusCreated, map[string]int{"id": 1}, outcome)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, withRoute(httptest.NewRequest(http.MethodPost, "/api/readings", nil), "/api/readings"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}
	if got := rr.Header().Get(httpx.DegradedHeader); got != "audit,alert" {
		t.Fatalf("unexpected degraded header %q", got)
	}

	body := scrape(t, metrics)
	for _, effect := range []string{"audit", "alert"} {
		line := "cmms_degraded_outcomes_total{effect=\"" + effect + "\",route=\"/api/readings\"} 1"
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in metrics, got: %s", line, body)
		}
	}
}

func TestDomainObservers(t *testing.T) {
	metrics := NewMetrics()

	metrics.ObserveMovement(inventory.LedgerEntry{Type: inventory.MovementReturn})
	metrics.ObserveMovement(inventory.LedgerEntry{Type: inventory.MovementReturn})
	metrics.ObserveReading(meters.Reading{Value: 480, IsRollback: true})
	metrics.ObserveReading(meters.Reading{Value: 520})
	metrics.ObserveReading(meters.Reading{Value: 530, IsLateEntry: true})

	body := scrape(t, metrics)
	for _, line := range []string{
		"cmms_stock_movements_total{type=\"RETURN\"} 2",
		"cmms_meter_readings_total{kind=\"rollback\"} 1",
		"cmms_meter_readings_total{kind=\"forward\"} 1",
		"cmms_meter_readings_total{kind=\"late\"} 1",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in metrics, got: %s", line, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveMovement(inventory.LedgerEntry{})
	metrics.ObserveReading(meters.Reading{})

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rr.Code)
	}
}
