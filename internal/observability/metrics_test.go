package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/groups/{groupID}")

	req := httptest.NewRequest(http.MethodGet, "/groups/g1", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `saldo_http_requests_total{code="418",route="/groups/{groupID}"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `saldo_http_request_duration_seconds_bucket{route="/groups/{groupID}"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestMetricsMiddlewareKeepsFlusher(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Error("response writer lost http.Flusher")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/balances/stream", nil))
}

func TestMetricsDomainObservers(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveRecompute("global", 2*time.Millisecond, 3, 2)
	metrics.ObserveExport(nil, time.Millisecond)
	metrics.ObserveExport(errors.New("quota"), time.Millisecond)
	metrics.ObserveChange("expense.created")

	body := scrape(t, metrics)
	for _, want := range []string{
		`saldo_balance_warnings_total{scope="global"} 2`,
		`saldo_balance_rows{scope="global"} 3`,
		`saldo_exports_total{result="ok"} 1`,
		`saldo_exports_total{result="error"} 1`,
		`saldo_changes_consumed_total{kind="expense.created"} 1`,
		`saldo_balance_recompute_seconds_count{scope="global"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveRecompute("global", time.Millisecond, 1, 1)
	metrics.ObserveExport(nil, time.Millisecond)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rr.Code)
	}
}
