package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-cmms/internal/auth"
	"github.com/odyssey-erp/odyssey-cmms/internal/observability"
	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *auth.Verifier) {
	t.Helper()
	verifier, err := auth.NewVerifier("0123456789abcdef0123456789abcdef", "cmms")
	require.NoError(t, err)
	cfg := &Config{AppEnv: "test", RateLimitPerMinute: 1000, AppRequestTimeout: 5 * time.Second}
	return NewRouter(RouterParams{Config: cfg, Verifier: verifier, Metrics: observability.NewMetrics()}), verifier
}

func TestRouterHealthAndMetricsArePublic(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `cmms_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestRouterAPIRequiresBearer(t *testing.T) {
	router, verifier := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/returns/1", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := verifier.Sign(shared.Principal{UserID: 3, CompanyID: 1, Role: shared.RoleStorekeeper}, time.Hour, time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/returns/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
