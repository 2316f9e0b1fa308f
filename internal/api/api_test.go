package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/alert"
	"github.com/rawblock/chainintel-engine/internal/evidence"
	"github.com/rawblock/chainintel-engine/internal/fusion"
	"github.com/rawblock/chainintel-engine/internal/graph"
	"github.com/rawblock/chainintel-engine/internal/metrics"
	"github.com/rawblock/chainintel-engine/internal/orchestrator"
	"github.com/rawblock/chainintel-engine/internal/registry"
	"github.com/rawblock/chainintel-engine/internal/scheduler"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

const testToken = "secret-token"

func newTestRouter(t *testing.T) (*gin.Engine, *alert.Manager, *scheduler.Scheduler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	reg := registry.New(logger)
	_, err := reg.Refresh(registry.BuiltinEntries())
	require.NoError(t, err)

	alerts := alert.NewManager(nil, logger)
	orch := orchestrator.New(orchestrator.Config{},
		nil, nil,
		fusion.NewAttributionFuser("", nil, logger),
		fusion.NewRiskFuser(logger),
		evidence.NewStore(graph.NewMemoryStore(), logger),
		alerts, logger)

	sched := scheduler.New(scheduler.Config{}, alerts, logger)

	srv := NewServer(orch, sched, alerts, reg, metrics.New(), NewHub(logger), nil, logger)
	router := srv.SetupRouter(Config{AuthToken: testToken, RatePerMinute: 6000, Burst: 100})
	return router, alerts, sched
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "operational", resp["status"])
	require.Greater(t, resp["registrySize"].(float64), 0.0)
}

func TestAuthRequired(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/investigations", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/investigations", nil, "wrong")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/investigations", nil, testToken)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestInvestigateAddressRoundTrip(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body := map[string]string{"chain": "ethereum", "address": "0x1111111111111111111111111111111111111111"}
	w := doJSON(t, router, http.MethodPost, "/api/v1/investigations/address", body, testToken)
	require.Equal(t, http.StatusOK, w.Code)

	var inv models.Investigation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inv))
	require.NotEmpty(t, inv.ID)
	require.Equal(t, models.InvestigationCompleted, inv.Status)

	w = doJSON(t, router, http.MethodGet, "/api/v1/investigations/"+inv.ID, nil, testToken)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestInvalidInputMapsTo400(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body := map[string]string{"chain": "dogecoin", "address": "not-an-address"}
	w := doJSON(t, router, http.MethodPost, "/api/v1/investigations/address", body, testToken)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownInvestigationMapsTo404(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/investigations/nope", nil, testToken)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	router, _, sched := newTestRouter(t)
	require.NoError(t, sched.Register("noop", "Noop", "every 5 minutes", 0,
		func(context.Context) error { return nil }))

	w := doJSON(t, router, http.MethodGet, "/api/v1/scheduler/tasks", nil, testToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"noop"`)

	w = doJSON(t, router, http.MethodPost, "/api/v1/scheduler/tasks/noop/run", nil, testToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/scheduler/tasks/missing/run", nil, testToken)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/scheduler/tasks/noop/disable", nil, testToken)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRegistryClassify(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/registry/classify?chain=ethereum&address=0x12d66f87a04a9e220743712ce6d9bb1b5616b8fc", nil, testToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"matched":true`)

	w = doJSON(t, router, http.MethodGet, "/api/v1/registry/classify?chain=ethereum&address=0x000000000000000000000000000000000000dead", nil, testToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"matched":false`)

	w = doJSON(t, router, http.MethodGet, "/api/v1/registry/classify", nil, testToken)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAlertHistoryEndpoint(t *testing.T) {
	router, alerts, _ := newTestRouter(t)
	alerts.Emit(alert.Alert{Severity: models.SeverityCritical, AlertType: "sanctions_hit", Title: "test"})

	w := doJSON(t, router, http.MethodGet, "/api/v1/alerts", nil, testToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "sanctions_hit")

	w = doJSON(t, router, http.MethodGet, "/api/v1/alerts?severity=critical", nil, testToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "sanctions_hit")
}

func TestRateLimitEmptiesBucket(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
