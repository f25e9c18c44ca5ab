package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	s, _, canceller := newTestServer(t)
	canceller.active = []string{"mission-1", "mission-2"}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	// Hub and connection manager are absent in this setup, so the status is
	// degraded but a liveness probe still passes.
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthStatusDegraded, resp.Status)
	assert.NotEmpty(t, resp.Version)
	assert.Equal(t, healthStatusHealthy, resp.Checks["database"].Status)
	assert.Equal(t, healthStatusHealthy, resp.Checks["orchestrator"].Status)
	assert.Equal(t, healthStatusDegraded, resp.Checks["conversation_hub"].Status)
	assert.Equal(t, healthStatusDegraded, resp.Checks["event_socket"].Status)
	assert.Equal(t, 2, resp.Runtime.ActiveMissions)
	require.NotNil(t, resp.Database)
	assert.Equal(t, "healthy", resp.Database.Status)
}

func TestHealthHandler_NoDatabase(t *testing.T) {
	s := &Server{}
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.healthHandler(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthStatusUnhealthy, resp.Status)
	assert.Equal(t, healthStatusUnhealthy, resp.Checks["database"].Status)
}
