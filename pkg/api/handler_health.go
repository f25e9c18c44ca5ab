package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/meridian-labs/surveyor/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz.
// Only surveyor's own components are checked. External dependencies (the LLM
// service, MCP servers) are excluded so a liveness probe does not restart
// surveyor when an external service is unhealthy. 503 is returned only when
// the database is unreachable; missing optional subsystems degrade the status
// but keep the probe passing.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:  healthStatusHealthy,
		Version: version.GitCommit,
		Checks:  make(map[string]HealthCheck),
	}

	if s.dbClient != nil {
		dbHealth, err := s.dbClient.Health(reqCtx)
		resp.Database = dbHealth
		if err != nil {
			resp.Status = healthStatusUnhealthy
			resp.Checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			resp.Checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	} else {
		resp.Status = healthStatusUnhealthy
		resp.Checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: "not configured"}
	}

	if s.orchestrator != nil {
		resp.Runtime.ActiveMissions = len(s.orchestrator.ActiveMissions())
		resp.Checks["orchestrator"] = HealthCheck{Status: healthStatusHealthy}
	} else {
		s.markDegraded(resp, "orchestrator")
	}
	if s.hub != nil {
		resp.Runtime.ConversationSessions = s.hub.ActiveSessions()
		resp.Checks["conversation_hub"] = HealthCheck{Status: healthStatusHealthy}
	} else {
		s.markDegraded(resp, "conversation_hub")
	}
	if s.connManager != nil {
		resp.Runtime.ObserverConnections = s.connManager.ActiveConnections()
		resp.Checks["event_socket"] = HealthCheck{Status: healthStatusHealthy}
	} else {
		s.markDegraded(resp, "event_socket")
	}

	if s.cfg != nil {
		stats := s.cfg.Stats()
		resp.Configuration = ConfigurationStats{
			AgentTypes:   stats.AgentTypes,
			ToolPolicies: stats.ToolPolicies,
			MCPServers:   stats.MCPServers,
			LLMProviders: stats.LLMProviders,
		}
	}

	httpStatus := http.StatusOK
	if resp.Status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, resp)
}

// markDegraded records a not-running subsystem without failing the probe.
func (s *Server) markDegraded(resp *HealthResponse, name string) {
	resp.Checks[name] = HealthCheck{Status: healthStatusDegraded, Message: "not running"}
	if resp.Status == healthStatusHealthy {
		resp.Status = healthStatusDegraded
	}
}
