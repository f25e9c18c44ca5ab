package api

import (
	"github.com/meridian-labs/surveyor/pkg/database"
	"github.com/meridian-labs/surveyor/pkg/models"
)

// MessageListResponse is returned by GET /threads/:id/messages.
type MessageListResponse struct {
	ThreadID string            `json:"thread_id"`
	Messages []*models.Message `json:"messages"`
}

// MissionDetailResponse is returned by GET /missions/:id.
type MissionDetailResponse struct {
	*models.Mission
	Tasks []*models.MissionTask `json:"tasks"`
}

// EventListResponse is returned by GET /missions/:id/events. LastEventID is
// the cursor to pass as ?after= on the next poll; zero when no events matched.
type EventListResponse struct {
	MissionID   string          `json:"mission_id"`
	Events      []*models.Event `json:"events"`
	LastEventID int64           `json:"last_event_id"`
}

// CancelResponse is returned by POST /missions/:id/cancel.
type CancelResponse struct {
	MissionID string `json:"mission_id"`
	Message   string `json:"message"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	Checks        map[string]HealthCheck `json:"checks"`
	Database      *database.HealthStatus `json:"database,omitempty"`
	Configuration ConfigurationStats     `json:"configuration"`
	Runtime       RuntimeStats           `json:"runtime"`
}

// HealthCheck is one subsystem entry in HealthResponse.Checks.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConfigurationStats contains counts of loaded configuration items.
type ConfigurationStats struct {
	AgentTypes   int `json:"agent_types"`
	ToolPolicies int `json:"tool_policies"`
	MCPServers   int `json:"mcp_servers"`
	LLMProviders int `json:"llm_providers"`
}

// RuntimeStats is a point-in-time snapshot of live subsystem load.
type RuntimeStats struct {
	ActiveMissions       int `json:"active_missions"`
	ConversationSessions int `json:"conversation_sessions"`
	ObserverConnections  int `json:"observer_connections"`
}
