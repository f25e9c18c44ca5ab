package events

import "github.com/meridian-labs/surveyor/pkg/models"

// MissionStatusPayload is the payload for mission-level lifecycle events
// (mission_started, mission_succeeded, mission_failed, mission_cancelled).
type MissionStatusPayload struct {
	Type      string               `json:"type"`       // mission_started, mission_succeeded, mission_failed, mission_cancelled
	MissionID string               `json:"mission_id"` // mission UUID
	ThreadID  string               `json:"thread_id,omitempty"`
	Status    models.MissionStatus `json:"status"`          // running, succeeded, failed, cancelled
	Error     string               `json:"error,omitempty"` // terminal failure reason (mission_failed only)
	Timestamp string               `json:"timestamp"`       // RFC3339Nano
}

// TaskStatusPayload is the payload for task-level lifecycle events
// (task_started, task_succeeded, task_failed, task_cancelled).
type TaskStatusPayload struct {
	Type      string          `json:"type"` // task_started, task_succeeded, task_failed, task_cancelled
	MissionID string          `json:"mission_id"`
	TaskID    string          `json:"task_id"`
	Kind      models.TaskKind `json:"kind,omitempty"`    // instance, reduce
	Attempt   int             `json:"attempt,omitempty"` // 1-based, task_started only
	Reason    string          `json:"reason,omitempty"`  // failure reason, task_failed only
	Timestamp string          `json:"timestamp"`         // RFC3339Nano
}
