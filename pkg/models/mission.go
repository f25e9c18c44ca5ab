package models

import (
	"encoding/json"
	"time"
)

// MissionStatus is the lifecycle state of a mission.
type MissionStatus string

const (
	MissionPending   MissionStatus = "pending"
	MissionRunning   MissionStatus = "running"
	MissionSucceeded MissionStatus = "succeeded"
	MissionFailed    MissionStatus = "failed"
	MissionCancelled MissionStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s MissionStatus) Terminal() bool {
	return s == MissionSucceeded || s == MissionFailed || s == MissionCancelled
}

// TaskStatus is the lifecycle state of a single task within a mission.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskKind distinguishes agent-instance tasks from sub-stage reduce tasks.
type TaskKind string

const (
	TaskKindInstance TaskKind = "instance"
	TaskKindReduce   TaskKind = "reduce"
)

// Mission is a persisted mission record.
type Mission struct {
	ID          string          `json:"id"`
	ThreadID    string          `json:"thread_id"`
	Status      MissionStatus   `json:"status"`
	FailFast    bool            `json:"fail_fast"`
	Plan        json.RawMessage `json:"plan,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// MissionTask is a persisted task record within a mission.
type MissionTask struct {
	TaskID      string     `json:"task_id"`
	MissionID   string     `json:"mission_id"`
	Kind        TaskKind   `json:"kind"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	Reason      string     `json:"reason,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CreateMissionRequest contains fields for registering a new mission.
type CreateMissionRequest struct {
	MissionID string          `json:"mission_id"`
	ThreadID  string          `json:"thread_id"`
	FailFast  bool            `json:"fail_fast"`
	Plan      json.RawMessage `json:"plan"`
}

// MissionFilters contains filtering options for listing missions.
type MissionFilters struct {
	Status   string `json:"status,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// MissionListResponse contains a paginated mission list.
type MissionListResponse struct {
	Missions   []*Mission `json:"missions"`
	TotalCount int        `json:"total_count"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}
