// Package events provides real-time mission event delivery: a durable
// per-mission event log plus best-effort in-process fan-out to any number
// of subscribers (HITL sessions, the observer WebSocket manager, the Slack
// notifier, metrics).
//
// ════════════════════════════════════════════════════════════════
// Delivery model
// ════════════════════════════════════════════════════════════════
//
// Every mission event is persisted to the events table FIRST, then
// broadcast on the in-process Bus. Fan-out is best-effort: a slow
// subscriber never blocks the scheduler; each subscriber has a bounded
// buffer and the oldest undelivered event is dropped on overflow. The
// durable log is the source of truth; WebSocket clients that miss events
// (reconnect, buffer overflow) recover via catchup, replaying the log
// from their last seen event ID.
//
// Channels:
//
//	mission:{mission_id}  - all events for one mission
//	missions              - transient copies of mission-level status
//	                        events (for list pages; not re-persisted)
//
// Mission lifecycle on a channel:
//
//	mission_started
//	task_started      {task_id}          (repeated per task/attempt)
//	task_succeeded    {task_id}
//	task_failed       {task_id, reason}
//	task_cancelled    {task_id}
//	mission_succeeded | mission_failed   (terminal, exactly one)
//
// ════════════════════════════════════════════════════════════════
package events

// Mission-level event types.
const (
	EventTypeMissionStarted   = "mission_started"
	EventTypeMissionSucceeded = "mission_succeeded"
	EventTypeMissionFailed    = "mission_failed"
	EventTypeMissionCancelled = "mission_cancelled"
)

// Task-level event types.
const (
	EventTypeTaskStarted   = "task_started"
	EventTypeTaskSucceeded = "task_succeeded"
	EventTypeTaskFailed    = "task_failed"
	EventTypeTaskCancelled = "task_cancelled"
)

// GlobalMissionsChannel carries transient copies of mission-level status
// events. The mission list page subscribes here instead of subscribing to
// every mission individually.
const GlobalMissionsChannel = "missions"

// MissionChannel returns the channel name for a specific mission's events.
// Format: "mission:{mission_id}"
func MissionChannel(missionID string) string {
	return "mission:" + missionID
}

// ClientMessage is the JSON structure for client → server messages on the
// observer WebSocket.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "mission:abc-123")
	LastEventID *int64 `json:"last_event_id,omitempty"` // For catchup
}
