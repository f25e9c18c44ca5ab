package models

import (
	"encoding/json"
	"time"
)

// CreateEventRequest contains fields for recording a mission event.
// Payload is pre-marshaled JSON; the publisher owns the payload shape.
type CreateEventRequest struct {
	MissionID string          `json:"mission_id"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
}

// Event is a persisted mission event row.
type Event struct {
	ID        int64           `json:"id"`
	MissionID string          `json:"mission_id"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventsResponse contains a list of events since a given ID.
type EventsResponse struct {
	Events []*Event `json:"events"`
}
