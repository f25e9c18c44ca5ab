package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// eventQuerier is the slice of services.EventService the adapter needs.
type eventQuerier interface {
	GetEventsSince(ctx context.Context, missionID string, sinceID int64, limit int) ([]*models.Event, error)
}

// EventServiceAdapter wraps services.EventService to implement CatchupQuerier.
type EventServiceAdapter struct {
	eventService eventQuerier
}

// NewEventServiceAdapter creates a CatchupQuerier from an EventService.
func NewEventServiceAdapter(es eventQuerier) *EventServiceAdapter {
	return &EventServiceAdapter{eventService: es}
}

// GetCatchupEvents queries events since sinceID up to limit for the catchup
// mechanism. Only mission channels have a durable log; catchup on other
// channels (e.g. the global missions channel) returns nothing.
func (a *EventServiceAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error) {
	missionID, ok := strings.CutPrefix(channel, "mission:")
	if !ok || missionID == "" {
		return nil, nil
	}

	events, err := a.eventService.GetEventsSince(ctx, missionID, sinceID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, 0, len(events))
	for _, evt := range events {
		var payload map[string]any
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			// Skip rows with unreadable payloads rather than failing the
			// whole catchup.
			continue
		}
		result = append(result, CatchupEvent{ID: evt.ID, Payload: payload})
	}
	return result, nil
}
