package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// EventStore persists events to the durable log. Implemented by
// services.EventService.
type EventStore interface {
	CreateEvent(ctx context.Context, req models.CreateEventRequest) (*models.Event, error)
}

// Publisher publishes mission events: persist to the durable log first,
// then best-effort fan-out on the in-process Bus. The persisted payload
// does not contain db_event_id; it is injected into the broadcast copy (and
// by the catchup path) so clients can track their position in the log.
//
// Each public method accepts a specific typed payload struct; see
// payloads.go. Publish failures are non-fatal to callers by contract: the
// scheduler logs and moves on, it never blocks or fails a mission because
// an event could not be recorded.
type Publisher struct {
	store EventStore
	bus   *Bus
}

// NewPublisher creates a Publisher writing through the given store and bus.
func NewPublisher(store EventStore, bus *Bus) *Publisher {
	return &Publisher{store: store, bus: bus}
}

// Bus returns the underlying bus, for subscribers wired at startup.
func (p *Publisher) Bus() *Bus { return p.bus }

// PublishMissionStatus persists a mission lifecycle event to the mission
// channel and broadcasts it there plus a transient copy on the global
// missions channel (for list pages). Stamps Timestamp if unset.
func (p *Publisher) PublishMissionStatus(ctx context.Context, payload MissionStatusPayload) error {
	if payload.Timestamp == "" {
		payload.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal MissionStatusPayload: %w", err)
	}
	return p.persistAndBroadcast(ctx, payload.MissionID, MissionChannel(payload.MissionID), payloadJSON, true)
}

// PublishTaskStatus persists a task lifecycle event to the mission channel
// and broadcasts it. Stamps Timestamp if unset.
func (p *Publisher) PublishTaskStatus(ctx context.Context, payload TaskStatusPayload) error {
	if payload.Timestamp == "" {
		payload.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal TaskStatusPayload: %w", err)
	}
	return p.persistAndBroadcast(ctx, payload.MissionID, MissionChannel(payload.MissionID), payloadJSON, false)
}

// persistAndBroadcast writes the event row, then broadcasts the payload
// enriched with db_event_id. If the write fails the broadcast still happens
// (without db_event_id) so live viewers keep seeing progress; the error is
// returned for the caller to log.
func (p *Publisher) persistAndBroadcast(ctx context.Context, missionID, channel string, payloadJSON []byte, alsoGlobal bool) error {
	var eventID int64
	var persistErr error

	evt, err := p.store.CreateEvent(ctx, models.CreateEventRequest{
		MissionID: missionID,
		Channel:   channel,
		Payload:   payloadJSON,
	})
	if err != nil {
		persistErr = fmt.Errorf("failed to persist event: %w", err)
		slog.Warn("Event persist failed, broadcasting transient copy",
			"mission_id", missionID, "channel", channel, "error", err)
	} else {
		eventID = evt.ID
		enriched, err := injectDBEventID(payloadJSON, evt.ID)
		if err != nil {
			// Payload round-trip failure; broadcast the original instead.
			slog.Warn("Failed to enrich event payload", "channel", channel, "error", err)
		} else {
			payloadJSON = enriched
		}
	}

	p.bus.Publish(Envelope{Channel: channel, EventID: eventID, Payload: payloadJSON})
	if alsoGlobal {
		p.bus.Publish(Envelope{Channel: GlobalMissionsChannel, EventID: eventID, Payload: payloadJSON})
	}

	return persistErr
}

// injectDBEventID adds db_event_id to the JSON payload for broadcast
// delivery so clients can track their catchup cursor.
func injectDBEventID(payloadJSON []byte, dbEventID int64) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enriched, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal enriched payload: %w", err)
	}
	return enriched, nil
}
