package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// EventService manages the durable mission event log
type EventService struct {
	db *stdsql.DB
}

// NewEventService creates a new EventService
func NewEventService(db *stdsql.DB) *EventService {
	return &EventService{db: db}
}

// CreateEvent appends an event row. Uses a background context with timeout so
// terminal mission events are not lost to caller cancellation.
func (s *EventService) CreateEvent(_ context.Context, req models.CreateEventRequest) (*models.Event, error) {
	if req.MissionID == "" {
		return nil, NewValidationError("mission_id", "required")
	}
	if req.Channel == "" {
		return nil, NewValidationError("channel", "required")
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return nil, NewValidationError("payload", "must be valid JSON")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	evt := &models.Event{
		MissionID: req.MissionID,
		Channel:   req.Channel,
		Payload:   req.Payload,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO events (mission_id, channel, payload) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		evt.MissionID, evt.Channel, []byte(req.Payload),
	).Scan(&evt.ID, &evt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	return evt, nil
}

// GetEventsSince retrieves a mission's events with ID greater than sinceID,
// oldest first. A positive limit caps the number of rows returned.
func (s *EventService) GetEventsSince(ctx context.Context, missionID string, sinceID int64, limit int) ([]*models.Event, error) {
	query := `SELECT id, mission_id, channel, payload, created_at
		 FROM events WHERE mission_id = $1 AND id > $2 ORDER BY id ASC`
	args := []any{missionID, sinceID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		evt := &models.Event{}
		var payload []byte
		if err := rows.Scan(&evt.ID, &evt.MissionID, &evt.Channel, &payload, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		evt.Payload = payload
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// CleanupOldEvents removes events older than the TTL
func (s *EventService) CleanupOldEvents(_ context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)

	writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx,
		`DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned events: %w", err)
	}
	return n, nil
}
