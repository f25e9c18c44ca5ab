package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// OutputService manages the mission output store. Instance tasks write
// records keyed by instance ID; reduce tasks write records keyed by
// sub-stage ID. Records are written once and never updated.
type OutputService struct {
	db *stdsql.DB
}

// NewOutputService creates a new OutputService
func NewOutputService(db *stdsql.DB) *OutputService {
	return &OutputService{db: db}
}

// PutOutput stores a task's output record. A second write for the same key is
// a no-op, which keeps retried attempts idempotent after a delivery race.
func (s *OutputService) PutOutput(ctx context.Context, missionID, key string, record *models.OutputRecord) error {
	if missionID == "" {
		return NewValidationError("mission_id", "required")
	}
	if key == "" {
		return NewValidationError("key", "required")
	}
	if record == nil {
		return NewValidationError("record", "required")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode output record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outputs (mission_id, key, record) VALUES ($1, $2, $3)
		 ON CONFLICT (mission_id, key) DO NOTHING`,
		missionID, key, payload)
	if err != nil {
		return fmt.Errorf("failed to store output: %w", err)
	}
	return nil
}

// GetOutput retrieves a single output record by key.
// Returns ErrNotFound when the producing task has not completed.
func (s *OutputService) GetOutput(ctx context.Context, missionID, key string) (*models.OutputRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM outputs WHERE mission_id = $1 AND key = $2`,
		missionID, key,
	).Scan(&payload)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("%w: output %s/%s", ErrNotFound, missionID, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get output: %w", err)
	}

	record := &models.OutputRecord{}
	if err := json.Unmarshal(payload, record); err != nil {
		return nil, fmt.Errorf("failed to decode output record: %w", err)
	}
	return record, nil
}

// GetOutputs retrieves output records for the given keys, preserving key
// order. Every key must exist; a missing key is an error because dependency
// tracking guarantees producers completed first.
func (s *OutputService) GetOutputs(ctx context.Context, missionID string, keys []string) (map[string]*models.OutputRecord, error) {
	result := make(map[string]*models.OutputRecord, len(keys))
	for _, key := range keys {
		record, err := s.GetOutput(ctx, missionID, key)
		if err != nil {
			return nil, err
		}
		result[key] = record
	}
	return result, nil
}

// ListOutputs retrieves all output records for a mission keyed by producer.
func (s *OutputService) ListOutputs(ctx context.Context, missionID string) (map[string]*models.OutputRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, record FROM outputs WHERE mission_id = $1 ORDER BY key ASC`,
		missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outputs: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*models.OutputRecord)
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan output: %w", err)
		}
		record := &models.OutputRecord{}
		if err := json.Unmarshal(payload, record); err != nil {
			return nil, fmt.Errorf("failed to decode output record %s: %w", key, err)
		}
		result[key] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outputs: %w", err)
	}

	return result, nil
}
