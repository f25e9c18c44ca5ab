// Package services implements the persistence layer. Each service owns the
// SQL for one aggregate and exposes typed methods to the rest of the system.
package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// ThreadService manages conversation threads, their messages, and the
// per-thread agent checkpoint.
type ThreadService struct {
	db *stdsql.DB
}

// NewThreadService creates a new ThreadService
func NewThreadService(db *stdsql.DB) *ThreadService {
	return &ThreadService{db: db}
}

// CreateThread creates a new thread with a generated ID.
func (s *ThreadService) CreateThread(ctx context.Context, title string) (*models.Thread, error) {
	t := &models.Thread{
		ID:    uuid.New().String(),
		Title: title,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO threads (id, title) VALUES ($1, $2)
		 RETURNING created_at, updated_at`,
		t.ID, t.Title,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return t, nil
}

// GetThread retrieves a thread by ID.
func (s *ThreadService) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	t := &models.Thread{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM threads WHERE id = $1`,
		threadID,
	).Scan(&t.ID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return t, nil
}

// ThreadExists reports whether a thread with the given ID exists.
func (s *ThreadService) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM threads WHERE id = $1)`,
		threadID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check thread existence: %w", err)
	}
	return exists, nil
}

// AppendMessage appends a message to a thread and bumps the thread's
// updated_at. Uses a background context with timeout so a cancelled caller
// cannot lose a message mid-turn.
func (s *ThreadService) AppendMessage(_ context.Context, req models.AppendMessageRequest) (*models.Message, error) {
	if req.ThreadID == "" {
		return nil, NewValidationError("thread_id", "required")
	}
	if req.Role == "" {
		return nil, NewValidationError("role", "required")
	}
	if req.Content == "" {
		return nil, NewValidationError("content", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := &models.Message{
		ThreadID: req.ThreadID,
		Role:     req.Role,
		Content:  req.Content,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (thread_id, role, content) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		m.ThreadID, string(m.Role), m.Content,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE threads SET updated_at = now() WHERE id = $1`, m.ThreadID); err != nil {
		return nil, fmt.Errorf("failed to touch thread: %w", err)
	}

	return m, nil
}

// LoadMessages retrieves all messages for a thread in append order.
func (s *ThreadService) LoadMessages(ctx context.Context, threadID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, role, content, created_at
		 FROM messages WHERE thread_id = $1 ORDER BY id ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var role string
		if err := rows.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = models.MessageRole(role)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// SaveCheckpoint upserts the agent checkpoint for a thread. Uses a background
// context with timeout: checkpoints are written at turn boundaries and must
// survive caller cancellation.
func (s *ThreadService) SaveCheckpoint(_ context.Context, threadID string, state json.RawMessage) error {
	if threadID == "" {
		return NewValidationError("thread_id", "required")
	}
	if len(state) == 0 {
		return NewValidationError("state", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, state, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (thread_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		threadID, []byte(state),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the agent checkpoint for a thread.
// Returns nil with no error when no checkpoint has been saved yet, so
// callers can treat an absent checkpoint as a fresh conversation.
func (s *ThreadService) LoadCheckpoint(ctx context.Context, threadID string) (json.RawMessage, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE thread_id = $1`,
		threadID,
	).Scan(&state)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return json.RawMessage(state), nil
}

// DeleteThreadsInactiveSince deletes threads whose updated_at is older than
// cutoff. Messages, checkpoints, missions, and events cascade.
func (s *ThreadService) DeleteThreadsInactiveSince(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM threads WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete inactive threads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted threads: %w", err)
	}
	return n, nil
}
