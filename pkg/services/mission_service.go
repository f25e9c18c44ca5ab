package services

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// MissionService manages mission and task records
type MissionService struct {
	db *stdsql.DB
}

// NewMissionService creates a new MissionService
func NewMissionService(db *stdsql.DB) *MissionService {
	return &MissionService{db: db}
}

// CreateMission registers a new mission in pending state.
func (s *MissionService) CreateMission(ctx context.Context, req models.CreateMissionRequest) (*models.Mission, error) {
	if req.MissionID == "" {
		return nil, NewValidationError("mission_id", "required")
	}
	if req.ThreadID == "" {
		return nil, NewValidationError("thread_id", "required")
	}
	if len(req.Plan) == 0 {
		return nil, NewValidationError("plan", "required")
	}

	m := &models.Mission{
		ID:       req.MissionID,
		ThreadID: req.ThreadID,
		Status:   models.MissionPending,
		FailFast: req.FailFast,
		Plan:     req.Plan,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO missions (id, thread_id, status, fail_fast, plan)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		m.ID, m.ThreadID, string(m.Status), m.FailFast, []byte(m.Plan),
	).Scan(&m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create mission: %w", err)
	}
	return m, nil
}

// GetMission retrieves a mission by ID.
func (s *MissionService) GetMission(ctx context.Context, missionID string) (*models.Mission, error) {
	m := &models.Mission{}
	var status string
	var plan []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, status, fail_fast, plan, error, created_at, started_at, completed_at
		 FROM missions WHERE id = $1`,
		missionID,
	).Scan(&m.ID, &m.ThreadID, &status, &m.FailFast, &plan, &m.Error, &m.CreatedAt, &m.StartedAt, &m.CompletedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("%w: mission %s", ErrNotFound, missionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mission: %w", err)
	}
	m.Status = models.MissionStatus(status)
	m.Plan = plan
	return m, nil
}

// ListMissions retrieves missions matching the filters, newest first.
func (s *MissionService) ListMissions(ctx context.Context, filters models.MissionFilters) (*models.MissionListResponse, error) {
	where := []string{}
	args := []any{}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.ThreadID != "" {
		args = append(args, filters.ThreadID)
		where = append(where, fmt.Sprintf("thread_id = $%d", len(args)))
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM missions`+whereClause, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count missions: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(
		`SELECT id, thread_id, status, fail_fast, error, created_at, started_at, completed_at
		 FROM missions%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		whereClause, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	defer rows.Close()

	missions := []*models.Mission{}
	for rows.Next() {
		m := &models.Mission{}
		var status string
		if err := rows.Scan(&m.ID, &m.ThreadID, &status, &m.FailFast, &m.Error,
			&m.CreatedAt, &m.StartedAt, &m.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mission: %w", err)
		}
		m.Status = models.MissionStatus(status)
		missions = append(missions, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate missions: %w", err)
	}

	return &models.MissionListResponse{
		Missions:   missions,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// MarkMissionRunning transitions a mission to running and stamps started_at.
func (s *MissionService) MarkMissionRunning(ctx context.Context, missionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET status = $1, started_at = now()
		 WHERE id = $2 AND status = $3`,
		string(models.MissionRunning), missionID, string(models.MissionPending))
	if err != nil {
		return fmt.Errorf("failed to mark mission running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check mission transition: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: mission %s not pending", ErrNotFound, missionID)
	}
	return nil
}

// CompleteMission records a terminal mission status. Uses a background context
// with timeout so the final state transition survives caller cancellation.
func (s *MissionService) CompleteMission(_ context.Context, missionID string, status models.MissionStatus, errMsg string) error {
	if !status.Terminal() {
		return NewValidationError("status", "must be terminal")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE missions SET status = $1, error = $2, completed_at = now() WHERE id = $3`,
		string(status), errMsg, missionID)
	if err != nil {
		return fmt.Errorf("failed to complete mission: %w", err)
	}
	return nil
}

// RecordTasks bulk-inserts the task rows for a freshly compiled mission.
func (s *MissionService) RecordTasks(ctx context.Context, missionID string, tasks []*models.MissionTask) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin task insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tasks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mission_tasks (mission_id, task_id, kind, status)
			 VALUES ($1, $2, $3, $4)`,
			missionID, t.TaskID, string(t.Kind), string(t.Status)); err != nil {
			return fmt.Errorf("failed to record task %s: %w", t.TaskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task insert: %w", err)
	}
	return nil
}

// UpdateTaskStatus records a task state transition. Running stamps started_at;
// terminal states stamp completed_at. Terminal writes use a background context
// with timeout.
func (s *MissionService) UpdateTaskStatus(callerCtx context.Context, missionID, taskID string, status models.TaskStatus, reason string) error {
	ctx := callerCtx
	terminal := status == models.TaskSucceeded || status == models.TaskFailed || status == models.TaskCancelled
	if terminal {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	var query string
	switch {
	case status == models.TaskRunning:
		query = `UPDATE mission_tasks SET status = $1, reason = $2, started_at = now(),
		         attempts = attempts + 1 WHERE mission_id = $3 AND task_id = $4`
	case terminal:
		query = `UPDATE mission_tasks SET status = $1, reason = $2, completed_at = now()
		         WHERE mission_id = $3 AND task_id = $4`
	default:
		query = `UPDATE mission_tasks SET status = $1, reason = $2
		         WHERE mission_id = $3 AND task_id = $4`
	}

	res, err := s.db.ExecContext(ctx, query, string(status), reason, missionID, taskID)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check task update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s in mission %s", ErrNotFound, taskID, missionID)
	}
	return nil
}

// GetTasks retrieves all task rows for a mission in task ID order.
func (s *MissionService) GetTasks(ctx context.Context, missionID string) ([]*models.MissionTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mission_id, task_id, kind, status, attempts, reason, started_at, completed_at
		 FROM mission_tasks WHERE mission_id = $1 ORDER BY task_id ASC`,
		missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.MissionTask
	for rows.Next() {
		t := &models.MissionTask{}
		var kind, status string
		if err := rows.Scan(&t.MissionID, &t.TaskID, &kind, &status, &t.Attempts,
			&t.Reason, &t.StartedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Kind = models.TaskKind(kind)
		t.Status = models.TaskStatus(status)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return tasks, nil
}

// FailOrphanedMissions marks all non-terminal missions as failed. Called at
// startup: a mission left pending or running by a previous process has lost
// its scheduler and will never progress.
func (s *MissionService) FailOrphanedMissions(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET status = $1, error = $2, completed_at = now()
		 WHERE status IN ($3, $4)`,
		string(models.MissionFailed), reason,
		string(models.MissionPending), string(models.MissionRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to fail orphaned missions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count orphaned missions: %w", err)
	}

	// Their tasks are equally orphaned
	if n > 0 {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE mission_tasks mt SET status = $1, reason = $2, completed_at = now()
			 FROM missions m
			 WHERE mt.mission_id = m.id AND m.error = $2
			   AND mt.status IN ($3, $4, $5)`,
			string(models.TaskCancelled), reason,
			string(models.TaskPending), string(models.TaskReady), string(models.TaskRunning)); err != nil {
			return n, fmt.Errorf("failed to cancel orphaned tasks: %w", err)
		}
	}

	return n, nil
}
