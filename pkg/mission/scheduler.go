package mission

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/models"
	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// publishTimeout bounds event publication and terminal persistence so a
// slow database cannot wedge the scheduler.
const publishTimeout = 5 * time.Second

// MissionStore persists mission and task state transitions. Implemented by
// services.MissionService.
type MissionStore interface {
	MarkMissionRunning(ctx context.Context, missionID string) error
	CompleteMission(ctx context.Context, missionID string, status models.MissionStatus, errMsg string) error
	RecordTasks(ctx context.Context, missionID string, tasks []*models.MissionTask) error
	UpdateTaskStatus(ctx context.Context, missionID, taskID string, status models.TaskStatus, reason string) error
}

// OutputStore persists task output records. Implemented by
// services.OutputService. GetOutputs reports a missing key as an error
// wrapping services.ErrNotFound.
type OutputStore interface {
	PutOutput(ctx context.Context, missionID, key string, record *models.OutputRecord) error
	GetOutputs(ctx context.Context, missionID string, keys []string) (map[string]*models.OutputRecord, error)
}

// EventSink publishes mission progress events. Implemented by
// events.Publisher.
type EventSink interface {
	PublishMissionStatus(ctx context.Context, payload events.MissionStatusPayload) error
	PublishTaskStatus(ctx context.Context, payload events.TaskStatusPayload) error
}

// InstanceRunner executes one agent instance task. Implemented by
// runtime.TaskRunner.
type InstanceRunner interface {
	RunInstance(ctx context.Context, input *runtime.TaskInput) (*models.OutputRecord, error)
}

// SourceFetcher resolves a starter source URL to its content. Implemented
// by sources.Service.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// schedulerSettings are the per-mission knobs resolved from configuration
// and the plan.
type schedulerSettings struct {
	workers        int
	defaultTimeout time.Duration
	maxAttempts    int
	failFast       bool
}

type noteKind int

const (
	noteStarted noteKind = iota
	noteDone
)

// workerNote is a worker-to-scheduler message: a task was picked up, or it
// finished with the given error (nil on success).
type workerNote struct {
	kind   noteKind
	taskID string
	err    error
}

// taskState is the scheduler's private view of one task. Only the scheduler
// goroutine reads or writes it.
type taskState struct {
	task        *Task
	status      models.TaskStatus
	outstanding int // dependencies not yet succeeded
	attempts    int
	maxAttempts int
}

// scheduler drives one mission: a single goroutine owns every task-state
// transition while a bounded pool of workers executes tasks. Workers talk to
// the scheduler exclusively through the ready queue (receive) and the notes
// channel (send); they never touch the state table.
type scheduler struct {
	missionID string
	threadID  string
	graph     *TaskGraph
	settings  schedulerSettings

	store   MissionStore
	outputs OutputStore
	runner  InstanceRunner
	reducer *Reducer
	fetcher SourceFetcher
	sink    EventSink
	log     *slog.Logger

	ready chan string
	notes chan workerNote

	state      map[string]*taskState
	dependents map[string][]string
	order      []string // sorted task ids, for deterministic sweeps
	remaining  int      // tasks not yet terminal
	failing    bool     // mission outcome decided; no further admissions
	cancelling bool     // mission context cancelled; completions become cancellations
	missionErr string   // first terminal failure reason
}

func newScheduler(
	missionID, threadID string,
	graph *TaskGraph,
	settings schedulerSettings,
	store MissionStore,
	outputs OutputStore,
	runner InstanceRunner,
	reducer *Reducer,
	fetcher SourceFetcher,
	sink EventSink,
) *scheduler {
	s := &scheduler{
		missionID:  missionID,
		threadID:   threadID,
		graph:      graph,
		settings:   settings,
		store:      store,
		outputs:    outputs,
		runner:     runner,
		reducer:    reducer,
		fetcher:    fetcher,
		sink:       sink,
		log:        slog.With("component", "scheduler", "mission_id", missionID),
		state:      make(map[string]*taskState, len(graph.Tasks)),
		dependents: make(map[string][]string, len(graph.Tasks)),
		remaining:  len(graph.Tasks),
	}

	// The channel capacities cover every enqueue the mission can ever make
	// (one admission plus retries per task), so neither side ever blocks on
	// the other.
	budget := 0
	for id, t := range graph.Tasks {
		maxAttempts := 1
		if t.Kind == models.TaskKindInstance {
			maxAttempts = settings.maxAttempts
			if t.Instance.MaxAttempts > 0 {
				maxAttempts = t.Instance.MaxAttempts
			}
			if maxAttempts < 1 {
				maxAttempts = 1
			}
		}
		budget += maxAttempts
		s.state[id] = &taskState{
			task:        t,
			status:      models.TaskPending,
			outstanding: len(t.DependsOn),
			maxAttempts: maxAttempts,
		}
		s.order = append(s.order, id)
		for _, dep := range t.DependsOn {
			s.dependents[dep] = append(s.dependents[dep], id)
		}
	}
	sort.Strings(s.order)
	for _, deps := range s.dependents {
		sort.Strings(deps)
	}
	s.ready = make(chan string, budget)
	s.notes = make(chan workerNote, 2*budget)
	return s
}

// run executes the mission to a terminal state and returns it. Cancelling
// ctx stops admissions, cancels what has not started, and lets running tasks
// observe the cancellation.
func (s *scheduler) run(ctx context.Context) (models.MissionStatus, string) {
	if err := s.store.RecordTasks(ctx, s.missionID, s.graph.TaskRows()); err != nil {
		s.log.Error("Failed to record mission tasks", "error", err)
		return s.finalize(models.MissionFailed, "failed to record tasks: "+err.Error())
	}
	if err := s.store.MarkMissionRunning(ctx, s.missionID); err != nil {
		s.log.Error("Failed to mark mission running", "error", err)
		return s.finalize(models.MissionFailed, "failed to mark mission running: "+err.Error())
	}
	s.publishMission(events.EventTypeMissionStarted, models.MissionRunning, "")
	s.log.Info("Mission started", "tasks", len(s.graph.Tasks), "workers", s.settings.workers,
		"fail_fast", s.settings.failFast)

	var wg sync.WaitGroup
	for i := 0; i < s.settings.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(ctx)
		}()
	}

	for _, id := range s.graph.Roots {
		s.admit(ctx, id)
	}

	done := ctx.Done()
	for s.remaining > 0 {
		select {
		case note := <-s.notes:
			s.handleNote(ctx, note)
		case <-done:
			done = nil
			s.beginCancellation(ctx)
		}
	}

	close(s.ready)
	wg.Wait()

	status, errMsg := s.outcome()
	return s.finalize(status, errMsg)
}

// admit moves a pending task whose dependencies have all succeeded into the
// ready queue. Each task is admitted at most once; retries re-queue without
// passing through here.
func (s *scheduler) admit(ctx context.Context, id string) {
	st := s.state[id]
	if st.status != models.TaskPending {
		s.abort(ctx, fmt.Sprintf("task %s admitted twice (state %s)", id, st.status))
		return
	}
	for _, dep := range st.task.DependsOn {
		if s.state[dep].status != models.TaskSucceeded {
			s.abort(ctx, fmt.Sprintf("task %s admitted with dependency %s in state %s",
				id, dep, s.state[dep].status))
			return
		}
	}
	st.status = models.TaskReady
	s.persistTask(ctx, id, models.TaskReady, "")
	s.ready <- id
}

func (s *scheduler) handleNote(ctx context.Context, note workerNote) {
	st := s.state[note.taskID]
	switch note.kind {
	case noteStarted:
		if st.status != models.TaskReady {
			s.abort(ctx, fmt.Sprintf("task %s picked up in state %s", note.taskID, st.status))
			return
		}
		st.status = models.TaskRunning
		st.attempts++
		s.persistTask(ctx, note.taskID, models.TaskRunning, "")
		s.publishTask(events.EventTypeTaskStarted, st, "")
	case noteDone:
		if st.status != models.TaskRunning {
			s.abort(ctx, fmt.Sprintf("task %s completed in state %s", note.taskID, st.status))
			return
		}
		if note.err == nil {
			s.completeSuccess(ctx, st)
		} else {
			s.completeFailure(ctx, st, note.err)
		}
	}
}

func (s *scheduler) completeSuccess(ctx context.Context, st *taskState) {
	st.status = models.TaskSucceeded
	s.remaining--
	s.persistTask(ctx, st.task.ID, models.TaskSucceeded, "")
	s.publishTask(events.EventTypeTaskSucceeded, st, "")

	if s.failing {
		return
	}
	for _, dep := range s.dependents[st.task.ID] {
		ds := s.state[dep]
		if ds.status != models.TaskPending {
			continue
		}
		ds.outstanding--
		if ds.outstanding == 0 {
			s.admit(ctx, dep)
		}
	}
}

func (s *scheduler) completeFailure(ctx context.Context, st *taskState, taskErr error) {
	id := st.task.ID
	if s.cancelling {
		s.cancelTask(ctx, st, "mission cancelled")
		return
	}

	retryable := st.task.Kind == models.TaskKindInstance &&
		!isPermanent(taskErr) &&
		st.attempts < st.maxAttempts &&
		!s.failing
	if retryable {
		st.status = models.TaskReady
		s.persistTask(ctx, id, models.TaskReady, failureReason(taskErr))
		s.log.Warn("Task attempt failed, retrying",
			"task_id", id, "attempt", st.attempts, "max_attempts", st.maxAttempts, "error", taskErr)
		s.ready <- id
		return
	}

	reason := failureReason(taskErr)
	st.status = models.TaskFailed
	s.remaining--
	s.persistTask(ctx, id, models.TaskFailed, reason)
	s.publishTask(events.EventTypeTaskFailed, st, reason)
	s.log.Warn("Task failed", "task_id", id, "attempts", st.attempts, "reason", reason)

	if s.failing {
		return
	}
	if s.missionErr == "" {
		s.missionErr = fmt.Sprintf("task %s failed: %s", id, reason)
	}
	if s.settings.failFast {
		s.failing = true
		s.cancelNotStarted(ctx, "cancelled by fail-fast")
	} else {
		s.cancelDescendants(ctx, id)
	}
}

// cancelNotStarted cancels every task that has not been handed to a worker.
// Tasks already in the ready queue are left alone: a worker may be pulling
// them concurrently, and a failed task's descendants are never queued anyway
// (their dependencies did not all succeed).
func (s *scheduler) cancelNotStarted(ctx context.Context, reason string) {
	for _, id := range s.order {
		if st := s.state[id]; st.status == models.TaskPending {
			s.cancelTask(ctx, st, reason)
		}
	}
}

// cancelDescendants cancels every transitive dependent of the failed task.
// All of them are still pending: none can have been admitted, since their
// dependency chain includes the failure.
func (s *scheduler) cancelDescendants(ctx context.Context, failedID string) {
	visited := map[string]bool{failedID: true}
	queue := []string{failedID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range s.dependents[id] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if st := s.state[dep]; st.status == models.TaskPending {
				s.cancelTask(ctx, st, "dependency failed")
			}
			queue = append(queue, dep)
		}
	}
}

func (s *scheduler) cancelTask(ctx context.Context, st *taskState, reason string) {
	st.status = models.TaskCancelled
	s.remaining--
	s.persistTask(ctx, st.task.ID, models.TaskCancelled, reason)
	s.publishTask(events.EventTypeTaskCancelled, st, "")
}

// beginCancellation handles external mission cancellation: pending tasks are
// cancelled immediately, queued and running ones observe the cancelled
// context and drain through the normal completion path.
func (s *scheduler) beginCancellation(ctx context.Context) {
	if s.cancelling {
		return
	}
	s.cancelling = true
	s.failing = true
	s.log.Info("Mission cancellation requested")
	for _, id := range s.order {
		if st := s.state[id]; st.status == models.TaskPending {
			s.cancelTask(ctx, st, "mission cancelled")
		}
	}
}

// abort is the fatal path: the scheduler's own bookkeeping contradicted
// itself. The mission is failed, nothing new is admitted, and whatever is
// already executing drains.
func (s *scheduler) abort(ctx context.Context, reason string) {
	s.log.Error("Scheduler invariant violated, aborting mission", "reason", reason)
	if s.missionErr == "" {
		s.missionErr = "scheduler invariant violated: " + reason
	}
	if !s.failing {
		s.failing = true
		s.cancelNotStarted(ctx, "mission aborted")
	}
}

func (s *scheduler) outcome() (models.MissionStatus, string) {
	if s.cancelling {
		return models.MissionCancelled, ""
	}
	for _, id := range s.order {
		if s.state[id].status == models.TaskFailed {
			return models.MissionFailed, s.missionErr
		}
	}
	if s.failing {
		return models.MissionFailed, s.missionErr
	}
	return models.MissionSucceeded, ""
}

// finalize persists the terminal mission state and publishes the matching
// event. Uses a fresh context: the mission context may already be cancelled.
func (s *scheduler) finalize(status models.MissionStatus, errMsg string) (models.MissionStatus, string) {
	if err := s.store.CompleteMission(context.Background(), s.missionID, status, errMsg); err != nil {
		s.log.Error("Failed to persist terminal mission state", "status", status, "error", err)
	}
	s.publishMission(missionEventType(status), status, errMsg)
	s.log.Info("Mission finished", "status", status, "error", errMsg)
	return status, errMsg
}

func (s *scheduler) persistTask(ctx context.Context, taskID string, status models.TaskStatus, reason string) {
	if err := s.store.UpdateTaskStatus(ctx, s.missionID, taskID, status, reason); err != nil {
		s.log.Warn("Failed to persist task status", "task_id", taskID, "status", status, "error", err)
	}
}

func (s *scheduler) publishMission(eventType string, status models.MissionStatus, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.sink.PublishMissionStatus(ctx, events.MissionStatusPayload{
		Type:      eventType,
		MissionID: s.missionID,
		ThreadID:  s.threadID,
		Status:    status,
		Error:     errMsg,
	}); err != nil {
		s.log.Warn("Failed to publish mission event", "type", eventType, "error", err)
	}
}

func (s *scheduler) publishTask(eventType string, st *taskState, reason string) {
	payload := events.TaskStatusPayload{
		Type:      eventType,
		MissionID: s.missionID,
		TaskID:    st.task.ID,
		Kind:      st.task.Kind,
		Reason:    reason,
	}
	if eventType == events.EventTypeTaskStarted {
		payload.Attempt = st.attempts
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.sink.PublishTaskStatus(ctx, payload); err != nil {
		s.log.Warn("Failed to publish task event", "type", eventType, "task_id", st.task.ID, "error", err)
	}
}

func missionEventType(status models.MissionStatus) string {
	switch status {
	case models.MissionSucceeded:
		return events.EventTypeMissionSucceeded
	case models.MissionCancelled:
		return events.EventTypeMissionCancelled
	default:
		return events.EventTypeMissionFailed
	}
}
