package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/models"
)

// Orchestrator-level sentinel errors.
var (
	// ErrShuttingDown indicates StartMission was called during shutdown.
	ErrShuttingDown = errors.New("orchestrator is shutting down")

	// ErrQueueFull indicates the admission backlog is at capacity.
	ErrQueueFull = errors.New("mission admission queue is full")
)

// queueBacklog is how many accepted missions may wait for an execution slot.
const queueBacklog = 64

// MissionRegistry persists mission lifecycles: row creation plus everything
// the per-mission scheduler needs. Implemented by services.MissionService.
type MissionRegistry interface {
	MissionStore
	CreateMission(ctx context.Context, req models.CreateMissionRequest) (*models.Mission, error)
}

// launch is one accepted mission waiting for an execution slot.
type launch struct {
	missionID string
	threadID  string
	plan      *Plan
	graph     *TaskGraph
}

// Orchestrator owns mission lifecycles. StartMission validates and compiles
// a plan, persists the mission, and queues it; a fixed set of runner
// goroutines (one execution slot each, so at most MaxConcurrentMissions
// missions execute at once) pull from the queue in admission order and
// drive a scheduler per mission.
type Orchestrator struct {
	cfg     *config.MissionsConfig
	store   MissionRegistry
	outputs OutputStore
	runner  InstanceRunner
	reducer *Reducer
	fetcher SourceFetcher
	sink    EventSink
	catalog Catalog
	log     *slog.Logger

	queue    chan *launch
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.RWMutex
	active  map[string]context.CancelFunc
	doomed  map[string]bool // cancel requests for missions still queued
	started bool
	stopped bool
}

// NewOrchestrator creates a mission orchestrator. Call Start to begin
// admitting queued missions.
func NewOrchestrator(
	cfg *config.MissionsConfig,
	store MissionRegistry,
	outputs OutputStore,
	runner InstanceRunner,
	reducer *Reducer,
	fetcher SourceFetcher,
	sink EventSink,
	catalog Catalog,
) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		outputs: outputs,
		runner:  runner,
		reducer: reducer,
		fetcher: fetcher,
		sink:    sink,
		catalog: catalog,
		log:     slog.With("component", "orchestrator"),
		queue:   make(chan *launch, queueBacklog),
		stopCh:  make(chan struct{}),
		active:  make(map[string]context.CancelFunc),
		doomed:  make(map[string]bool),
	}
}

// Start spawns the mission runner goroutines. Safe to call once; subsequent
// calls are no-ops.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		o.log.Warn("Orchestrator already started, ignoring duplicate Start call")
		return
	}
	o.started = true
	o.mu.Unlock()

	for i := 0; i < o.cfg.MaxConcurrentMissions; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runnerLoop()
		}()
	}
	o.log.Info("Mission orchestrator started",
		"max_concurrent_missions", o.cfg.MaxConcurrentMissions,
		"worker_pool_size", o.cfg.WorkerPoolSize)
}

func (o *Orchestrator) runnerLoop() {
	for {
		select {
		case <-o.stopCh:
			return
		case l := <-o.queue:
			o.execute(l)
		}
	}
}

// StartMission validates and compiles the plan, persists a pending mission,
// and queues it for execution. Returns the mission id; the mission itself
// runs asynchronously and reports progress through the event sink.
//
// Validation failures come back as a *CompileError so callers can show the
// agent every problem at once.
func (o *Orchestrator) StartMission(ctx context.Context, threadID string, plan *Plan) (string, error) {
	o.mu.RLock()
	stopped := o.stopped
	o.mu.RUnlock()
	if stopped {
		return "", ErrShuttingDown
	}

	missionID := uuid.New().String()
	graph, err := Compile(ctx, missionID, plan, o.catalog)
	if err != nil {
		return "", err
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("failed to encode plan: %w", err)
	}
	if _, err := o.store.CreateMission(ctx, models.CreateMissionRequest{
		MissionID: missionID,
		ThreadID:  threadID,
		FailFast:  plan.ResolveFailFast(o.cfg.FailFast()),
		Plan:      planJSON,
	}); err != nil {
		return "", fmt.Errorf("failed to create mission: %w", err)
	}

	select {
	case o.queue <- &launch{missionID: missionID, threadID: threadID, plan: plan, graph: graph}:
	default:
		o.failBeforeStart(missionID, threadID, "admission queue full")
		return "", ErrQueueFull
	}

	o.log.Info("Mission accepted",
		"mission_id", missionID, "thread_id", threadID, "tasks", len(graph.Tasks))
	return missionID, nil
}

// execute runs one mission to completion on the calling runner goroutine.
func (o *Orchestrator) execute(l *launch) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		o.failBeforeStart(l.missionID, l.threadID, "service shut down before start")
		return
	}
	if o.doomed[l.missionID] {
		delete(o.doomed, l.missionID)
		o.mu.Unlock()
		if err := o.store.CompleteMission(context.Background(), l.missionID, models.MissionCancelled, ""); err != nil {
			o.log.Error("Failed to mark queued mission cancelled", "mission_id", l.missionID, "error", err)
		}
		o.publishTerminal(l.missionID, l.threadID, models.MissionCancelled, "")
		o.log.Info("Mission cancelled before start", "mission_id", l.missionID)
		return
	}

	// Detached context: the mission outlives whatever request accepted it.
	ctx, cancel := context.WithCancel(context.Background())
	o.active[l.missionID] = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.active, l.missionID)
		o.mu.Unlock()
	}()

	settings := schedulerSettings{
		workers:        o.cfg.WorkerPoolSize,
		defaultTimeout: o.cfg.DefaultTaskTimeout(),
		maxAttempts:    o.cfg.TaskMaxAttempts,
		failFast:       l.plan.ResolveFailFast(o.cfg.FailFast()),
	}
	s := newScheduler(l.missionID, l.threadID, l.graph, settings,
		o.store, o.outputs, o.runner, o.reducer, o.fetcher, o.sink)
	s.run(ctx)
}

// CancelMission cancels an executing or queued mission. Returns true when
// the mission was executing and its context has been cancelled; false when
// it was only marked so it never starts. Callers are expected to have
// checked that the mission exists and is not already terminal.
func (o *Orchestrator) CancelMission(missionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.active[missionID]; ok {
		o.log.Info("Cancelling active mission", "mission_id", missionID)
		cancel()
		return true
	}
	o.doomed[missionID] = true
	o.log.Info("Mission marked for cancellation before start", "mission_id", missionID)
	return false
}

// ActiveMissions returns the ids of currently executing missions, sorted.
func (o *Orchestrator) ActiveMissions() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop refuses new missions and waits for executing ones to finish. If ctx
// expires first, active missions are cancelled and the wait continues until
// their schedulers drain. Queued missions that never got a slot are marked
// failed.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.stopOnce.Do(func() { close(o.stopCh) })

	active := o.ActiveMissions()
	if len(active) > 0 {
		o.log.Info("Waiting for active missions to complete",
			"count", len(active), "mission_ids", active)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		o.log.Warn("Shutdown budget exceeded, cancelling active missions")
		o.mu.RLock()
		for id, cancel := range o.active {
			o.log.Info("Cancelling mission for shutdown", "mission_id", id)
			cancel()
		}
		o.mu.RUnlock()
		<-done
	}

	o.drainQueue()
	o.log.Info("Mission orchestrator stopped")
	return err
}

// drainQueue fails accepted missions that never reached a runner. Only
// called after the runner goroutines have exited.
func (o *Orchestrator) drainQueue() {
	for {
		select {
		case l := <-o.queue:
			o.failBeforeStart(l.missionID, l.threadID, "service shut down before start")
		default:
			return
		}
	}
}

func (o *Orchestrator) failBeforeStart(missionID, threadID, reason string) {
	if err := o.store.CompleteMission(context.Background(), missionID, models.MissionFailed, reason); err != nil {
		o.log.Error("Failed to mark mission failed", "mission_id", missionID, "error", err)
	}
	o.publishTerminal(missionID, threadID, models.MissionFailed, reason)
	o.log.Info("Mission failed before start", "mission_id", missionID, "reason", reason)
}

func (o *Orchestrator) publishTerminal(missionID, threadID string, status models.MissionStatus, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.sink.PublishMissionStatus(ctx, events.MissionStatusPayload{
		Type:      missionEventType(status),
		MissionID: missionID,
		ThreadID:  threadID,
		Status:    status,
		Error:     errMsg,
	}); err != nil {
		o.log.Warn("Failed to publish mission event", "mission_id", missionID, "error", err)
	}
}
