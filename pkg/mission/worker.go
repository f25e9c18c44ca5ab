package mission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-labs/surveyor/pkg/models"
	"github.com/meridian-labs/surveyor/pkg/runtime"
	"github.com/meridian-labs/surveyor/pkg/services"
)

// permanentError marks a task failure that retrying cannot fix: an
// approval-gated tool in a non-interactive run, a missing dependency output,
// a malformed payload.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// failureReason renders a task error as the reason recorded on the task row
// and the task_failed event.
func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}

// workerLoop pulls task ids off the ready queue until it closes. Each pickup
// and completion is reported to the scheduler; the worker itself never
// touches task state.
func (s *scheduler) workerLoop(ctx context.Context) {
	for taskID := range s.ready {
		s.notes <- workerNote{kind: noteStarted, taskID: taskID}
		err := s.executeTask(ctx, taskID)
		s.notes <- workerNote{kind: noteDone, taskID: taskID, err: err}
	}
}

func (s *scheduler) executeTask(ctx context.Context, taskID string) error {
	t := s.graph.Tasks[taskID]
	timeout := s.settings.defaultTimeout
	if t.Kind == models.TaskKindInstance && t.Instance.TimeoutSeconds > 0 {
		timeout = time.Duration(t.Instance.TimeoutSeconds) * time.Second
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch t.Kind {
	case models.TaskKindInstance:
		return s.executeInstance(taskCtx, t)
	case models.TaskKindReduce:
		return s.executeReduce(taskCtx, t)
	default:
		return permanent(fmt.Errorf("unknown task kind %q", t.Kind))
	}
}

// executeInstance loads the cited previous outputs, runs the agent, and
// stores the output record under the instance id. The output write precedes
// the completion report, so dependents are only ever admitted after their
// inputs are durable.
func (s *scheduler) executeInstance(ctx context.Context, t *Task) error {
	inst := t.Instance
	input := &runtime.TaskInput{
		MissionID:      s.missionID,
		TaskID:         t.ID,
		InstanceID:     inst.InstanceID,
		AgentType:      inst.AgentType,
		Objectives:     inst.Objectives,
		SeedContext:    inst.SeedContext,
		StarterSources: s.fetchSources(ctx, inst.StarterSources),
		AllowedTools:   inst.AllowedTools,
		MaxSteps:       inst.MaxSteps,
	}

	if len(inst.RequiresOutputsFrom) > 0 {
		prev, err := s.outputs.GetOutputs(ctx, s.missionID, inst.RequiresOutputsFrom)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				// Every cited instance succeeded before this task was
				// admitted, so a missing record means the store lost a
				// write. Retrying cannot produce it.
				return permanent(fmt.Errorf("dependency output missing: %w", err))
			}
			return fmt.Errorf("failed to load previous outputs: %w", err)
		}
		input.PreviousOutputs = prev
	}

	record, err := s.runner.RunInstance(ctx, input)
	if err != nil {
		if errors.Is(err, runtime.ErrRequiresApproval) {
			return permanent(err)
		}
		return err
	}

	if err := s.outputs.PutOutput(ctx, s.missionID, inst.InstanceID, record); err != nil {
		return fmt.Errorf("failed to store instance output: %w", err)
	}
	return nil
}

// fetchSources resolves starter source URLs best-effort. A source that
// cannot be fetched rides along with an inline error note instead of
// failing the task; the agent decides what to do without it.
func (s *scheduler) fetchSources(ctx context.Context, urls []string) []runtime.SourceContent {
	if len(urls) == 0 {
		return nil
	}
	out := make([]runtime.SourceContent, 0, len(urls))
	for _, u := range urls {
		content, err := s.fetcher.Fetch(ctx, u)
		if err != nil {
			s.log.Warn("Starter source fetch failed", "url", u, "error", err)
			content = fmt.Sprintf("(fetch failed: %v)", err)
		}
		out = append(out, runtime.SourceContent{URL: u, Content: content})
	}
	return out
}

// executeReduce loads every member output and combines them per the
// sub-stage's aggregation mode, storing the result under the sub-stage id.
func (s *scheduler) executeReduce(ctx context.Context, t *Task) error {
	ss := t.SubStage
	outs, err := s.outputs.GetOutputs(ctx, s.missionID, ss.AgentInstances)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return permanent(fmt.Errorf("member output missing: %w", err))
		}
		return fmt.Errorf("failed to load member outputs: %w", err)
	}

	members := make([]Member, 0, len(ss.AgentInstances))
	for _, id := range ss.AgentInstances {
		members = append(members, Member{InstanceID: id, Output: outs[id]})
	}

	record, err := s.reducer.Reduce(ctx, ss.OutputAggregation, members)
	if err != nil {
		return fmt.Errorf("%s aggregation failed: %w", ss.aggregationOrDefault(), err)
	}

	if err := s.outputs.PutOutput(ctx, s.missionID, ss.SubStageID, record); err != nil {
		return fmt.Errorf("failed to store reduce output: %w", err)
	}
	return nil
}

func (ss *SubStage) aggregationOrDefault() Aggregation {
	if ss.OutputAggregation == "" {
		return AggregationMergeAll
	}
	return ss.OutputAggregation
}
