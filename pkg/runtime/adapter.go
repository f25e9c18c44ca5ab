package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/models"
)

// Adapter-level sentinel errors.
var (
	// ErrNoPendingInterrupt indicates ResumeTurn was called on a thread
	// whose checkpoint holds no pending interrupt.
	ErrNoPendingInterrupt = errors.New("no pending interrupt for thread")

	// ErrDecisionCountMismatch indicates the delivered decisions do not
	// align one-to-one with the interrupt's action requests.
	ErrDecisionCountMismatch = errors.New("decision count does not match action requests")
)

// DefaultMaxSteps bounds a conversational turn when no explicit step budget
// is configured.
const DefaultMaxSteps = 10

// eventBuffer is the capacity of a turn's event channel. Consumers that fall
// behind briefly do not stall the loop; a cancelled consumer context releases
// the producer.
const eventBuffer = 16

// ThreadStore persists conversation messages and agent checkpoints for
// interactive turns. Implemented by services.ThreadService.
type ThreadStore interface {
	// AppendMessage appends a human-visible message to the thread log.
	AppendMessage(ctx context.Context, req models.AppendMessageRequest) (*models.Message, error)

	// SaveCheckpoint stores the full agent state for the thread.
	SaveCheckpoint(ctx context.Context, threadID string, state json.RawMessage) error

	// LoadCheckpoint returns the stored state, or nil when none exists.
	LoadCheckpoint(ctx context.Context, threadID string) (json.RawMessage, error)
}

// Adapter drives the conversational agent for a thread: the multi-step tool
// calling loop, gating of approval-required tools, and checkpoint
// persistence between turns and across interrupts.
//
// A single Adapter serves all threads; per-turn state lives in the
// checkpoint, never in the Adapter.
type Adapter struct {
	llm      LLMClient
	tools    ToolExecutor
	local    map[string]LocalTool
	policies *config.ToolPolicyRegistry
	store    ThreadStore
	provider *config.LLMProviderConfig
	maxSteps int
	log      *slog.Logger
}

// NewAdapter creates a conversational agent adapter. maxSteps bounds the
// tool-calling loop per logical turn; zero or negative selects
// DefaultMaxSteps.
func NewAdapter(
	llm LLMClient,
	tools ToolExecutor,
	policies *config.ToolPolicyRegistry,
	store ThreadStore,
	provider *config.LLMProviderConfig,
	maxSteps int,
) *Adapter {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Adapter{
		llm:      llm,
		tools:    tools,
		local:    make(map[string]LocalTool),
		policies: policies,
		store:    store,
		provider: provider,
		maxSteps: maxSteps,
		log:      slog.With("component", "runtime"),
	}
}

// StreamTurn starts a new conversational turn for the thread and returns its
// event stream. The user message is persisted before the turn starts.
//
// If the thread's checkpoint holds a pending interrupt from an earlier
// session, the stream replays that interrupt instead of starting a fresh
// turn; the caller obtains a decision and continues with ResumeTurn.
func (a *Adapter) StreamTurn(ctx context.Context, threadID, userMessage string) (<-chan Event, error) {
	cp, err := a.loadCheckpoint(ctx, threadID)
	if err != nil {
		return nil, err
	}
	pending, err := cp.PendingInterruptState()
	if err != nil {
		return nil, err
	}

	if _, err := a.store.AppendMessage(ctx, models.AppendMessageRequest{
		ThreadID: threadID,
		Role:     models.RoleUser,
		Content:  userMessage,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	cp.Conversation = append(cp.Conversation, ConversationMessage{
		Role:    string(models.RoleUser),
		Content: userMessage,
	})

	if pending != nil {
		// The previous session parked on this interrupt and went away. The
		// new message joins the transcript; the interrupt is surfaced again
		// so the client can answer it.
		if err := a.saveCheckpoint(ctx, threadID, cp); err != nil {
			return nil, err
		}
		a.log.Info("Replaying persisted interrupt",
			"thread_id", threadID, "interrupt_id", pending.Interrupt.ID)
		out := make(chan Event, 1)
		out <- &InterruptEvent{Interrupt: pending.Interrupt}
		close(out)
		return out, nil
	}

	out := make(chan Event, eventBuffer)
	go func() {
		defer close(out)
		t := &turnRunner{a: a, threadID: threadID, cp: cp, out: out}
		t.run(ctx)
	}()
	return out, nil
}

// ResumeTurn applies the human decisions to the pending interrupt and
// continues the suspended turn, returning the continuation's event stream.
// Decisions align one-to-one with the interrupt's action requests.
func (a *Adapter) ResumeTurn(ctx context.Context, threadID string, decisions []Decision) (<-chan Event, error) {
	cp, err := a.loadCheckpoint(ctx, threadID)
	if err != nil {
		return nil, err
	}
	pending, err := cp.PendingInterruptState()
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPendingInterrupt, threadID)
	}
	if len(decisions) != len(pending.Calls) {
		return nil, fmt.Errorf("%w: got %d, want %d",
			ErrDecisionCountMismatch, len(decisions), len(pending.Calls))
	}
	for i := range decisions {
		if err := decisions[i].Validate(); err != nil {
			return nil, err
		}
	}

	out := make(chan Event, eventBuffer)
	go func() {
		defer close(out)
		t := &turnRunner{a: a, threadID: threadID, cp: cp, out: out}
		t.resume(ctx, pending, decisions)
	}()
	return out, nil
}

// PendingInterrupt returns the thread's persisted interrupt in normalized
// form, or nil when the thread is not suspended.
func (a *Adapter) PendingInterrupt(ctx context.Context, threadID string) (*PendingInterrupt, error) {
	cp, err := a.loadCheckpoint(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return cp.PendingInterruptState()
}

// GetState returns the thread's raw checkpoint. Fresh threads yield an empty
// checkpoint rather than an error.
func (a *Adapter) GetState(ctx context.Context, threadID string) (*Checkpoint, error) {
	return a.loadCheckpoint(ctx, threadID)
}

func (a *Adapter) loadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	raw, err := a.store.LoadCheckpoint(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if len(raw) == 0 {
		return &Checkpoint{
			Conversation: []ConversationMessage{{
				Role:    string(models.RoleSystem),
				Content: conversationSystemPrompt(),
			}},
		}, nil
	}
	return DecodeCheckpoint(raw)
}

func (a *Adapter) saveCheckpoint(ctx context.Context, threadID string, cp *Checkpoint) error {
	raw, err := EncodeCheckpoint(cp)
	if err != nil {
		return err
	}
	if err := a.store.SaveCheckpoint(ctx, threadID, raw); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
