package runtime

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/models"
)

func newTestAdapter(llm *ScriptedLLMClient, tools *StubToolExecutor, maxSteps int) (*Adapter, *MemoryThreadStore) {
	policies := config.NewToolPolicyRegistry(map[string]*config.ToolPolicy{
		"create_research_plan": {
			RequiresApproval: true,
			DescribeTemplate: "Create a research plan with budget {{.budget}}",
		},
	})
	provider := &config.LLMProviderConfig{
		Type:  config.LLMProviderTypeAnthropic,
		Model: "claude-sonnet-4-5",
	}
	store := NewMemoryThreadStore()
	adapter := NewAdapter(llm, tools, policies, store, provider, maxSteps)
	return adapter, store
}

// drainEvents collects a stream until the channel closes.
func drainEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out draining events, got %d so far", len(events))
		}
	}
}

func contentText(events []Event) string {
	text := ""
	for _, ev := range events {
		if delta, ok := ev.(*ContentDeltaEvent); ok {
			text += delta.Text
		}
	}
	return text
}

func TestStreamTurn_PlainAnswer(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(LLMScriptEntry{Chunks: []Chunk{
		&ThinkingChunk{Content: "considering"},
		&TextChunk{Content: "Hello, "},
		&TextChunk{Content: "world."},
		&UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}})
	adapter, store := newTestAdapter(llm, NewStubToolExecutor(), 5)

	stream, err := adapter.StreamTurn(context.Background(), "thread-1", "say hello")
	require.NoError(t, err)
	events := drainEvents(t, stream)

	require.NotEmpty(t, events)
	assert.IsType(t, &ThinkingEvent{}, events[0])
	assert.IsType(t, &DoneEvent{}, events[len(events)-1])
	assert.Equal(t, "Hello, world.", contentText(events))

	msgs := store.Messages("thread-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "say hello", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello, world.", msgs[1].Content)
}

func TestStreamTurn_UngatedToolExecutes(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(LLMScriptEntry{Chunks: []Chunk{
		&ToolCallChunk{CallID: "call-1", Name: "search.web", Arguments: `{"query":"golang"}`},
	}})
	llm.AddSequential(LLMScriptEntry{Text: "Found it."})

	tools := NewStubToolExecutor(ToolDefinition{Name: "search.web"})
	tools.SetResult("search.web", &ToolResult{Content: "result data"})
	adapter, _ := newTestAdapter(llm, tools, 5)

	stream, err := adapter.StreamTurn(context.Background(), "thread-1", "look this up")
	require.NoError(t, err)
	events := drainEvents(t, stream)

	assert.IsType(t, &DoneEvent{}, events[len(events)-1])
	require.Len(t, tools.Calls(), 1)
	assert.Equal(t, "search.web", tools.Calls()[0].Name)

	// The tool result is in the working transcript for the second call.
	inputs := llm.CapturedInputs()
	require.Len(t, inputs, 2)
	lastMsg := inputs[1].Messages[len(inputs[1].Messages)-1]
	assert.Equal(t, "tool", lastMsg.Role)
	assert.Equal(t, "result data", lastMsg.Content)
}

func TestStreamTurn_GatedToolSuspends(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(LLMScriptEntry{Chunks: []Chunk{
		&TextChunk{Content: "I will draft a plan. "},
		&ToolCallChunk{CallID: "call-1", Name: "create_research_plan", Arguments: `{"budget":50}`},
	}})
	tools := NewStubToolExecutor(ToolDefinition{Name: "create_research_plan"})
	adapter, _ := newTestAdapter(llm, tools, 5)

	stream, err := adapter.StreamTurn(context.Background(), "thread-1", "draft a plan for X")
	require.NoError(t, err)
	events := drainEvents(t, stream)

	require.NotEmpty(t, events)
	last, ok := events[len(events)-1].(*InterruptEvent)
	require.True(t, ok, "stream should end with an interrupt")
	require.Len(t, last.Interrupt.ActionRequests, 1)
	assert.Equal(t, "create_research_plan", last.Interrupt.ActionRequests[0].Name)
	assert.Equal(t, float64(50), last.Interrupt.ActionRequests[0].Args["budget"])
	assert.Equal(t, "Create a research plan with budget 50", last.Interrupt.ActionRequests[0].Description)
	assert.Equal(t,
		[]DecisionKind{DecisionApprove, DecisionEdit, DecisionReject},
		last.Interrupt.AllowedDecisions)

	// Nothing ran, and the interrupt is durable.
	assert.Empty(t, tools.Calls())
	pending, err := adapter.PendingInterrupt(context.Background(), "thread-1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, last.Interrupt.ID, pending.Interrupt.ID)
}

func TestStreamTurn_ReplaysPersistedInterrupt(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(LLMScriptEntry{Chunks: []Chunk{
		&ToolCallChunk{CallID: "call-1", Name: "create_research_plan", Arguments: `{"budget":50}`},
	}})
	adapter, _ := newTestAdapter(llm, NewStubToolExecutor(), 5)

	stream, err := adapter.StreamTurn(context.Background(), "thread-1", "draft a plan")
	require.NoError(t, err)
	first := drainEvents(t, stream)
	intr, ok := first[len(first)-1].(*InterruptEvent)
	require.True(t, ok)

	// A later session sends a new message; the interrupt comes back instead
	// of a fresh turn.
	stream, err = adapter.StreamTurn(context.Background(), "thread-1", "any news?")
	require.NoError(t, err)
	replayed := drainEvents(t, stream)

	require.Len(t, replayed, 1)
	replayedIntr, ok := replayed[0].(*InterruptEvent)
	require.True(t, ok)
	assert.Equal(t, intr.Interrupt.ID, replayedIntr.Interrupt.ID)
	assert.Equal(t, 1, llm.CallCount(), "no LLM call while suspended")
}

func TestResumeTurn_Approve(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(LLMScriptEntry{Chunks: []Chunk{
		&TextChunk{Content: "I will draft a plan. "},
		&ToolCallChunk{CallID: "call-1", Name: "create_research_plan", Arguments: `{"budget":50}`},
	}})
	llm.AddSequential(LLMScriptEntry{Text: "Plan submitted."})

	tools := NewStubToolExecutor(ToolDefinition{Name: "create_research_plan"})
	tools.SetResult("create_research_plan", &ToolResult{Content: "plan accepted"})
	adapter, store := newTestAdapter(llm, tools, 5)

	stream, err := adapter.StreamTurn(context.Background(), "thread-1", "draft a plan for X")
	require.NoError(t, err)
	firstEvents := drainEvents(t, stream)

	stream, err = adapter.ResumeTurn(context.Background(), "thread-1", []Decision{{Kind: DecisionApprove}})
	require.NoError(t, err)
	resumeEvents := drainEvents(t, stream)

	assert.IsType(t, &DoneEvent{}, resumeEvents[len(resumeEvents)-1])

	// Approve runs the call with its original arguments.
	require.Len(t, tools.Calls(), 1)
	assert.Equal(t, `{"budget":50}`, tools.Calls()[0].Arguments)

	// The persisted assistant message spans the whole turn.
	full := contentText(firstEvents) + contentText(resumeEvents)
	msgs := store.Messages("thread-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, full, msgs[1].Content)
	assert.Equal(t, "I will draft a plan. Plan submitted.", msgs[1].Content)

	// The interrupt is consumed.
	pending, err := adapter.PendingInterrupt(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestResumeTurn_EditRunsReplacementArguments(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(LLMScriptEntry{Chunks: []Chunk{
		&ToolCallChunk{CallID: "call-1", Name: "create_research_plan", Arguments: `{"budget":50}`},
	}})
	llm.AddSequential(LLMScriptEntry{Text: "Plan submitted with the adjusted budget."})

	tools := NewStubToolExecutor(ToolDefinition{Name: "create_research_plan"})
	adapter, _ := newTestAdapter(llm, tools, 5)

	stream, err := adapter.StreamTurn(context.Background(), "thread-1", "draft a plan")
	require.NoError(t, err)
	drainEvents(t, stream)

	stream, err = adapter.ResumeTurn(context.Background(), "thread-1", []Decision{{
		Kind: DecisionEdit,
		EditedAction: &ActionRequest{
			Name: "create_research_plan",
			Args: map[string]any{"budget": 30},
		},
	}})
	require.NoError(t, err)
	events := drainEvents(t, stream)
	assert.IsType(t, &DoneEvent{}, events[len(events)-1])

	require.Len(t, tools.Calls(), 1)
	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(tools.Calls()[0].Arguments), &args))
	assert.Equal(t, float64(30), args["budget"])
}

func TestResumeTurn_RejectSkipsExecution(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(LLMScriptEntry{Chunks: []Chunk{
		&ToolCallChunk{CallID: "call-1", Name: "create_research_plan", Arguments: `{"budget":50}`},
	}})
	llm.AddSequential(LLMScriptEntry{Text: "Understood, the budget was too high. What limit should I plan against?"})

	tools := NewStubToolExecutor(ToolDefinition{Name: "create_research_plan"})
	adapter, _ := newTestAdapter(llm, tools, 5)

	stream, err := adapter.StreamTurn(context.Background(), "thread-1", "draft a plan")
	require.NoError(t, err)
	drainEvents(t, stream)

	stream, err = adapter.ResumeTurn(context.Background(), "thread-1",
		[]Decision{{Kind: DecisionReject, Message: "budget too high"}})
	require.NoError(t, err)
	events := drainEvents(t, stream)
	assert.IsType(t, &DoneEvent{}, events[len(events)-1])

	// Rejected tools never run; the model sees the rejection reason.
	assert.Empty(t, tools.Calls())
	inputs := llm.CapturedInputs()
	resumeInput := inputs[len(inputs)-1]
	found := false
	for _, msg := range resumeInput.Messages {
		if msg.Role == "system" && strings.Contains(msg.Content, "budget too high") {
			found = true
		}
	}
	assert.True(t, found, "rejection reason should be injected into the conversation")
}

func TestResumeTurn_Validation(t *testing.T) {
	llm := NewScriptedLLMClient()
	adapter, _ := newTestAdapter(llm, NewStubToolExecutor(), 5)

	_, err := adapter.ResumeTurn(context.Background(), "thread-1", []Decision{{Kind: DecisionApprove}})
	assert.ErrorIs(t, err, ErrNoPendingInterrupt)

	llm.AddSequential(LLMScriptEntry{Chunks: []Chunk{
		&ToolCallChunk{CallID: "call-1", Name: "create_research_plan", Arguments: `{}`},
	}})
	stream, err := adapter.StreamTurn(context.Background(), "thread-1", "plan")
	require.NoError(t, err)
	drainEvents(t, stream)

	_, err = adapter.ResumeTurn(context.Background(), "thread-1", nil)
	assert.ErrorIs(t, err, ErrDecisionCountMismatch)

	_, err = adapter.ResumeTurn(context.Background(), "thread-1", []Decision{{Kind: "defer"}})
	assert.Error(t, err)
}

func TestStreamTurn_ForcesConclusionAtStepBudget(t *testing.T) {
	llm := NewScriptedLLMClient()
	// Two steps of tool calls, then the forced conclusion without tools.
	for i := 0; i < 2; i++ {
		llm.AddSequential(LLMScriptEntry{Chunks: []Chunk{
			&ToolCallChunk{CallID: "call", Name: "search.web", Arguments: `{}`},
		}})
	}
	llm.AddSequential(LLMScriptEntry{Text: "Best answer available."})

	tools := NewStubToolExecutor(ToolDefinition{Name: "search.web"})
	adapter, store := newTestAdapter(llm, tools, 2)

	stream, err := adapter.StreamTurn(context.Background(), "thread-1", "dig deep")
	require.NoError(t, err)
	events := drainEvents(t, stream)

	assert.IsType(t, &DoneEvent{}, events[len(events)-1])
	assert.Equal(t, 3, llm.CallCount())

	inputs := llm.CapturedInputs()
	assert.Empty(t, inputs[2].Tools, "forced conclusion must not offer tools")

	msgs := store.Messages("thread-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "Best answer available.", msgs[1].Content)
}

func TestStreamTurn_ConsumerCancellationStopsTurn(t *testing.T) {
	llm := NewScriptedLLMClient()
	blocked := make(chan struct{}, 1)
	llm.AddSequential(LLMScriptEntry{BlockUntilCancelled: true, OnBlock: blocked})
	adapter, _ := newTestAdapter(llm, NewStubToolExecutor(), 5)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := adapter.StreamTurn(ctx, "thread-1", "hello")
	require.NoError(t, err)

	<-blocked
	cancel()

	events := drainEvents(t, stream)
	for _, ev := range events {
		_, isError := ev.(*ErrorEvent)
		assert.False(t, isError, "cancellation should not surface an error event")
	}
}
