package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoLocalTool records invocations and replies with a fixed result.
type echoLocalTool struct {
	name     string
	threadID string
	call     ToolCall
	result   *ToolResult
	err      error
}

func (e *echoLocalTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:             e.name,
		Description:      "test tool served in-process",
		ParametersSchema: `{"type":"object"}`,
	}
}

func (e *echoLocalTool) Invoke(_ context.Context, threadID string, call ToolCall) (*ToolResult, error) {
	e.threadID = threadID
	e.call = call
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		return e.result, nil
	}
	return &ToolResult{CallID: call.ID, Content: "handled locally"}, nil
}

func TestLocalTool_InvokedWithThreadID(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(LLMScriptEntry{Chunks: []Chunk{
		&ToolCallChunk{CallID: "call-1", Name: "host.launch", Arguments: `{"title":"x"}`},
	}})
	llm.AddSequential(LLMScriptEntry{Text: "Done."})

	tools := NewStubToolExecutor()
	adapter, _ := newTestAdapter(llm, tools, 5)
	local := &echoLocalTool{name: "host.launch"}
	adapter.RegisterLocalTool(local)

	stream, err := adapter.StreamTurn(context.Background(), "thread-9", "launch it")
	require.NoError(t, err)
	drainEvents(t, stream)

	// The call went to the local tool, carrying the turn's thread id; the
	// executor never saw it.
	assert.Equal(t, "thread-9", local.threadID)
	assert.Equal(t, "call-1", local.call.ID)
	assert.Empty(t, tools.Calls())
}

func TestLocalTool_DefinitionOfferedToModel(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(LLMScriptEntry{Text: "No tools needed."})

	adapter, _ := newTestAdapter(llm, NewStubToolExecutor(ToolDefinition{Name: "web.search"}), 5)
	adapter.RegisterLocalTool(&echoLocalTool{name: "host.launch"})

	stream, err := adapter.StreamTurn(context.Background(), "thread-1", "hello")
	require.NoError(t, err)
	drainEvents(t, stream)

	inputs := llm.CapturedInputs()
	require.NotEmpty(t, inputs)
	names := make([]string, 0, len(inputs[0].Tools))
	for _, def := range inputs[0].Tools {
		names = append(names, def.Name)
	}
	assert.Contains(t, names, "web.search")
	assert.Contains(t, names, "host.launch")
}

func TestLocalTool_GatingStillApplies(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(LLMScriptEntry{Chunks: []Chunk{
		&ToolCallChunk{CallID: "call-1", Name: "create_research_plan", Arguments: `{"budget":3}`},
	}})

	adapter, _ := newTestAdapter(llm, NewStubToolExecutor(), 5)
	local := &echoLocalTool{name: "create_research_plan"}
	adapter.RegisterLocalTool(local)

	stream, err := adapter.StreamTurn(context.Background(), "thread-1", "plan it")
	require.NoError(t, err)
	events := drainEvents(t, stream)

	// The gated policy suspends the turn before the local tool runs.
	var interrupted bool
	for _, ev := range events {
		if _, ok := ev.(*InterruptEvent); ok {
			interrupted = true
		}
	}
	assert.True(t, interrupted, "expected the turn to suspend on the gated call")
	assert.Empty(t, local.threadID, "local tool must not run before approval")
}
