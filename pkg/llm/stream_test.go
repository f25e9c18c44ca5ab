package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// scriptDecoder replays a fixed sequence of SSE events, optionally failing
// after the script runs out. Satisfies ssestream.Decoder.
type scriptDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *scriptDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *scriptDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *scriptDecoder) Close() error { return nil }
func (d *scriptDecoder) Err() error   { return d.err }

func sse(eventType, data string) ssestream.Event {
	return ssestream.Event{Type: eventType, Data: []byte(data)}
}

// runPump drains a scripted stream synchronously and returns every chunk.
func runPump(t *testing.T, dec *scriptDecoder, wireToCanon map[string]string) []runtime.Chunk {
	t.Helper()
	c := NewAnthropicClient()
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
	ch := make(chan runtime.Chunk, 64)
	c.pump(context.Background(), stream, wireToCanon, ch)

	var out []runtime.Chunk
	for chunk := range ch {
		out = append(out, chunk)
	}
	return out
}

func TestPump_TextAndUsage(t *testing.T) {
	dec := &scriptDecoder{events: []ssestream.Event{
		sse("message_start", `{"type":"message_start","message":{"id":"msg_01","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-20250514","usage":{"input_tokens":120,"output_tokens":1}}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Based on "}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"recent filings"}}`),
		sse("content_block_stop", `{"type":"content_block_stop","index":0}`),
		sse("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"input_tokens":120,"output_tokens":45}}`),
		sse("message_stop", `{"type":"message_stop"}`),
	}}

	chunks := runPump(t, dec, nil)
	require.Len(t, chunks, 3)

	first, ok := chunks[0].(*runtime.TextChunk)
	require.True(t, ok)
	assert.Equal(t, "Based on ", first.Content)

	second, ok := chunks[1].(*runtime.TextChunk)
	require.True(t, ok)
	assert.Equal(t, "recent filings", second.Content)

	usage, ok := chunks[2].(*runtime.UsageChunk)
	require.True(t, ok)
	assert.Equal(t, 120, usage.InputTokens)
	assert.Equal(t, 45, usage.OutputTokens)
	assert.Equal(t, 165, usage.TotalTokens)
}

func TestPump_ToolCall(t *testing.T) {
	dec := &scriptDecoder{events: []ssestream.Event{
		sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_01","name":"web__search","input":{}}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"battery density\"}"}}`),
		sse("content_block_stop", `{"type":"content_block_stop","index":0}`),
		sse("message_stop", `{"type":"message_stop"}`),
	}}

	chunks := runPump(t, dec, map[string]string{"web__search": "web.search"})
	require.Len(t, chunks, 1)

	call, ok := chunks[0].(*runtime.ToolCallChunk)
	require.True(t, ok)
	assert.Equal(t, "toolu_01", call.CallID)
	assert.Equal(t, "web.search", call.Name, "wire name should decode to canonical form")
	assert.JSONEq(t, `{"query": "battery density"}`, call.Arguments)
}

func TestPump_ToolCallWithoutArguments(t *testing.T) {
	dec := &scriptDecoder{events: []ssestream.Event{
		sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_02","name":"web__search","input":{}}}`),
		sse("content_block_stop", `{"type":"content_block_stop","index":0}`),
	}}

	chunks := runPump(t, dec, map[string]string{"web__search": "web.search"})
	require.Len(t, chunks, 1)

	call, ok := chunks[0].(*runtime.ToolCallChunk)
	require.True(t, ok)
	assert.Equal(t, "{}", call.Arguments)
}

func TestPump_HallucinatedToolName(t *testing.T) {
	// A name outside the advertised set has no reverse mapping; it passes
	// through so the executor can report it back as an error result.
	dec := &scriptDecoder{events: []ssestream.Event{
		sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_03","name":"imaginary_tool","input":{}}}`),
		sse("content_block_stop", `{"type":"content_block_stop","index":0}`),
	}}

	chunks := runPump(t, dec, map[string]string{"web__search": "web.search"})
	require.Len(t, chunks, 1)

	call, ok := chunks[0].(*runtime.ToolCallChunk)
	require.True(t, ok)
	assert.Equal(t, "imaginary_tool", call.Name)
}

func TestPump_Thinking(t *testing.T) {
	dec := &scriptDecoder{events: []ssestream.Event{
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Weighing source quality."}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Answer."}}`),
	}}

	chunks := runPump(t, dec, nil)
	require.Len(t, chunks, 2)

	thinking, ok := chunks[0].(*runtime.ThinkingChunk)
	require.True(t, ok)
	assert.Equal(t, "Weighing source quality.", thinking.Content)

	_, ok = chunks[1].(*runtime.TextChunk)
	require.True(t, ok)
}

func TestPump_StreamError(t *testing.T) {
	dec := &scriptDecoder{
		events: []ssestream.Event{
			sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`),
		},
		err: errors.New("connection reset by peer"),
	}

	chunks := runPump(t, dec, nil)
	require.Len(t, chunks, 2)

	_, ok := chunks[0].(*runtime.TextChunk)
	require.True(t, ok)

	errChunk, ok := chunks[1].(*runtime.ErrorChunk)
	require.True(t, ok)
	assert.Contains(t, errChunk.Message, "connection reset")
	assert.Equal(t, "stream_error", errChunk.Code)
	assert.False(t, errChunk.Retryable)
}

func TestPump_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewAnthropicClient()
	dec := &scriptDecoder{events: []ssestream.Event{
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"never delivered"}}`),
	}}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)

	// Unbuffered with no receiver: the send can only lose to ctx.Done.
	ch := make(chan runtime.Chunk)
	c.pump(ctx, stream, nil, ch)

	_, open := <-ch
	assert.False(t, open, "channel should be closed without chunks")
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"rate limited", &sdk.Error{StatusCode: 429}, "rate_limited", true},
		{"service unavailable", &sdk.Error{StatusCode: 503}, "overloaded", true},
		{"anthropic overloaded", &sdk.Error{StatusCode: 529}, "overloaded", true},
		{"server error", &sdk.Error{StatusCode: 500}, "api_error", true},
		{"bad request", &sdk.Error{StatusCode: 400}, "invalid_request", false},
		{"wrapped api error", fmt.Errorf("request failed: %w", &sdk.Error{StatusCode: 502}), "api_error", true},
		{"deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), "timeout", true},
		{"generic", errors.New("boom"), "stream_error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, retryable := classifyAPIError(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}
