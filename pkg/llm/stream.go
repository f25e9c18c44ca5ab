package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// pump drains the SSE stream into the chunk channel, translating Anthropic
// events into runtime chunks. The channel is closed when the stream ends;
// a cancelled context stops the pump without emitting anything further.
func (c *AnthropicClient) pump(
	ctx context.Context,
	stream *ssestream.Stream[sdk.MessageStreamEventUnion],
	wireToCanon map[string]string,
	ch chan<- runtime.Chunk,
) {
	defer close(ch)
	defer func() { _ = stream.Close() }()

	// Tool calls arrive as a start block plus JSON fragments; the complete
	// call is emitted when the block stops.
	toolBlocks := make(map[int]*toolBuffer)

	emit := func(chunk runtime.Chunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				name := toolUse.Name
				// The stream echoes the wire-format tool name. Hallucinated
				// names miss the reverse map and pass through as-is; the
				// executor turns those into an error result the model can
				// recover from on the next step.
				if canonical, ok := wireToCanon[name]; ok {
					name = canonical
				}
				toolBlocks[int(ev.Index)] = &toolBuffer{id: toolUse.ID, name: name}
			}

		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				if !emit(&runtime.TextChunk{Content: delta.Text}) {
					return
				}
			case sdk.ThinkingDelta:
				if delta.Thinking == "" {
					continue
				}
				if !emit(&runtime.ThinkingChunk{Content: delta.Thinking}) {
					return
				}
			case sdk.InputJSONDelta:
				if tb := toolBlocks[idx]; tb != nil && delta.PartialJSON != "" {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			}

		case sdk.ContentBlockStopEvent:
			idx := int(ev.Index)
			if tb := toolBlocks[idx]; tb != nil {
				delete(toolBlocks, idx)
				if !emit(&runtime.ToolCallChunk{
					CallID:    tb.id,
					Name:      tb.name,
					Arguments: tb.finalInput(),
				}) {
					return
				}
			}

		case sdk.MessageDeltaEvent:
			if !emit(&runtime.UsageChunk{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
				TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
			}) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		code, retryable := classifyAPIError(err)
		c.logger.Warn("LLM stream failed", "code", code, "retryable", retryable, "error", err)
		emit(&runtime.ErrorChunk{Message: err.Error(), Code: code, Retryable: retryable})
	}
}

// toolBuffer accumulates one tool_use block across streaming events.
type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

// finalInput joins the JSON fragments into the complete argument payload.
// Tools called with no arguments stream no fragments; those become {}.
func (tb *toolBuffer) finalInput() string {
	if len(tb.fragments) == 0 {
		return "{}"
	}
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

// classifyAPIError maps an Anthropic API failure onto a stable code and a
// retry hint. Rate limits and server-side overload clear on their own, so
// the turn loop may retry them; client errors need a changed request.
func classifyAPIError(err error) (code string, retryable bool) {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return "rate_limited", true
		case http.StatusServiceUnavailable, 529: // 529 is Anthropic's overloaded_error
			return "overloaded", true
		}
		if apiErr.StatusCode >= 500 {
			return "api_error", true
		}
		return "invalid_request", false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", true
	}
	return "stream_error", false
}
