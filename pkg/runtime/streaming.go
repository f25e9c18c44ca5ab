package runtime

import (
	"context"
	"fmt"
	"strings"
)

// LLMResponse holds the fully-collected response from a streaming LLM call.
type LLMResponse struct {
	Text         string
	ThinkingText string
	ToolCalls    []ToolCall
	Usage        *TokenUsage
}

// StreamCallback is called for each content chunk during stream collection.
// chunkType is ChunkTypeText or ChunkTypeThinking. delta is the new content
// from this chunk only, not the accumulated text; consumers concatenate
// deltas themselves, which keeps each frame small.
type StreamCallback func(chunkType ChunkType, delta string)

// collectStream drains an LLM chunk channel into a complete LLMResponse.
// Returns an error if an ErrorChunk is received.
// Delegates to collectStreamWithCallback with a nil callback.
func collectStream(stream <-chan Chunk) (*LLMResponse, error) {
	return collectStreamWithCallback(stream, nil)
}

// collectStreamWithCallback collects a stream while calling back for
// real-time delivery. The callback is optional (nil = buffered mode, same as
// collectStream).
func collectStreamWithCallback(stream <-chan Chunk, callback StreamCallback) (*LLMResponse, error) {
	resp := &LLMResponse{}
	var textBuf, thinkingBuf strings.Builder

	for chunk := range stream {
		switch c := chunk.(type) {
		case *TextChunk:
			textBuf.WriteString(c.Content)
			if callback != nil && c.Content != "" {
				callback(ChunkTypeText, c.Content)
			}
		case *ThinkingChunk:
			thinkingBuf.WriteString(c.Content)
			if callback != nil && c.Content != "" {
				callback(ChunkTypeThinking, c.Content)
			}
		case *ToolCallChunk:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        c.CallID,
				Name:      c.Name,
				Arguments: c.Arguments,
			})
		case *UsageChunk:
			resp.Usage = &TokenUsage{
				InputTokens:    c.InputTokens,
				OutputTokens:   c.OutputTokens,
				TotalTokens:    c.TotalTokens,
				ThinkingTokens: c.ThinkingTokens,
			}
		case *ErrorChunk:
			return nil, fmt.Errorf("LLM error: %s (code: %s, retryable: %v)",
				c.Message, c.Code, c.Retryable)
		}
	}

	resp.Text = textBuf.String()
	resp.ThinkingText = thinkingBuf.String()
	return resp, nil
}

// CallLLM performs a single LLM call with context cancellation support and
// returns the complete collected response. The optional callback receives
// text and thinking deltas as they arrive.
func CallLLM(
	ctx context.Context,
	llmClient LLMClient,
	input *GenerateInput,
	callback StreamCallback,
) (*LLMResponse, error) {
	// Derive a cancellable context so the producer goroutine in Generate
	// is always cleaned up when we return.
	llmCtx, llmCancel := context.WithCancel(ctx)
	defer llmCancel()

	stream, err := llmClient.Generate(llmCtx, input)
	if err != nil {
		return nil, fmt.Errorf("LLM Generate failed: %w", err)
	}

	return collectStreamWithCallback(stream, callback)
}
