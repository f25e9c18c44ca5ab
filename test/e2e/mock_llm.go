package e2e

import (
	"context"

	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// SplitLLMClient routes Generate calls to one of two scripts: conversation
// turns (no task id) and mission tasks (task id set). The two streams run
// concurrently once a plan is approved, so a single sequential script would
// be racy; splitting keeps each stream deterministic on its own.
type SplitLLMClient struct {
	Conversation *runtime.ScriptedLLMClient
	Tasks        *runtime.ScriptedLLMClient
}

var _ runtime.LLMClient = (*SplitLLMClient)(nil)

// NewSplitLLMClient creates an empty client. Script entries are added on the
// Conversation and Tasks halves directly.
func NewSplitLLMClient() *SplitLLMClient {
	return &SplitLLMClient{
		Conversation: runtime.NewScriptedLLMClient(),
		Tasks:        runtime.NewScriptedLLMClient(),
	}
}

// Generate implements runtime.LLMClient.
func (c *SplitLLMClient) Generate(ctx context.Context, input *runtime.GenerateInput) (<-chan runtime.Chunk, error) {
	if input.TaskID != "" {
		return c.Tasks.Generate(ctx, input)
	}
	return c.Conversation.Generate(ctx, input)
}

// Close implements runtime.LLMClient.
func (c *SplitLLMClient) Close() error { return nil }

// TotalCalls returns Generate calls across both halves.
func (c *SplitLLMClient) TotalCalls() int {
	return c.Conversation.CallCount() + c.Tasks.CallCount()
}
