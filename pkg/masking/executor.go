package masking

import (
	"context"

	"github.com/meridian-labs/surveyor/pkg/mcp"
	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// Executor decorates a runtime.ToolExecutor with result masking. The
// wrapped executor stays transport-only; redaction attaches here, so the
// conversational adapter and the mission worker pool get the same masking
// regardless of which executor implementation serves the call.
type Executor struct {
	inner   runtime.ToolExecutor
	service *Service
}

var _ runtime.ToolExecutor = (*Executor)(nil)

// WrapExecutor layers masking over inner. When no registered server has
// masking enabled, inner is returned unwrapped.
func (s *Service) WrapExecutor(inner runtime.ToolExecutor) runtime.ToolExecutor {
	if !s.maskingEnabled() {
		return inner
	}
	return &Executor{inner: inner, service: s}
}

// Execute runs the call on the inner executor and masks the result content
// per the originating server's masking config. Error results are masked
// too: failure output can quote the request payload. The inner result is
// never mutated.
func (e *Executor) Execute(ctx context.Context, call runtime.ToolCall) (*runtime.ToolResult, error) {
	result, err := e.inner.Execute(ctx, call)
	if err != nil || result == nil || result.Content == "" {
		return result, err
	}

	serverID, _, splitErr := mcp.SplitToolName(mcp.NormalizeToolName(call.Name))
	if splitErr != nil {
		// Unqualified names belong to local tools, which have no server
		// masking config.
		return result, nil
	}

	masked := *result
	masked.Content = e.service.MaskToolResult(result.Content, serverID)
	return &masked, nil
}

// ListTools delegates to the inner executor.
func (e *Executor) ListTools(ctx context.Context) ([]runtime.ToolDefinition, error) {
	return e.inner.ListTools(ctx)
}

// Close delegates to the inner executor.
func (e *Executor) Close() error {
	return e.inner.Close()
}
