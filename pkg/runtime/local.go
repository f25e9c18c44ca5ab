package runtime

import (
	"context"
	"sort"
)

// LocalTool is a tool served in-process by the host rather than by the
// shared ToolExecutor. Local tools receive the thread id of the turn that
// invoked them, so host features like mission launch can attribute work to
// the conversation that requested it.
//
// Approval gating applies to local tools exactly as it does to executor
// tools: register a gated policy under the definition's name.
type LocalTool interface {
	// Definition describes the tool to the model.
	Definition() ToolDefinition

	// Invoke executes the call on behalf of the given thread.
	Invoke(ctx context.Context, threadID string, call ToolCall) (*ToolResult, error)
}

// RegisterLocalTool adds an in-process tool to the adapter. A local tool
// shadows any executor tool with the same name. Registration must happen
// before the adapter serves turns, like handler registration on an
// http.ServeMux.
func (a *Adapter) RegisterLocalTool(tool LocalTool) {
	def := tool.Definition()
	a.local[def.Name] = tool
	a.log.Info("Registered local tool", "tool", def.Name)
}

// localDefinitions returns the registered local tool definitions in name
// order, so the tool list presented to the model is stable between steps.
func (a *Adapter) localDefinitions() []ToolDefinition {
	names := make([]string, 0, len(a.local))
	for name := range a.local {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, a.local[name].Definition())
	}
	return defs
}
