package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/models"
)

// turnRunner executes one conversational turn against a thread checkpoint.
// The event channel is owned by the runner's goroutine; the runner always
// emits exactly one terminal event (interrupt, done, or error) unless the
// consumer context is cancelled first.
type turnRunner struct {
	a        *Adapter
	threadID string
	cp       *Checkpoint
	out      chan<- Event

	lastCallFailed bool
	lastCallError  string
}

// emit delivers an event unless the consumer is gone.
func (t *turnRunner) emit(ctx context.Context, ev Event) bool {
	select {
	case t.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// run drives the tool-calling loop until the turn completes, suspends on a
// gated call, or exhausts its step budget.
func (t *turnRunner) run(ctx context.Context) {
	for t.cp.TurnSteps < t.a.maxSteps {
		t.cp.TurnSteps++

		resp, err := t.callModel(ctx, true)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Model errors are recoverable: hand the error back to the
			// model as context and spend another step retrying.
			t.lastCallFailed = true
			t.lastCallError = err.Error()
			t.a.log.Warn("LLM call failed, retrying",
				"thread_id", t.threadID, "step", t.cp.TurnSteps, "error", err)
			t.cp.Conversation = append(t.cp.Conversation, ConversationMessage{
				Role:    string(models.RoleUser),
				Content: fmt.Sprintf("Error from previous attempt: %s. Please try again.", err),
			})
			continue
		}
		if ctx.Err() != nil {
			return
		}
		t.lastCallFailed = false

		t.cp.Conversation = append(t.cp.Conversation, ConversationMessage{
			Role:      string(models.RoleAssistant),
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		t.cp.TurnText += resp.Text

		// No tool calls means the model produced its final answer.
		if len(resp.ToolCalls) == 0 {
			t.finish(ctx)
			return
		}

		open, gated := t.splitCalls(resp.ToolCalls)
		for _, call := range open {
			if ctx.Err() != nil {
				return
			}
			t.appendToolResult(call, t.executeCall(ctx, call))
		}

		if len(gated) > 0 {
			t.suspend(ctx, gated)
			return
		}

		if err := t.a.saveCheckpoint(ctx, t.threadID, t.cp); err != nil {
			t.fail(ctx, err)
			return
		}
	}

	t.forceConclusion(ctx)
}

// resume applies the decisions for the pending interrupt and continues the
// suspended turn. Decisions align by index with the interrupt's calls.
func (t *turnRunner) resume(ctx context.Context, pending *PendingInterrupt, decisions []Decision) {
	// All tool results are appended before any rejection context so the
	// model sees a complete result set for its last tool-calling message.
	var rejections []string
	for i, call := range pending.Calls {
		if ctx.Err() != nil {
			return
		}
		d := decisions[i]
		switch d.Kind {
		case DecisionApprove:
			t.appendToolResult(call, t.executeCall(ctx, call))

		case DecisionEdit:
			edited := call
			edited.Name = d.EditedAction.Name
			args, err := json.Marshal(d.EditedAction.Args)
			if err != nil {
				t.fail(ctx, fmt.Errorf("failed to encode edited arguments: %w", err))
				return
			}
			edited.Arguments = string(args)
			t.appendToolResult(edited, t.executeCall(ctx, edited))

		case DecisionReject:
			t.appendToolResult(call, &ToolResult{
				CallID:  call.ID,
				Content: "Tool call rejected by the user.",
				IsError: true,
			})
			reason := d.Message
			if reason == "" {
				reason = "no reason given"
			}
			rejections = append(rejections,
				fmt.Sprintf("The user rejected the proposed %s call: %s. Adjust your approach accordingly.",
					call.Name, reason))
		}
	}
	for _, r := range rejections {
		t.cp.Conversation = append(t.cp.Conversation, ConversationMessage{
			Role:    string(models.RoleSystem),
			Content: r,
		})
	}

	t.cp.InterruptState = nil
	if err := t.a.saveCheckpoint(ctx, t.threadID, t.cp); err != nil {
		t.fail(ctx, err)
		return
	}

	t.run(ctx)
}

// callModel performs one streaming LLM call over the checkpoint conversation,
// emitting thinking and content events as deltas arrive.
func (t *turnRunner) callModel(ctx context.Context, withTools bool) (*LLMResponse, error) {
	var tools []ToolDefinition
	if withTools {
		var err error
		tools, err = t.a.tools.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		tools = append(tools, t.a.localDefinitions()...)
	}

	llmCtx, llmCancel := context.WithCancel(ctx)
	defer llmCancel()

	thinkingSignalled := false
	callback := func(kind ChunkType, delta string) {
		var ev Event
		switch kind {
		case ChunkTypeThinking:
			// The wire protocol signals the thinking phase once per step
			// rather than streaming thinking deltas.
			if thinkingSignalled {
				return
			}
			thinkingSignalled = true
			ev = &ThinkingEvent{}
		case ChunkTypeText:
			ev = &ContentDeltaEvent{Text: delta}
		default:
			return
		}
		if !t.emit(ctx, ev) {
			llmCancel()
		}
	}

	stream, err := t.a.llm.Generate(llmCtx, &GenerateInput{
		ThreadID: t.threadID,
		Messages: t.cp.Conversation,
		Config:   t.a.provider,
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM Generate failed: %w", err)
	}

	return collectStreamWithCallback(stream, callback)
}

// splitCalls partitions a step's tool calls into ungated and gated, keeping
// order within each class.
func (t *turnRunner) splitCalls(calls []ToolCall) (open, gated []ToolCall) {
	for _, call := range calls {
		if t.a.policies.Policy(call.Name).RequiresApproval {
			gated = append(gated, call)
		} else {
			open = append(open, call)
		}
	}
	return open, gated
}

// executeCall runs one tool call, preferring a registered local tool over
// the executor. Breakage on either path is folded into an error result so
// the loop can continue and the model sees what happened.
func (t *turnRunner) executeCall(ctx context.Context, call ToolCall) *ToolResult {
	var result *ToolResult
	var err error
	if lt, ok := t.a.local[call.Name]; ok {
		result, err = lt.Invoke(ctx, t.threadID, call)
	} else {
		result, err = t.a.tools.Execute(ctx, call)
	}
	if err != nil {
		t.a.log.Warn("Tool execution failed",
			"thread_id", t.threadID, "tool", call.Name, "error", err)
		return &ToolResult{
			CallID:  call.ID,
			Content: fmt.Sprintf("Tool execution failed: %v", err),
			IsError: true,
		}
	}
	return result
}

func (t *turnRunner) appendToolResult(call ToolCall, result *ToolResult) {
	t.cp.Conversation = append(t.cp.Conversation, ConversationMessage{
		Role:       string(models.RoleTool),
		Content:    result.Content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    result.IsError,
	})
}

// suspend persists the gated calls as a pending interrupt and surfaces the
// interrupt to the caller. State is durable before the event goes out, so a
// lost client can always replay the interrupt later.
func (t *turnRunner) suspend(ctx context.Context, gated []ToolCall) {
	requests := make([]ActionRequest, len(gated))
	policies := make([]*config.ToolPolicy, len(gated))
	for i, call := range gated {
		policy := t.a.policies.Policy(call.Name)
		policies[i] = policy
		args := decodeArguments(call.Arguments)
		requests[i] = ActionRequest{
			Name:        call.Name,
			Args:        args,
			Description: policy.Describe(call.Name, args),
		}
	}

	intr := &Interrupt{
		ID:               uuid.NewString(),
		ActionRequests:   requests,
		AllowedDecisions: allowedDecisions(policies),
	}
	pending := &PendingInterrupt{Interrupt: intr, Calls: gated}

	state, err := encodeInterruptState(pending)
	if err != nil {
		t.fail(ctx, err)
		return
	}
	t.cp.InterruptState = state
	if err := t.a.saveCheckpoint(ctx, t.threadID, t.cp); err != nil {
		t.fail(ctx, err)
		return
	}

	t.a.log.Info("Turn suspended on gated tool call",
		"thread_id", t.threadID, "interrupt_id", intr.ID, "tools", len(gated))
	t.emit(ctx, &InterruptEvent{Interrupt: intr})
}

// forceConclusion spends one final model call without tools to get a direct
// answer once the step budget is exhausted.
func (t *turnRunner) forceConclusion(ctx context.Context) {
	if t.lastCallFailed {
		t.fail(ctx, fmt.Errorf("max steps (%d) reached with last LLM call failed: %s",
			t.a.maxSteps, t.lastCallError))
		return
	}

	t.cp.Conversation = append(t.cp.Conversation, ConversationMessage{
		Role:    string(models.RoleUser),
		Content: forcedConclusionPrompt(t.a.maxSteps),
	})

	resp, err := t.callModel(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.fail(ctx, fmt.Errorf("forced conclusion LLM call failed: %w", err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	t.cp.Conversation = append(t.cp.Conversation, ConversationMessage{
		Role:    string(models.RoleAssistant),
		Content: resp.Text,
	})
	t.cp.TurnText += resp.Text
	t.finish(ctx)
}

// finish persists the turn's assistant message, resets per-turn checkpoint
// state, and emits the terminal done event.
func (t *turnRunner) finish(ctx context.Context) {
	if t.cp.TurnText != "" {
		if _, err := t.a.store.AppendMessage(ctx, models.AppendMessageRequest{
			ThreadID: t.threadID,
			Role:     models.RoleAssistant,
			Content:  t.cp.TurnText,
		}); err != nil {
			t.fail(ctx, fmt.Errorf("failed to persist assistant message: %w", err))
			return
		}
	}

	t.cp.TurnText = ""
	t.cp.TurnSteps = 0
	t.cp.InterruptState = nil
	if err := t.a.saveCheckpoint(ctx, t.threadID, t.cp); err != nil {
		t.fail(ctx, err)
		return
	}

	t.emit(ctx, &DoneEvent{})
}

func (t *turnRunner) fail(ctx context.Context, err error) {
	t.a.log.Error("Turn failed", "thread_id", t.threadID, "error", err)
	t.emit(ctx, &ErrorEvent{Reason: err.Error()})
}

// decodeArguments parses a tool call's JSON arguments. Unparseable or empty
// arguments decode to an empty map.
func decodeArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// allowedDecisions computes the decision kinds every gated call's policy
// accepts, in canonical order.
func allowedDecisions(policies []*config.ToolPolicy) []DecisionKind {
	var kinds []DecisionKind
	for _, kind := range []DecisionKind{DecisionApprove, DecisionEdit, DecisionReject} {
		ok := true
		for _, p := range policies {
			if !slices.Contains(p.DecisionsOrDefault(), string(kind)) {
				ok = false
				break
			}
		}
		if ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
