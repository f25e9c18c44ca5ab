package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/models"
)

// ErrRequiresApproval marks a mission task that proposed a gated tool call
// it was not entitled to run. Missions have no human in the loop, so the
// task fails instead of interrupting; retrying cannot help.
var ErrRequiresApproval = errors.New("tool requires approval")

// SourceContent is a fetched starter source inlined into the agent briefing.
// Content is empty when the fetch failed.
type SourceContent struct {
	URL     string
	Content string
}

// TaskInput is the briefing for one non-interactive agent instance.
type TaskInput struct {
	MissionID  string
	TaskID     string
	InstanceID string
	AgentType  string

	Objectives      []string
	SeedContext     string
	StarterSources  []SourceContent
	PreviousOutputs map[string]*models.OutputRecord

	// AllowedTools restricts which tools the agent sees. Gated tools listed
	// here are auto-approved; gated tools not listed fail the task with
	// ErrRequiresApproval. Empty means all tools, none auto-approved.
	AllowedTools []string

	// MaxSteps bounds the tool-calling loop; zero falls back to the agent
	// type, then system defaults.
	MaxSteps int
}

// TaskRunner executes mission agent instances without a human in the loop.
// It shares the LLM and tool collaborators with the interactive adapter but
// never suspends: gating is resolved up front from the instance allowlist.
type TaskRunner struct {
	llm   LLMClient
	tools ToolExecutor
	cfg   *config.Config
	log   *slog.Logger
}

// NewTaskRunner creates a mission task runner.
func NewTaskRunner(llm LLMClient, tools ToolExecutor, cfg *config.Config) *TaskRunner {
	return &TaskRunner{
		llm:   llm,
		tools: tools,
		cfg:   cfg,
		log:   slog.With("component", "runtime.tasks"),
	}
}

// RunInstance runs one agent instance to completion and returns its output
// record. The caller bounds wall-clock time through ctx.
func (r *TaskRunner) RunInstance(ctx context.Context, input *TaskInput) (*models.OutputRecord, error) {
	agentCfg, err := r.cfg.GetAgentType(input.AgentType)
	if err != nil {
		return nil, err
	}
	provider, err := r.resolveProvider(agentCfg)
	if err != nil {
		return nil, err
	}
	maxSteps := r.resolveMaxSteps(input, agentCfg)

	allTools, err := r.tools.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	tools := filterTools(allTools, input.AllowedTools)

	log := r.log.With("mission_id", input.MissionID, "task_id", input.TaskID)

	messages := []ConversationMessage{
		{Role: string(models.RoleSystem), Content: taskSystemPrompt(input.AgentType, agentCfg)},
		{Role: string(models.RoleUser), Content: taskUserPrompt(input)},
	}

	var totalUsage TokenUsage
	lastCallFailed := false
	lastCallError := ""

	for step := 0; step < maxSteps; step++ {
		resp, err := CallLLM(ctx, r.llm, &GenerateInput{
			TaskID:   input.TaskID,
			Messages: messages,
			Config:   provider,
			Tools:    tools,
		}, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastCallFailed = true
			lastCallError = err.Error()
			log.Warn("LLM call failed, retrying", "step", step+1, "error", err)
			messages = append(messages, ConversationMessage{
				Role:    string(models.RoleUser),
				Content: fmt.Sprintf("Error from previous attempt: %s. Please try again.", err),
			})
			continue
		}
		lastCallFailed = false
		if resp.Usage != nil {
			totalUsage.Add(*resp.Usage)
		}

		messages = append(messages, ConversationMessage{
			Role:      string(models.RoleAssistant),
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			log.Info("Instance completed", "steps", step+1, "tokens", totalUsage.TotalTokens)
			return r.finalize(resp.Text, log)
		}

		// Gating is checked for the whole step before anything runs.
		for _, call := range resp.ToolCalls {
			if err := r.checkGate(call, input.AllowedTools); err != nil {
				return nil, err
			}
		}

		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result, execErr := r.tools.Execute(ctx, call)
			if execErr != nil {
				log.Warn("Tool execution failed", "tool", call.Name, "error", execErr)
				result = &ToolResult{
					CallID:  call.ID,
					Content: fmt.Sprintf("Tool execution failed: %v", execErr),
					IsError: true,
				}
			}
			messages = append(messages, ConversationMessage{
				Role:       string(models.RoleTool),
				Content:    result.Content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				IsError:    result.IsError,
			})
		}
	}

	if lastCallFailed {
		return nil, fmt.Errorf("max steps (%d) reached with last LLM call failed: %s",
			maxSteps, lastCallError)
	}

	// Step budget spent: one final call without tools for a direct answer.
	messages = append(messages, ConversationMessage{
		Role:    string(models.RoleUser),
		Content: forcedConclusionPrompt(maxSteps),
	})
	resp, err := CallLLM(ctx, r.llm, &GenerateInput{
		TaskID:   input.TaskID,
		Messages: messages,
		Config:   provider,
	}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("forced conclusion LLM call failed: %w", err)
	}
	if resp.Usage != nil {
		totalUsage.Add(*resp.Usage)
	}
	log.Info("Instance concluded at step budget", "steps", maxSteps, "tokens", totalUsage.TotalTokens)
	return r.finalize(resp.Text, log)
}

// checkGate enforces mission-context gating: approval-required tools run
// only when the instance allowlist names them.
func (r *TaskRunner) checkGate(call ToolCall, allowed []string) error {
	policy := r.cfg.ToolPolicyRegistry.Policy(call.Name)
	if !policy.RequiresApproval {
		return nil
	}
	for _, name := range allowed {
		if name == call.Name {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRequiresApproval, call.Name)
}

func (r *TaskRunner) resolveProvider(agentCfg *config.AgentTypeConfig) (*config.LLMProviderConfig, error) {
	name := agentCfg.LLMProvider
	if name == "" && r.cfg.Defaults != nil {
		name = r.cfg.Defaults.LLMProvider
	}
	if name == "" {
		return nil, fmt.Errorf("no LLM provider configured for agent type")
	}
	return r.cfg.GetLLMProvider(name)
}

func (r *TaskRunner) resolveMaxSteps(input *TaskInput, agentCfg *config.AgentTypeConfig) int {
	if input.MaxSteps > 0 {
		return input.MaxSteps
	}
	if agentCfg.MaxSteps != nil && *agentCfg.MaxSteps > 0 {
		return *agentCfg.MaxSteps
	}
	if r.cfg.Defaults != nil && r.cfg.Defaults.MaxSteps != nil && *r.cfg.Defaults.MaxSteps > 0 {
		return *r.cfg.Defaults.MaxSteps
	}
	return DefaultMaxSteps
}

// finalize parses the structured output record from the agent's final
// answer, falling back to a single unstructured finding.
func (r *TaskRunner) finalize(text string, log *slog.Logger) (*models.OutputRecord, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("agent produced no output")
	}
	if rec, ok := parseOutputRecord(trimmed); ok {
		return rec, nil
	}
	log.Warn("Final answer had no structured record, folding text into a finding")
	return &models.OutputRecord{
		Findings: []models.Finding{{
			Summary: summarizeText(trimmed),
			Detail:  trimmed,
		}},
	}, nil
}

// summarizeText takes the first line of a final answer, bounded for use as a
// finding summary.
func summarizeText(text string) string {
	line := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		line = text[:idx]
	}
	line = strings.TrimSpace(line)
	const maxLen = 140
	if len(line) > maxLen {
		return line[:maxLen] + "..."
	}
	return line
}

// filterTools applies the instance allowlist. Empty allowlist means all
// tools are visible.
func filterTools(defs []ToolDefinition, allowed []string) []ToolDefinition {
	if len(allowed) == 0 {
		return defs
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = struct{}{}
	}
	var filtered []ToolDefinition
	for _, def := range defs {
		if _, ok := allowedSet[def.Name]; ok {
			filtered = append(filtered, def)
		}
	}
	return filtered
}

// parseOutputRecord extracts the trailing JSON record from a final answer.
// Accepts a fenced json block or bare braces; the record must contain at
// least one populated field.
func parseOutputRecord(text string) (*models.OutputRecord, bool) {
	for _, candidate := range jsonCandidates(text) {
		rec := &models.OutputRecord{}
		if err := json.Unmarshal([]byte(candidate), rec); err != nil {
			continue
		}
		if len(rec.ObjectivesCompleted) == 0 && len(rec.Findings) == 0 &&
			len(rec.EntitiesDiscovered) == 0 && len(rec.FileRefs) == 0 {
			continue
		}
		return rec, true
	}
	return nil, false
}

// jsonCandidates yields possible JSON payloads from a final answer, most
// specific first: the last fenced json block, then the outermost braces.
func jsonCandidates(text string) []string {
	var candidates []string

	if start := strings.LastIndex(text, "```json"); start >= 0 {
		rest := text[start+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidates = append(candidates, strings.TrimSpace(rest[:end]))
		}
	}

	if open := strings.Index(text, "{"); open >= 0 {
		if close := strings.LastIndex(text, "}"); close > open {
			candidates = append(candidates, text[open:close+1])
		}
	}

	return candidates
}
