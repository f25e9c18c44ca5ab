package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// PlanToolName is the tool the conversational agent calls to launch a
// research mission. The builtin tool policies gate it behind approval, so
// every plan passes in front of a human before anything runs.
const PlanToolName = "create_research_plan"

// planToolSchema describes the plan literal to the model.
const planToolSchema = `{
  "type": "object",
  "required": ["title", "agent_instances", "sub_stages", "stages"],
  "properties": {
    "title": {
      "type": "string",
      "description": "Short human-readable mission title"
    },
    "fail_fast": {
      "type": "boolean",
      "description": "Cancel remaining work after the first task failure; defaults to server configuration"
    },
    "agent_instances": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["instance_id", "agent_type", "objectives"],
        "properties": {
          "instance_id": {"type": "string", "description": "Unique id for this instance within the plan"},
          "agent_type": {"type": "string", "description": "Registered agent type, e.g. research or analysis"},
          "objectives": {"type": "array", "items": {"type": "string"}, "minItems": 1, "description": "What this instance must accomplish"},
          "seed_context": {"type": "string", "description": "Free-text context handed to the instance verbatim"},
          "starter_sources": {"type": "array", "items": {"type": "string"}, "description": "Source URLs the instance should consult first"},
          "allowed_tools": {"type": "array", "items": {"type": "string"}, "description": "Tool names the instance may use; every name must be registered"},
          "requires_outputs_from": {"type": "array", "items": {"type": "string"}, "description": "Instance ids whose outputs this instance reads; the cited instance must run before this one"},
          "max_steps": {"type": "integer", "minimum": 0, "description": "Tool-loop step budget; 0 uses the server default"},
          "timeout_seconds": {"type": "integer", "minimum": 0, "description": "Wall-clock budget; 0 uses the server default"},
          "max_attempts": {"type": "integer", "minimum": 0, "description": "Retry budget including the first attempt; 0 uses the server default"}
        }
      }
    },
    "sub_stages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["sub_stage_id", "agent_instances"],
        "properties": {
          "sub_stage_id": {"type": "string", "description": "Unique id for this sub-stage within the plan"},
          "agent_instances": {"type": "array", "items": {"type": "string"}, "minItems": 1, "description": "Instance ids grouped under this sub-stage; every instance belongs to exactly one sub-stage"},
          "execution_mode": {"type": "string", "enum": ["parallel", "sequential"], "description": "How member instances run; defaults to parallel"},
          "depends_on_sub_stages": {"type": "array", "items": {"type": "string"}, "description": "Sub-stage ids whose reduced output this sub-stage consumes"},
          "output_aggregation": {"type": "string", "enum": ["merge_all", "best_of", "consensus"], "description": "How member outputs reduce to one; defaults to merge_all"}
        }
      }
    },
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["stage_id", "sub_stages"],
        "properties": {
          "stage_id": {"type": "string", "description": "Unique id for this stage within the plan"},
          "sub_stages": {"type": "array", "items": {"type": "string"}, "minItems": 1, "description": "Sub-stage ids grouped under this stage; every sub-stage belongs to exactly one stage"},
          "execution_mode": {"type": "string", "enum": ["parallel", "sequential"], "description": "How member sub-stages run; defaults to parallel"},
          "depends_on_stages": {"type": "array", "items": {"type": "string"}, "description": "Stage ids that must finish before this stage starts"}
        }
      }
    }
  }
}`

// MissionLauncher starts missions from plan literals. Implemented by
// *Orchestrator.
type MissionLauncher interface {
	StartMission(ctx context.Context, threadID string, plan *Plan) (string, error)
}

// PlanTool exposes mission launch to the conversational agent as an
// in-process tool. Plan problems come back as error results the model can
// read and repair; only infrastructure breakage surfaces as a Go error.
type PlanTool struct {
	launcher MissionLauncher
	log      *slog.Logger
}

// NewPlanTool creates the mission-launch tool. Register it on the runtime
// adapter to make it callable.
func NewPlanTool(launcher MissionLauncher) *PlanTool {
	return &PlanTool{
		launcher: launcher,
		log:      slog.With("component", "plan_tool"),
	}
}

// Definition implements runtime.LocalTool.
func (p *PlanTool) Definition() runtime.ToolDefinition {
	return runtime.ToolDefinition{
		Name: PlanToolName,
		Description: "Launch a multi-agent research mission from a structured plan. " +
			"The plan declares agent instances, groups them into sub-stages, and orders " +
			"sub-stages into stages. Instances in one sub-stage run in parallel or in " +
			"sequence and their outputs are reduced to a single sub-stage output. " +
			"If the plan is invalid, every problem is reported at once so it can be " +
			"repaired in a single pass.",
		ParametersSchema: planToolSchema,
	}
}

// Invoke implements runtime.LocalTool.
func (p *PlanTool) Invoke(ctx context.Context, threadID string, call runtime.ToolCall) (*runtime.ToolResult, error) {
	var plan Plan
	if err := json.Unmarshal([]byte(call.Arguments), &plan); err != nil {
		return &runtime.ToolResult{
			CallID:  call.ID,
			Content: fmt.Sprintf("Invalid plan JSON: %v", err),
			IsError: true,
		}, nil
	}

	missionID, err := p.launcher.StartMission(ctx, threadID, &plan)
	if err != nil {
		var ce *CompileError
		switch {
		case errors.As(err, &ce):
			p.log.Info("Plan rejected",
				"thread_id", threadID, "problems", len(ce.Problems))
			return &runtime.ToolResult{
				CallID:  call.ID,
				Content: planProblemReport(ce),
				IsError: true,
			}, nil
		case errors.Is(err, ErrQueueFull) || errors.Is(err, ErrShuttingDown):
			return &runtime.ToolResult{
				CallID:  call.ID,
				Content: fmt.Sprintf("Mission could not be accepted: %v. Tell the user and offer to try again later.", err),
				IsError: true,
			}, nil
		default:
			return nil, err
		}
	}

	p.log.Info("Mission launched from conversation",
		"thread_id", threadID, "mission_id", missionID)
	return &runtime.ToolResult{
		CallID: call.ID,
		Content: fmt.Sprintf("Research mission %s launched. Progress events will arrive on this conversation as tasks start and finish.",
			missionID),
	}, nil
}

func planProblemReport(ce *CompileError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The plan was rejected with %d problem(s):\n", len(ce.Problems))
	for i, problem := range ce.Problems {
		fmt.Fprintf(&b, "%d. %s\n", i+1, problem)
	}
	b.WriteString("Fix every problem and submit the corrected plan.")
	return b.String()
}
