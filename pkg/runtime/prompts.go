package runtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/models"
)

// conversationInstructions is the system prompt for interactive threads.
const conversationInstructions = `## Research Assistant Instructions

You are an expert research assistant that helps users investigate complex
topics and organise the investigation into executable research plans.

Work in small steps:
1. Understand what the user wants investigated and why.
2. Use the available tools to gather the context you need.
3. When the investigation warrants structured multi-agent work, propose a
   research plan with the create_research_plan tool. The user reviews every
   plan before anything runs, and may approve it, edit it, or reject it.

If the user rejects a proposed action, do not retry it unchanged. Address the
stated reason and adjust your approach.

Always be specific, cite the data you actually gathered, and keep responses
focused on what the user asked.`

// instanceInstructions is Tier 1 for non-interactive mission agents.
const instanceInstructions = `## Research Agent Instructions

You are an autonomous research agent executing one instance of a larger
research mission. You are given objectives, optional seed context, optional
starter sources, and the outputs of instances you depend on.

Investigate your objectives thoroughly using the available tools. Be
specific, reference actual data, and prefer primary sources over assumptions.
Stay within your objectives: other instances cover the rest of the mission.`

// outputContract tells mission agents how to report results. The schema
// matches models.OutputRecord.
const outputContract = `## Output Contract

When your investigation is complete, end your final answer with a fenced
JSON block of this exact shape:

` + "```json" + `
{
  "objectives_completed": ["..."],
  "findings": [{"summary": "...", "detail": "...", "source": "..."}],
  "entities_discovered": ["..."],
  "file_refs": ["..."]
}
` + "```" + `

Every finding needs a summary; detail and source are optional. List only
objectives you actually completed.`

// conversationSystemPrompt builds the system message that seeds a fresh
// interactive thread.
func conversationSystemPrompt() string {
	return conversationInstructions
}

// forcedConclusionPrompt asks for a direct final answer once the step budget
// is spent.
func forcedConclusionPrompt(maxSteps int) string {
	return fmt.Sprintf(
		"You have used all %d reasoning steps for this turn. Provide your final "+
			"answer now based on the information you have gathered. Do not request "+
			"any more tool calls.", maxSteps)
}

// taskSystemPrompt composes the instruction tiers for a mission agent
// instance: general instructions, the agent type's custom instructions, and
// the output contract.
func taskSystemPrompt(agentType string, cfg *config.AgentTypeConfig) string {
	sections := []string{instanceInstructions}

	if cfg != nil && cfg.CustomInstructions != "" {
		sections = append(sections,
			"## "+agentType+" Instructions\n\n"+cfg.CustomInstructions)
	}

	sections = append(sections, outputContract)
	return strings.Join(sections, "\n\n")
}

// taskUserPrompt assembles the per-instance briefing.
func taskUserPrompt(input *TaskInput) string {
	sections := []string{
		formatObjectivesSection(input.Objectives),
		formatSeedContextSection(input.SeedContext),
		formatStarterSourcesSection(input.StarterSources),
		formatPreviousOutputsSection(input.PreviousOutputs),
	}
	return strings.Join(sections, "\n")
}

func formatObjectivesSection(objectives []string) string {
	var sb strings.Builder
	sb.WriteString("## Objectives\n\n")
	if len(objectives) == 0 {
		sb.WriteString("No explicit objectives were provided.\n")
		return sb.String()
	}
	for i, obj := range objectives {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, obj)
	}
	return sb.String()
}

func formatSeedContextSection(seedContext string) string {
	if seedContext == "" {
		return "## Seed Context\nNo seed context was provided.\n"
	}
	var sb strings.Builder
	sb.WriteString("## Seed Context\n")
	sb.WriteString(seedContext)
	sb.WriteString("\n")
	return sb.String()
}

func formatStarterSourcesSection(sources []SourceContent) string {
	if len(sources) == 0 {
		return "## Starter Sources\nNo starter sources were provided.\n"
	}
	var sb strings.Builder
	sb.WriteString("## Starter Sources\n")
	for _, src := range sources {
		sb.WriteString("\n### ")
		sb.WriteString(src.URL)
		sb.WriteString("\n")
		if src.Content == "" {
			sb.WriteString("(source could not be fetched)\n")
			continue
		}
		sb.WriteString(src.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatPreviousOutputsSection(previous map[string]*models.OutputRecord) string {
	if len(previous) == 0 {
		return "## Previous Outputs\nThis instance has no upstream outputs. It runs first.\n"
	}
	var sb strings.Builder
	sb.WriteString("## Previous Outputs\n\n")
	sb.WriteString("Outputs from the instances and sub-stages you depend on:\n")
	data, err := json.MarshalIndent(previous, "", "  ")
	if err != nil {
		sb.WriteString("(previous outputs could not be rendered)\n")
		return sb.String()
	}
	sb.WriteString("```json\n")
	sb.Write(data)
	sb.WriteString("\n```\n")
	return sb.String()
}
