package e2e

import (
	"context"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/surveyor/pkg/mission"
	"github.com/meridian-labs/surveyor/pkg/models"
	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// TestE2E_MissionPipeline drives a two-sub-stage mission through the real
// orchestrator: a gather instance that calls an MCP tool, a reduce barrier,
// and a synthesis instance consuming the gathered output. Verifies the REST
// surface, the durable event log, observer fan-out, persisted outputs, and
// metrics.
func TestE2E_MissionPipeline(t *testing.T) {
	llm := NewSplitLLMClient()
	// gather-1: one tool call, then a structured conclusion.
	llm.Tasks.AddSequential(runtime.LLMScriptEntry{
		Chunks: []runtime.Chunk{
			&runtime.TextChunk{Content: "Searching for recent results."},
			&runtime.ToolCallChunk{CallID: "call-1", Name: "web.search", Arguments: `{"query":"solid-state battery energy density"}`},
			&runtime.UsageChunk{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
		},
	})
	llm.Tasks.AddSequential(runtime.LLMScriptEntry{
		Text: `{"objectives_completed":["survey recent papers"],` +
			`"findings":[{"summary":"Sulfide electrolytes lead on conductivity","detail":"Three 2025 arxiv preprints report >10 mS/cm.","source":"arxiv.org"}],` +
			`"entities_discovered":["arxiv.org"],"file_refs":[]}`,
	})
	// synth-1 runs after the gather reduce and concludes without tools.
	llm.Tasks.AddSequential(runtime.LLMScriptEntry{
		Text: `{"objectives_completed":["synthesize findings"],` +
			`"findings":[{"summary":"Sulfide chemistry is the near-term path to 400 Wh/kg"}],` +
			`"entities_discovered":[],"file_refs":[]}`,
	})

	app := NewTestApp(t,
		WithLLM(llm),
		WithMCPServers(map[string]map[string]mcpsdk.ToolHandler{
			"web": {
				"search": StaticToolHandler(`[{"title":"Sulfide SSE review","url":"https://arxiv.org/abs/2501.00001"}]`),
			},
		}),
	)

	threadID := app.CreateThread(t, "battery research")

	// Observer watches the global missions channel before launch.
	observer := app.ConnectObserver(t)
	require.NoError(t, observer.Subscribe("missions"))
	_, err := observer.WaitForEventType("subscription.confirmed", 5*time.Second)
	require.NoError(t, err)

	plan := &mission.Plan{
		Title: "Solid-state battery survey",
		AgentInstances: []mission.AgentInstance{
			{
				InstanceID:   "gather-1",
				AgentType:    "research",
				Objectives:   []string{"survey recent papers"},
				AllowedTools: []string{"web.search"},
			},
			{
				InstanceID:          "synth-1",
				AgentType:           "analysis",
				Objectives:          []string{"synthesize findings"},
				RequiresOutputsFrom: []string{"gather-1"},
			},
		},
		SubStages: []mission.SubStage{
			{SubStageID: "gather", AgentInstances: []string{"gather-1"}},
			{SubStageID: "synthesize", AgentInstances: []string{"synth-1"}, DependsOnSubStages: []string{"gather"}},
		},
		Stages: []mission.Stage{
			{StageID: "stage-1", SubStages: []string{"gather", "synthesize"}},
		},
	}

	missionID, err := app.Orchestrator.StartMission(context.Background(), threadID, plan)
	require.NoError(t, err)

	app.WaitForMissionStatus(t, missionID, models.MissionSucceeded)

	// REST detail: terminal status plus the full task table.
	detail := app.GetMission(t, missionID)
	assert.Equal(t, "succeeded", detail["status"])
	assert.Equal(t, threadID, detail["thread_id"])
	tasks, ok := detail["tasks"].([]any)
	require.True(t, ok)
	require.Len(t, tasks, 4) // 2 instances + 2 reduces
	for _, raw := range tasks {
		task := raw.(map[string]any)
		assert.Equal(t, "succeeded", task["status"], "task %v", task["task_id"])
	}

	// Durable event log: started first, succeeded last, every task covered.
	evts := app.GetMissionEvents(t, missionID, "")
	logged, ok := evts["events"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, logged)
	firstPayload := logged[0].(map[string]any)["payload"].(map[string]any)
	lastPayload := logged[len(logged)-1].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, "mission_started", firstPayload["type"])
	assert.Equal(t, "mission_succeeded", lastPayload["type"])

	succeededTasks := map[string]bool{}
	for _, raw := range logged {
		payload := raw.(map[string]any)["payload"].(map[string]any)
		if payload["type"] == "task_succeeded" {
			succeededTasks[payload["task_id"].(string)] = true
		}
	}
	assert.Len(t, succeededTasks, 4)

	// Observer saw the transient global copies.
	_, err = observer.WaitForEvent(func(e WSEvent) bool {
		return e.Type == "mission_succeeded" && e.Parsed["mission_id"] == missionID
	}, 10*time.Second)
	require.NoError(t, err)

	// Outputs persisted under instance and sub-stage keys.
	outputs, err := app.Outputs.ListOutputs(context.Background(), missionID)
	require.NoError(t, err)
	for _, key := range []string{"gather-1", "synth-1", "gather", "synthesize"} {
		require.Contains(t, outputs, key)
	}
	require.NotEmpty(t, outputs["synthesize"].Findings)
	assert.Contains(t, outputs["synthesize"].Findings[0].Summary, "Sulfide")

	// Three task LLM calls, none on the conversation path.
	assert.Equal(t, 3, llm.Tasks.CallCount())
	assert.Equal(t, 0, llm.Conversation.CallCount())

	// The synthesis task saw the gather output as prior context.
	inputs := llm.Tasks.CapturedInputs()
	synthPrompt := inputs[2].Messages[1].Content
	assert.Contains(t, synthPrompt, "gather-1")

	// Metrics and health reflect the completed run. The collector is a bus
	// subscriber of its own, so poll rather than assume it kept pace.
	require.Eventually(t, func() bool {
		metricsText := app.GetMetricsText(t)
		return strings.Contains(metricsText, `surveyor_missions_total{outcome="succeeded"} 1`) &&
			strings.Contains(metricsText, `surveyor_tasks_total{kind="instance",outcome="succeeded"} 2`)
	}, 10*time.Second, 100*time.Millisecond)

	code, health := app.GetHealth(t)
	assert.Equal(t, 200, code)
	assert.Equal(t, "healthy", health["status"])
}
