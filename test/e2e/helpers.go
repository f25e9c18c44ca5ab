package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/surveyor/pkg/mission"
	"github.com/meridian-labs/surveyor/pkg/models"
	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// ────────────────────────────────────────────────────────────
// HTTP helpers
// ────────────────────────────────────────────────────────────

// CreateThread posts a thread and returns its id.
func (app *TestApp) CreateThread(t *testing.T, title string) string {
	t.Helper()
	resp := app.postJSON(t, "/threads", map[string]string{"title": title}, http.StatusCreated)
	id, _ := resp["id"].(string)
	require.NotEmpty(t, id)
	return id
}

// GetMessages calls GET /threads/:id/messages.
func (app *TestApp) GetMessages(t *testing.T, threadID string) map[string]any {
	t.Helper()
	return app.getJSON(t, "/threads/"+threadID+"/messages", http.StatusOK)
}

// GetMission calls GET /missions/:id and returns the detail response,
// which includes the task table.
func (app *TestApp) GetMission(t *testing.T, missionID string) map[string]any {
	t.Helper()
	return app.getJSON(t, "/missions/"+missionID, http.StatusOK)
}

// GetMissionList calls GET /missions with optional query params.
func (app *TestApp) GetMissionList(t *testing.T, queryParams string) map[string]any {
	t.Helper()
	path := "/missions"
	if queryParams != "" {
		path += "?" + queryParams
	}
	return app.getJSON(t, path, http.StatusOK)
}

// GetMissionEvents calls GET /missions/:id/events with optional query params.
func (app *TestApp) GetMissionEvents(t *testing.T, missionID, queryParams string) map[string]any {
	t.Helper()
	path := "/missions/" + missionID + "/events"
	if queryParams != "" {
		path += "?" + queryParams
	}
	return app.getJSON(t, path, http.StatusOK)
}

// CancelMission posts /missions/:id/cancel expecting the given status code.
func (app *TestApp) CancelMission(t *testing.T, missionID string, expectedStatus int) map[string]any {
	t.Helper()
	return app.postJSON(t, "/missions/"+missionID+"/cancel", nil, expectedStatus)
}

// GetHealth calls GET /healthz and returns the status code alongside the body.
func (app *TestApp) GetHealth(t *testing.T) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+"/healthz", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return resp.StatusCode, result
}

// GetMetricsText calls GET /metrics and returns the exposition body.
func (app *TestApp) GetMetricsText(t *testing.T) string {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+"/metrics", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func (app *TestApp) postJSON(t *testing.T, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s: unexpected status", path)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status", path)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// ────────────────────────────────────────────────────────────
// WebSocket helpers
// ────────────────────────────────────────────────────────────

// ConnectObserver dials the observer socket and waits for the
// connection.established handshake.
func (app *TestApp) ConnectObserver(t *testing.T) *WSClient {
	t.Helper()
	ws, err := WSConnect(context.Background(), app.WSBaseURL+"/ws")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	_, err = ws.WaitForEventType("connection.established", 5*time.Second)
	require.NoError(t, err)
	return ws
}

// ConnectConversation dials the conversation socket for a thread.
func (app *TestApp) ConnectConversation(t *testing.T, threadID string) *WSClient {
	t.Helper()
	ws, err := WSConnect(context.Background(), app.WSBaseURL+"/threads/"+threadID+"/hitl")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// SendUserMessage sends a send_message frame on a conversation socket.
func SendUserMessage(t *testing.T, ws *WSClient, content string) {
	t.Helper()
	require.NoError(t, ws.SendJSON(map[string]string{
		"type":    "send_message",
		"content": content,
	}))
}

// SendDecisions sends a decision frame answering a pending interrupt.
func SendDecisions(t *testing.T, ws *WSClient, decisions ...runtime.Decision) {
	t.Helper()
	require.NoError(t, ws.SendJSON(map[string]any{
		"type":      "decision",
		"decisions": decisions,
	}))
}

// ────────────────────────────────────────────────────────────
// Database polling
// ────────────────────────────────────────────────────────────

// WaitForMissionStatus polls the mission row until it reaches one of the
// expected statuses. Returns the status reached.
func (app *TestApp) WaitForMissionStatus(t *testing.T, missionID string, expected ...models.MissionStatus) models.MissionStatus {
	t.Helper()
	var actual models.MissionStatus
	require.Eventually(t, func() bool {
		m, err := app.Missions.GetMission(context.Background(), missionID)
		if err != nil {
			return false
		}
		actual = m.Status
		for _, exp := range expected {
			if actual == exp {
				return true
			}
		}
		return false
	}, 30*time.Second, 100*time.Millisecond,
		"mission %s did not reach status %v (last: %s)", missionID, expected, actual)
	return actual
}

// WaitForTaskStatus polls the task table until the task reaches one of the
// expected statuses.
func (app *TestApp) WaitForTaskStatus(t *testing.T, missionID, taskID string, expected ...models.TaskStatus) models.TaskStatus {
	t.Helper()
	var actual models.TaskStatus
	require.Eventually(t, func() bool {
		tasks, err := app.Missions.GetTasks(context.Background(), missionID)
		if err != nil {
			return false
		}
		for _, task := range tasks {
			if task.TaskID != taskID {
				continue
			}
			actual = task.Status
			for _, exp := range expected {
				if actual == exp {
					return true
				}
			}
		}
		return false
	}, 30*time.Second, 100*time.Millisecond,
		"task %s did not reach status %v (last: %s)", taskID, expected, actual)
	return actual
}

// ────────────────────────────────────────────────────────────
// Plan builders
// ────────────────────────────────────────────────────────────

// singleStagePlan wraps the given instances into one sub-stage ("main")
// inside one stage ("stage-1"), parallel execution, merge_all reduce.
func singleStagePlan(title string, instances ...mission.AgentInstance) *mission.Plan {
	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.InstanceID
	}
	return &mission.Plan{
		Title:          title,
		AgentInstances: instances,
		SubStages: []mission.SubStage{
			{SubStageID: "main", AgentInstances: ids},
		},
		Stages: []mission.Stage{
			{StageID: "stage-1", SubStages: []string{"main"}},
		},
	}
}
