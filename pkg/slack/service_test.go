package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/models"
)

type stubMissions struct {
	mission *models.Mission
	err     error
}

func (s *stubMissions) GetMission(ctx context.Context, missionID string) (*models.Mission, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.mission, nil
}

// mockSlackAPI records chat.postMessage block payloads.
type mockSlackAPI struct {
	server *httptest.Server

	mu    sync.Mutex
	posts []string
}

func newMockSlackAPI(t *testing.T) *mockSlackAPI {
	t.Helper()
	m := &mockSlackAPI{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		m.mu.Lock()
		m.posts = append(m.posts, r.FormValue("blocks"))
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1234.5678"}`))
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockSlackAPI) postCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}

func (m *mockSlackAPI) lastPost() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.posts) == 0 {
		return ""
	}
	return m.posts[len(m.posts)-1]
}

func TestNewNotifier(t *testing.T) {
	t.Run("returns nil when disabled", func(t *testing.T) {
		cfg := &config.SlackConfig{Enabled: false, Channel: "C123"}
		assert.Nil(t, NewNotifier(cfg, "xoxb-test", "https://dash.example.com", nil))
	})

	t.Run("returns nil when token empty", func(t *testing.T) {
		cfg := &config.SlackConfig{Enabled: true, Channel: "C123"}
		assert.Nil(t, NewNotifier(cfg, "", "https://dash.example.com", nil))
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		cfg := &config.SlackConfig{Enabled: true}
		assert.Nil(t, NewNotifier(cfg, "xoxb-test", "https://dash.example.com", nil))
	})

	t.Run("returns notifier when configured", func(t *testing.T) {
		cfg := &config.SlackConfig{Enabled: true, Channel: "C123"}
		assert.NotNil(t, NewNotifier(cfg, "xoxb-test", "https://dash.example.com", nil))
	})
}

func TestNotifier_NilReceiver(t *testing.T) {
	var n *Notifier

	// Should not panic.
	n.Start(events.NewBus(4))
	n.Stop()
}

func TestNotifier_PostsTerminalMissionEvents(t *testing.T) {
	api := newMockSlackAPI(t)
	client := NewClientWithAPIURL("xoxb-test", "C123", api.server.URL+"/")
	missions := &stubMissions{mission: &models.Mission{
		ID:   "m-1",
		Plan: json.RawMessage(`{"title":"Minerals Survey"}`),
	}}

	bus := events.NewBus(16)
	defer bus.Close()

	n := NewNotifierWithClient(client, "https://dash.example.com", missions)
	n.Start(bus)
	defer n.Stop()

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	publishMissionEvent(t, bus, events.MissionStatusPayload{
		Type:      events.EventTypeMissionStarted,
		MissionID: "m-1",
		Status:    models.MissionRunning,
	})
	publishMissionEvent(t, bus, events.MissionStatusPayload{
		Type:      events.EventTypeMissionFailed,
		MissionID: "m-1",
		Status:    models.MissionFailed,
		Error:     "worker pool exhausted",
	})

	require.Eventually(t, func() bool { return api.postCount() == 1 }, time.Second, 5*time.Millisecond)

	post := api.lastPost()
	assert.Contains(t, post, "Research Mission Failed")
	assert.Contains(t, post, "Minerals Survey")
	assert.Contains(t, post, "worker pool exhausted")

	// mission_started must not have produced a post of its own.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, api.postCount())
}

func TestNotifier_TitleLookupFailureStillPosts(t *testing.T) {
	api := newMockSlackAPI(t)
	client := NewClientWithAPIURL("xoxb-test", "C123", api.server.URL+"/")
	missions := &stubMissions{err: assert.AnError}

	bus := events.NewBus(16)
	defer bus.Close()

	n := NewNotifierWithClient(client, "https://dash.example.com", missions)
	n.Start(bus)
	defer n.Stop()

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	publishMissionEvent(t, bus, events.MissionStatusPayload{
		Type:      events.EventTypeMissionSucceeded,
		MissionID: "m-9",
		Status:    models.MissionSucceeded,
	})

	require.Eventually(t, func() bool { return api.postCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, api.lastPost(), "m-9")
}

func publishMissionEvent(t *testing.T, bus *events.Bus, payload events.MissionStatusPayload) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	bus.Publish(events.Envelope{Channel: events.GlobalMissionsChannel, Payload: data})
}
