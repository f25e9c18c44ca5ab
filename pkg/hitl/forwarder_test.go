package hitl

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/models"
)

// waitForForwarder blocks until the session's bus subscription is live, so
// a test can publish without racing the subscribe.
func (h *hitlHarness) waitForForwarder(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func missionEventType(t *testing.T, frame ServerFrame) string {
	t.Helper()
	require.Equal(t, FrameMissionEvent, frame.Type)
	var payload struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(frame.Event, &payload))
	return payload.Type
}

func TestForwarder_RelaysEventsForOwnThreadMissions(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t, "thread-1")
	h.waitForForwarder(t)

	// mission_started carries the thread id and attaches the mission.
	h.bus.Publish(events.Envelope{
		Channel: events.MissionChannel("m-1"),
		Payload: []byte(`{"type":"mission_started","mission_id":"m-1","thread_id":"thread-1","status":"running"}`),
	})
	frame := readServerFrame(t, conn)
	assert.Equal(t, "mission_started", missionEventType(t, frame))

	// Task events carry no thread id; the tracked mission id routes them.
	h.bus.Publish(events.Envelope{
		Channel: events.MissionChannel("m-1"),
		Payload: []byte(`{"type":"task_started","mission_id":"m-1","task_id":"instance::m-1::probe","kind":"instance"}`),
	})
	frame = readServerFrame(t, conn)
	assert.Equal(t, "task_started", missionEventType(t, frame))
}

func TestForwarder_IgnoresOtherThreadsAndGlobalCopies(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t, "thread-1")
	h.waitForForwarder(t)

	// Another thread's mission: never forwarded.
	h.bus.Publish(events.Envelope{
		Channel: events.MissionChannel("m-2"),
		Payload: []byte(`{"type":"mission_started","mission_id":"m-2","thread_id":"thread-9","status":"running"}`),
	})
	h.bus.Publish(events.Envelope{
		Channel: events.MissionChannel("m-2"),
		Payload: []byte(`{"type":"task_started","mission_id":"m-2","task_id":"instance::m-2::x"}`),
	})

	// The global list-page copy of an own-thread event: skipped, only the
	// mission channel copy goes out.
	h.bus.Publish(events.Envelope{
		Channel: events.GlobalMissionsChannel,
		Payload: []byte(`{"type":"mission_started","mission_id":"m-1","thread_id":"thread-1","status":"running"}`),
	})
	h.bus.Publish(events.Envelope{
		Channel: events.MissionChannel("m-1"),
		Payload: []byte(`{"type":"mission_started","mission_id":"m-1","thread_id":"thread-1","status":"running"}`),
	})

	// The first frame to arrive is the mission-channel copy for m-1; the
	// m-2 events and the global copy never show up.
	frame := readServerFrame(t, conn)
	var payload struct {
		Type      string `json:"type"`
		MissionID string `json:"mission_id"`
	}
	require.NoError(t, json.Unmarshal(frame.Event, &payload))
	assert.Equal(t, "mission_started", payload.Type)
	assert.Equal(t, "m-1", payload.MissionID)
}

func TestForwarder_ReattachesToRunningMissions(t *testing.T) {
	h := newHarness(t, nil)
	h.missions.add(&models.Mission{ID: "m-7", ThreadID: "thread-1", Status: models.MissionRunning})
	h.missions.add(&models.Mission{ID: "m-8", ThreadID: "thread-2", Status: models.MissionRunning})

	conn := h.connect(t, "thread-1")
	h.waitForForwarder(t)

	// m-7 was launched from this thread before the reconnect: its task
	// events flow without a fresh mission_started announcement.
	h.bus.Publish(events.Envelope{
		Channel: events.MissionChannel("m-8"),
		Payload: []byte(`{"type":"task_succeeded","mission_id":"m-8","task_id":"instance::m-8::y"}`),
	})
	h.bus.Publish(events.Envelope{
		Channel: events.MissionChannel("m-7"),
		Payload: []byte(`{"type":"task_succeeded","mission_id":"m-7","task_id":"instance::m-7::x"}`),
	})

	frame := readServerFrame(t, conn)
	var payload struct {
		MissionID string `json:"mission_id"`
	}
	require.NoError(t, json.Unmarshal(frame.Event, &payload))
	assert.Equal(t, "m-7", payload.MissionID)
}
