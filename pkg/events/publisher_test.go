package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// mockEventStore records CreateEvent calls and assigns sequential IDs.
type mockEventStore struct {
	created []models.CreateEventRequest
	nextID  int64
	err     error
}

func (m *mockEventStore) CreateEvent(_ context.Context, req models.CreateEventRequest) (*models.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.created = append(m.created, req)
	m.nextID++
	return &models.Event{
		ID:        m.nextID,
		MissionID: req.MissionID,
		Channel:   req.Channel,
		Payload:   req.Payload,
		CreatedAt: time.Now(),
	}, nil
}

func decodePayload(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestPublisher_PublishMissionStatus(t *testing.T) {
	store := &mockEventStore{}
	bus := NewBus(16)
	defer bus.Close()
	pub := NewPublisher(store, bus)

	missionSub := bus.Subscribe("mission-sub", MissionChannel("m1"))
	globalSub := bus.Subscribe("global-sub", GlobalMissionsChannel)
	defer missionSub.Close()
	defer globalSub.Close()

	err := pub.PublishMissionStatus(context.Background(), MissionStatusPayload{
		Type:      EventTypeMissionStarted,
		MissionID: "m1",
		Status:    models.MissionRunning,
	})
	require.NoError(t, err)

	// Persisted to the mission channel, without db_event_id.
	require.Len(t, store.created, 1)
	assert.Equal(t, "m1", store.created[0].MissionID)
	assert.Equal(t, "mission:m1", store.created[0].Channel)
	stored := decodePayload(t, store.created[0].Payload)
	assert.Equal(t, EventTypeMissionStarted, stored["type"])
	assert.NotContains(t, stored, "db_event_id")
	assert.NotEmpty(t, stored["timestamp"], "timestamp should be stamped")

	// Broadcast on the mission channel with db_event_id injected.
	env := recvEnvelope(t, missionSub)
	assert.Equal(t, "mission:m1", env.Channel)
	assert.Equal(t, int64(1), env.EventID)
	payload := decodePayload(t, env.Payload)
	assert.Equal(t, EventTypeMissionStarted, payload["type"])
	assert.Equal(t, float64(1), payload["db_event_id"])

	// Plus a transient copy on the global missions channel.
	globalEnv := recvEnvelope(t, globalSub)
	assert.Equal(t, GlobalMissionsChannel, globalEnv.Channel)
	assert.JSONEq(t, string(env.Payload), string(globalEnv.Payload))

	// The global copy is not persisted separately.
	assert.Len(t, store.created, 1)
}

func TestPublisher_PublishTaskStatus(t *testing.T) {
	store := &mockEventStore{}
	bus := NewBus(16)
	defer bus.Close()
	pub := NewPublisher(store, bus)

	missionSub := bus.Subscribe("mission-sub", MissionChannel("m1"))
	globalSub := bus.Subscribe("global-sub", GlobalMissionsChannel)
	defer missionSub.Close()
	defer globalSub.Close()

	err := pub.PublishTaskStatus(context.Background(), TaskStatusPayload{
		Type:      EventTypeTaskFailed,
		MissionID: "m1",
		TaskID:    "instance::m1::probe-0",
		Reason:    "agent exceeded step limit",
	})
	require.NoError(t, err)

	env := recvEnvelope(t, missionSub)
	payload := decodePayload(t, env.Payload)
	assert.Equal(t, EventTypeTaskFailed, payload["type"])
	assert.Equal(t, "instance::m1::probe-0", payload["task_id"])
	assert.Equal(t, "agent exceeded step limit", payload["reason"])
	assert.Equal(t, float64(1), payload["db_event_id"])

	// Task events stay on the mission channel; no global copy.
	select {
	case extra := <-globalSub.C():
		t.Fatalf("unexpected global broadcast for task event: %s", extra.Payload)
	default:
	}
}

func TestPublisher_PersistFailureStillBroadcasts(t *testing.T) {
	store := &mockEventStore{err: errors.New("connection refused")}
	bus := NewBus(16)
	defer bus.Close()
	pub := NewPublisher(store, bus)

	sub := bus.Subscribe("sub", MissionChannel("m1"))
	defer sub.Close()

	err := pub.PublishTaskStatus(context.Background(), TaskStatusPayload{
		Type:      EventTypeTaskStarted,
		MissionID: "m1",
		TaskID:    "instance::m1::probe-0",
		Attempt:   1,
	})
	require.Error(t, err, "persist failure should surface to the caller")

	// Live viewers still get the event, just without a catchup cursor.
	env := recvEnvelope(t, sub)
	assert.Equal(t, int64(0), env.EventID)
	payload := decodePayload(t, env.Payload)
	assert.Equal(t, EventTypeTaskStarted, payload["type"])
	assert.NotContains(t, payload, "db_event_id")
}

func TestPublisher_PreservesCallerTimestamp(t *testing.T) {
	store := &mockEventStore{}
	bus := NewBus(16)
	defer bus.Close()
	pub := NewPublisher(store, bus)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)
	err := pub.PublishMissionStatus(context.Background(), MissionStatusPayload{
		Type:      EventTypeMissionSucceeded,
		MissionID: "m1",
		Status:    models.MissionSucceeded,
		Timestamp: ts,
	})
	require.NoError(t, err)

	stored := decodePayload(t, store.created[0].Payload)
	assert.Equal(t, ts, stored["timestamp"])
}
