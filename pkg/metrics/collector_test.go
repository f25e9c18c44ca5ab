package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/models"
)

func startCollector(t *testing.T) (*Collector, *events.Bus) {
	t.Helper()
	c := NewCollector(prometheus.NewRegistry())
	bus := events.NewBus(32)
	t.Cleanup(bus.Close)

	c.Start(bus)
	t.Cleanup(c.Stop)
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	return c, bus
}

func publishOn(t *testing.T, bus *events.Bus, channel string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	bus.Publish(events.Envelope{Channel: channel, Payload: data})
}

func TestCollector_TalliesMissionAndTaskEvents(t *testing.T) {
	c, bus := startCollector(t)
	ch := events.MissionChannel("m-1")

	publishOn(t, bus, ch, events.MissionStatusPayload{
		Type: events.EventTypeMissionStarted, MissionID: "m-1", Status: models.MissionRunning,
	})
	// Global-channel copies of mission events must not double count.
	publishOn(t, bus, events.GlobalMissionsChannel, events.MissionStatusPayload{
		Type: events.EventTypeMissionStarted, MissionID: "m-1", Status: models.MissionRunning,
	})
	publishOn(t, bus, ch, events.TaskStatusPayload{
		Type: events.EventTypeTaskStarted, MissionID: "m-1", TaskID: "t-1", Kind: models.TaskKindInstance, Attempt: 1,
	})
	publishOn(t, bus, ch, events.TaskStatusPayload{
		Type: events.EventTypeTaskSucceeded, MissionID: "m-1", TaskID: "t-1", Kind: models.TaskKindInstance,
	})
	publishOn(t, bus, ch, events.TaskStatusPayload{
		Type: events.EventTypeTaskStarted, MissionID: "m-1", TaskID: "t-2", Kind: models.TaskKindInstance, Attempt: 1,
	})
	publishOn(t, bus, ch, events.TaskStatusPayload{
		Type: events.EventTypeTaskStarted, MissionID: "m-1", TaskID: "t-2", Kind: models.TaskKindInstance, Attempt: 2,
	})
	publishOn(t, bus, ch, events.TaskStatusPayload{
		Type: events.EventTypeTaskFailed, MissionID: "m-1", TaskID: "t-2", Kind: models.TaskKindInstance, Reason: "timeout",
	})
	publishOn(t, bus, ch, events.MissionStatusPayload{
		Type: events.EventTypeMissionFailed, MissionID: "m-1", Status: models.MissionFailed, Error: "task t-2 failed",
	})

	// The subscriber processes in publish order, so once the terminal
	// mission event lands everything before it has been counted.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.missionsTotal.WithLabelValues("failed")) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.tasksTotal.WithLabelValues("instance", "succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.tasksTotal.WithLabelValues("instance", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.taskRetries))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.missionsRunning))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.tasksRunning))
}

func TestCollector_RunningGaugesTrackInFlight(t *testing.T) {
	c, bus := startCollector(t)
	ch := events.MissionChannel("m-1")

	publishOn(t, bus, ch, events.MissionStatusPayload{
		Type: events.EventTypeMissionStarted, MissionID: "m-1", Status: models.MissionRunning,
	})
	publishOn(t, bus, ch, events.TaskStatusPayload{
		Type: events.EventTypeTaskStarted, MissionID: "m-1", TaskID: "t-1", Kind: models.TaskKindInstance, Attempt: 1,
	})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.tasksRunning) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.missionsRunning))
}

func TestCollector_CancelledQueuedMissionDoesNotUnderflowGauge(t *testing.T) {
	c, bus := startCollector(t)

	// A mission cancelled while still queued emits a terminal event
	// without ever having started.
	publishOn(t, bus, events.MissionChannel("m-2"), events.MissionStatusPayload{
		Type: events.EventTypeMissionCancelled, MissionID: "m-2", Status: models.MissionCancelled,
	})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.missionsTotal.WithLabelValues("cancelled")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.missionsRunning))
}

func TestCollector_SocketGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RegisterSocketGauges(func() int { return 3 }, func() int { return 2 })

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, fam := range families {
		if len(fam.GetMetric()) == 1 && fam.GetMetric()[0].GetGauge() != nil {
			values[fam.GetName()] = fam.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(3), values["surveyor_hitl_sessions"])
	assert.Equal(t, float64(2), values["surveyor_observer_clients"])
}
