// Package metrics exposes operational Prometheus metrics derived from the
// mission event feed. The collector is an ordinary bus subscriber, so a
// scrape endpoint going away never touches mission processing.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridian-labs/surveyor/pkg/events"
)

// Collector tallies mission and task outcomes from bus events and tracks
// in-flight work. Counter and gauge updates happen on a single goroutine,
// so the tracking sets need no locking.
type Collector struct {
	reg prometheus.Registerer

	missionsTotal   *prometheus.CounterVec
	tasksTotal      *prometheus.CounterVec
	taskRetries     prometheus.Counter
	missionsRunning prometheus.Gauge
	tasksRunning    prometheus.Gauge

	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCollector creates the collector and registers its metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		missionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveyor_missions_total",
			Help: "Finished missions by outcome.",
		}, []string{"outcome"}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveyor_tasks_total",
			Help: "Finished mission tasks by kind and outcome.",
		}, []string{"kind", "outcome"}),
		taskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surveyor_task_retries_total",
			Help: "Task attempts beyond the first.",
		}),
		missionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surveyor_missions_running",
			Help: "Missions currently executing.",
		}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surveyor_tasks_running",
			Help: "Tasks currently executing.",
		}),
		logger: slog.With("component", "metrics"),
	}
	reg.MustRegister(c.missionsTotal, c.tasksTotal, c.taskRetries, c.missionsRunning, c.tasksRunning)
	return c
}

// RegisterSocketGauges wires live-connection gauges. Either func may be
// nil. Call before the registry is first scraped.
func (c *Collector) RegisterSocketGauges(hitlSessions, observerClients func() int) {
	if hitlSessions != nil {
		c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "surveyor_hitl_sessions",
			Help: "Open conversation WebSocket sessions.",
		}, func() float64 { return float64(hitlSessions()) }))
	}
	if observerClients != nil {
		c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "surveyor_observer_clients",
			Help: "Connected observer WebSocket clients.",
		}, func() float64 { return float64(observerClients()) }))
	}
}

// Start subscribes to the bus and begins tallying.
func (c *Collector) Start(bus *events.Bus) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	// Task events ride only on per-mission channels, so the collector
	// subscribes to everything and skips the global-channel copies of
	// mission events to avoid double counting.
	sub := bus.Subscribe("metrics")
	go c.run(ctx, sub)
}

// Stop ends the subscription and waits for the collector goroutine.
func (c *Collector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Collector) run(ctx context.Context, sub *events.Subscription) {
	defer close(c.done)
	defer sub.Close()

	runningMissions := make(map[string]struct{})
	runningTasks := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return
		case env, open := <-sub.C():
			if !open {
				return
			}
			if env.Channel == events.GlobalMissionsChannel {
				continue
			}
			c.observe(env.Payload, runningMissions, runningTasks)
		}
	}
}

func (c *Collector) observe(payload []byte, runningMissions, runningTasks map[string]struct{}) {
	var ev struct {
		Type      string `json:"type"`
		MissionID string `json:"mission_id"`
		TaskID    string `json:"task_id"`
		Kind      string `json:"kind"`
		Attempt   int    `json:"attempt"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.logger.Warn("Unparseable event payload", "error", err)
		return
	}

	switch ev.Type {
	case events.EventTypeMissionStarted:
		runningMissions[ev.MissionID] = struct{}{}
		c.missionsRunning.Set(float64(len(runningMissions)))

	case events.EventTypeMissionSucceeded, events.EventTypeMissionFailed, events.EventTypeMissionCancelled:
		c.missionsTotal.WithLabelValues(strings.TrimPrefix(ev.Type, "mission_")).Inc()
		// Cancelled-while-queued missions never started; only decrement
		// what was tracked.
		if _, ok := runningMissions[ev.MissionID]; ok {
			delete(runningMissions, ev.MissionID)
			c.missionsRunning.Set(float64(len(runningMissions)))
		}

	case events.EventTypeTaskStarted:
		runningTasks[ev.MissionID+"/"+ev.TaskID] = struct{}{}
		c.tasksRunning.Set(float64(len(runningTasks)))
		if ev.Attempt > 1 {
			c.taskRetries.Inc()
		}

	case events.EventTypeTaskSucceeded, events.EventTypeTaskFailed, events.EventTypeTaskCancelled:
		c.tasksTotal.WithLabelValues(ev.Kind, strings.TrimPrefix(ev.Type, "task_")).Inc()
		key := ev.MissionID + "/" + ev.TaskID
		if _, ok := runningTasks[key]; ok {
			delete(runningTasks, key)
			c.tasksRunning.Set(float64(len(runningTasks)))
		}
	}
}
