// Package slack posts mission terminal-state notifications to a Slack
// channel. The notifier is a bus subscriber: it listens on the global
// missions channel and posts when a mission reaches succeeded, failed, or
// cancelled. Delivery is fail-open: a Slack outage never touches mission
// processing.
package slack

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/models"
)

// MissionGetter loads the mission row so notifications can carry the plan
// title instead of a bare UUID. Implemented by services.MissionService.
type MissionGetter interface {
	GetMission(ctx context.Context, missionID string) (*models.Mission, error)
}

// Notifier subscribes to mission status events and posts terminal states.
// Nil-safe: all methods are no-ops when the notifier is nil, so callers
// can hold an unconfigured notifier without guarding every call.
type Notifier struct {
	client       *Client
	missions     MissionGetter
	dashboardURL string
	logger       *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifier creates a notifier from resolved configuration.
// token is the resolved bot token value. Returns nil when notifications
// are disabled or the token or channel is missing.
func NewNotifier(cfg *config.SlackConfig, token, dashboardURL string, missions MissionGetter) *Notifier {
	if cfg == nil || !cfg.Enabled || token == "" || cfg.Channel == "" {
		return nil
	}
	return newNotifier(NewClient(token, cfg.Channel), dashboardURL, missions)
}

// NewNotifierWithClient creates a Notifier backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewNotifierWithClient(client *Client, dashboardURL string, missions MissionGetter) *Notifier {
	return newNotifier(client, dashboardURL, missions)
}

func newNotifier(client *Client, dashboardURL string, missions MissionGetter) *Notifier {
	return &Notifier{
		client:       client,
		missions:     missions,
		dashboardURL: dashboardURL,
		logger:       slog.With("component", "slack"),
	}
}

// Start subscribes to the global missions channel and begins posting.
func (n *Notifier) Start(bus *events.Bus) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})

	sub := bus.Subscribe("slack-notifier", events.GlobalMissionsChannel)
	go n.run(ctx, sub)
	n.logger.Info("Slack notifier started")
}

// Stop ends the subscription and waits for the notifier goroutine.
func (n *Notifier) Stop() {
	if n == nil || n.cancel == nil {
		return
	}
	n.cancel()
	<-n.done
	n.logger.Info("Slack notifier stopped")
}

func (n *Notifier) run(ctx context.Context, sub *events.Subscription) {
	defer close(n.done)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case env, open := <-sub.C():
			if !open {
				return
			}
			n.handle(ctx, env.Payload)
		}
	}
}

// handle posts a notification for terminal mission events and ignores
// everything else on the channel. Fail-open: errors are logged, never
// propagated.
func (n *Notifier) handle(ctx context.Context, payload []byte) {
	var p events.MissionStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		n.logger.Warn("Unparseable mission status event", "error", err)
		return
	}

	switch p.Type {
	case events.EventTypeMissionSucceeded, events.EventTypeMissionFailed, events.EventTypeMissionCancelled:
	default:
		return
	}

	outcome := MissionOutcome{
		MissionID: p.MissionID,
		Title:     n.missionTitle(ctx, p.MissionID),
		Status:    p.Status,
		Error:     p.Error,
	}
	blocks := BuildMissionMessage(outcome, n.dashboardURL)
	if err := n.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		n.logger.Error("Failed to send Slack notification",
			"mission_id", p.MissionID,
			"status", p.Status,
			"error", err)
	}
}

// missionTitle fetches the plan title for the notification. Lookup
// failures degrade to an empty title rather than blocking the post.
func (n *Notifier) missionTitle(ctx context.Context, missionID string) string {
	if n.missions == nil {
		return ""
	}
	m, err := n.missions.GetMission(ctx, missionID)
	if err != nil {
		n.logger.Warn("Failed to load mission for notification", "mission_id", missionID, "error", err)
		return ""
	}
	var plan struct {
		Title string `json:"title"`
	}
	if len(m.Plan) > 0 {
		_ = json.Unmarshal(m.Plan, &plan)
	}
	return plan.Title
}
