// Package cleanup provides startup recovery and data retention services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/services"
)

// Service periodically enforces retention policies:
//   - Deletes threads (and their cascaded missions, messages, checkpoints,
//     and events) with no activity inside the retention window
//   - Removes event rows past their TTL
//
// It also owns startup recovery for missions orphaned by a previous
// process. All operations are idempotent.
type Service struct {
	config   *config.RetentionConfig
	missions *services.MissionService
	threads  *services.ThreadService
	events   *services.EventService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	missions *services.MissionService,
	threads *services.ThreadService,
	events *services.EventService,
) *Service {
	return &Service{
		config:   cfg,
		missions: missions,
		threads:  threads,
		events:   events,
	}
}

// RecoverOrphanedMissions fails every mission left pending or running by a
// previous process. Called once at startup, before the orchestrator accepts
// work: an orphaned mission has no scheduler and will never progress.
func (s *Service) RecoverOrphanedMissions(ctx context.Context) error {
	count, err := s.missions.FailOrphanedMissions(ctx, "orphaned by restart")
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Warn("Failed missions orphaned by previous process", "count", count)
	}
	return nil
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"thread_retention_days", s.config.ThreadRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteInactiveThreads(ctx)
	s.pruneOldEvents(ctx)
}

func (s *Service) deleteInactiveThreads(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.ThreadRetentionDays)
	count, err := s.threads.DeleteThreadsInactiveSince(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: inactive thread delete failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted inactive threads", "count", count)
	}
}

func (s *Service) pruneOldEvents(ctx context.Context) {
	count, err := s.events.CleanupOldEvents(ctx, s.config.EventTTL)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned old events", "count", count)
	}
}
