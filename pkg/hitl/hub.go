package hitl

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/events"
)

// ThreadChecker verifies a thread exists before a session is accepted.
// Implemented by services.ThreadService.
type ThreadChecker interface {
	ThreadExists(ctx context.Context, threadID string) (bool, error)
}

// Hub accepts upgraded conversation sockets and runs one Session per
// connection. It tracks live sessions so shutdown can cancel their runners.
type Hub struct {
	cfg      *config.HITLConfig
	threads  ThreadChecker
	driver   TurnDriver
	registry DecisionRegistry
	bus      *events.Bus
	missions MissionLister
	log      *slog.Logger

	mu      sync.Mutex
	active  map[*Session]struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewHub creates a conversation hub. missions may be nil, in which case
// reconnecting clients only see events for missions launched after the
// reconnect.
func NewHub(
	cfg *config.HITLConfig,
	threads ThreadChecker,
	driver TurnDriver,
	registry DecisionRegistry,
	bus *events.Bus,
	missions MissionLister,
) *Hub {
	return &Hub{
		cfg:      cfg,
		threads:  threads,
		driver:   driver,
		registry: registry,
		bus:      bus,
		missions: missions,
		log:      slog.With("component", "hitl"),
		active:   make(map[*Session]struct{}),
	}
}

// HandleConnection runs a session on an already-accepted socket. Blocks
// until the connection closes. Unknown threads are closed with 1008, lookup
// failures with 1011.
func (h *Hub) HandleConnection(ctx context.Context, threadID string, conn *websocket.Conn) {
	exists, err := h.threads.ThreadExists(ctx, threadID)
	if err != nil {
		h.log.Error("Thread lookup failed", "thread_id", threadID, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "thread lookup failed")
		return
	}
	if !exists {
		_ = conn.Close(websocket.StatusPolicyViolation, "unknown thread")
		return
	}

	s := newSession(ctx, threadID, conn, h)
	if !h.track(s) {
		_ = conn.Close(websocket.StatusGoingAway, "server is shutting down")
		return
	}
	defer h.untrack(s)

	h.log.Info("Conversation session opened", "thread_id", threadID)
	s.run()
	h.log.Info("Conversation session closed", "thread_id", threadID)
}

// Stop cancels every live session and waits for their teardown. New
// connections are refused afterwards.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	for s := range h.active {
		s.cancel()
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// ActiveSessions returns the number of live conversation sessions.
func (h *Hub) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

func (h *Hub) track(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.active[s] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) untrack(s *Session) {
	h.mu.Lock()
	delete(h.active, s)
	h.mu.Unlock()
	h.wg.Done()
}
