// Package hitl runs human-in-the-loop conversation sessions over WebSocket.
// A session binds one accepted socket to one thread and keeps two activities
// alive at once: a reader draining client frames and, while a turn is
// streaming, a runner driving the agent. The reader is never blocked by the
// runner: decision frames must get through while the runner is parked on an
// interrupt, or nothing would ever resume.
package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/interrupt"
	"github.com/meridian-labs/surveyor/pkg/models"
	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// timeoutRejectMessage is the synthetic rejection reason recorded when the
// decision deadline elapses. It rides the normal reject path, so the agent
// sees it exactly like a user rejection.
const timeoutRejectMessage = "timeout - no decision received"

// TurnDriver drives agent turns for a thread. Implemented by
// runtime.Adapter.
type TurnDriver interface {
	StreamTurn(ctx context.Context, threadID, userMessage string) (<-chan runtime.Event, error)
	ResumeTurn(ctx context.Context, threadID string, decisions []runtime.Decision) (<-chan runtime.Event, error)
}

// DecisionRegistry is the rendezvous between a parked runner and the client
// frames answering it. Implemented by interrupt.Registry.
type DecisionRegistry interface {
	Wait(ctx context.Context, threadID string, intr *runtime.Interrupt, deadline time.Time) ([]runtime.Decision, error)
	Deliver(threadID string, decisions []runtime.Decision) error
	Cancel(threadID string)
}

// MissionLister finds missions already attached to a thread so a
// reconnected session resumes forwarding their progress events.
// Implemented by services.MissionService.
type MissionLister interface {
	ListMissions(ctx context.Context, filters models.MissionFilters) (*models.MissionListResponse, error)
}

// Session is one accepted conversation socket bound to a thread. It owns
// the socket exclusively: the reader goroutine, at most one runner, and the
// mission event forwarder all write through the session's serialized send
// path.
type Session struct {
	threadID string
	conn     *websocket.Conn
	driver   TurnDriver
	registry DecisionRegistry
	bus      *events.Bus
	missions MissionLister

	decisionBudget time.Duration
	writeTimeout   time.Duration
	log            *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu   sync.Mutex
	busy bool

	wg sync.WaitGroup
}

func newSession(parentCtx context.Context, threadID string, conn *websocket.Conn, hub *Hub) *Session {
	ctx, cancel := context.WithCancel(parentCtx)
	return &Session{
		threadID:       threadID,
		conn:           conn,
		driver:         hub.driver,
		registry:       hub.registry,
		bus:            hub.bus,
		missions:       hub.missions,
		decisionBudget: hub.cfg.InterruptDeadline(),
		writeTimeout:   hub.cfg.WriteTimeout(),
		log:            hub.log.With("thread_id", threadID),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// run is the reader loop. It blocks until the client disconnects or the
// session is cancelled, then tears everything down: the runner context, any
// parked interrupt wait, and the socket itself.
func (s *Session) run() {
	defer s.close()

	s.wg.Add(1)
	go s.forwardMissionEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError(fmt.Sprintf("malformed frame: %v", err))
			continue
		}
		s.handleFrame(&frame)
	}
}

// close releases everything the session holds. The registry cancel wakes a
// parked runner, which observes the cancelled context and exits without
// resuming; the suspended turn stays in the checkpoint for the next session.
func (s *Session) close() {
	s.cancel()
	s.registry.Cancel(s.threadID)
	s.wg.Wait()
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Session) handleFrame(frame *ClientFrame) {
	switch frame.Type {
	case ClientFrameSendMessage:
		if frame.Content == "" {
			s.sendError("content is required")
			return
		}
		s.startTurn(frame.Content)

	case ClientFrameDecision:
		s.deliverDecisions(frame.Decisions)

	default:
		s.sendError(fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

// startTurn spawns the runner for one turn. A second send_message while a
// turn is still streaming is a protocol error; the client must wait for
// done or error.
func (s *Session) startTurn(userMessage string) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.sendError("already streaming")
		return
	}
	s.busy = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.clearBusy()
		s.runTurn(userMessage)
	}()
}

func (s *Session) clearBusy() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// deliverDecisions forwards a decision frame to the thread's parked waiter.
// Failures surface as error frames and change nothing: an invalid decision
// leaves the waiter parked, a decision with no waiter is dropped.
func (s *Session) deliverDecisions(decisions []runtime.Decision) {
	err := s.registry.Deliver(s.threadID, decisions)
	switch {
	case err == nil:
	case errors.Is(err, interrupt.ErrNoWaiter):
		s.sendError("no decision is pending for this thread")
	default:
		s.sendError(err.Error())
	}
}

// runTurn drives one logical turn to completion: stream until the agent
// finishes or parks on an interrupt, obtain decisions, resume, repeat. A
// turn may pass through several interrupts before it is done.
func (s *Session) runTurn(userMessage string) {
	stream, err := s.driver.StreamTurn(s.ctx, s.threadID, userMessage)
	if err != nil {
		s.sendError(fmt.Sprintf("failed to start turn: %v", err))
		return
	}

	for {
		intr, ok := s.pump(stream)
		if !ok || intr == nil {
			return
		}

		decisions, ok := s.awaitDecisions(intr)
		if !ok {
			return
		}

		stream, err = s.driver.ResumeTurn(s.ctx, s.threadID, decisions)
		if err != nil {
			s.sendError(fmt.Sprintf("failed to resume turn: %v", err))
			return
		}
	}
}

// pump translates one event stream into socket frames. It returns the
// pending interrupt when the stream parks on one, (nil, true) when the
// stream finished, and (nil, false) when the session died mid-stream.
func (s *Session) pump(stream <-chan runtime.Event) (*runtime.Interrupt, bool) {
	for {
		select {
		case <-s.ctx.Done():
			return nil, false

		case ev, open := <-stream:
			if !open {
				return nil, true
			}
			switch ev := ev.(type) {
			case *runtime.ThinkingEvent:
				if !s.send(ServerFrame{Type: FrameThinking}) {
					return nil, false
				}
			case *runtime.ContentDeltaEvent:
				if !s.send(ServerFrame{Type: FrameContent, Content: ev.Text}) {
					return nil, false
				}
			case *runtime.InterruptEvent:
				return ev.Interrupt, true
			case *runtime.DoneEvent:
				s.send(ServerFrame{Type: FrameDone})
				return nil, true
			case *runtime.ErrorEvent:
				s.send(ServerFrame{Type: FrameError, Error: ev.Reason})
				return nil, true
			}
		}
	}
}

// awaitDecisions surfaces the interrupt to the client and parks until the
// decision frame arrives or the deadline passes. A timeout resumes the turn
// with a synthetic rejection per action request; a cancelled wait abandons
// the turn, leaving the interrupt checkpointed for replay.
func (s *Session) awaitDecisions(intr *runtime.Interrupt) ([]runtime.Decision, bool) {
	if !s.send(ServerFrame{Type: FrameInterrupt, InterruptData: intr}) {
		return nil, false
	}
	waiting := fmt.Sprintf("Waiting for a decision on %d action request(s).", len(intr.ActionRequests))
	if !s.send(ServerFrame{Type: FrameWaitingForDecision, Message: waiting}) {
		return nil, false
	}

	decisions, err := s.registry.Wait(s.ctx, s.threadID, intr, time.Now().Add(s.decisionBudget))
	switch {
	case err == nil:
		return decisions, s.send(ServerFrame{Type: FrameResuming, Message: "Decision received, continuing."})

	case errors.Is(err, interrupt.ErrWaitTimeout):
		s.log.Info("Decision deadline elapsed, auto-rejecting",
			"interrupt_id", intr.ID, "deadline", s.decisionBudget)
		decisions = make([]runtime.Decision, len(intr.ActionRequests))
		for i := range decisions {
			decisions[i] = runtime.Decision{Kind: runtime.DecisionReject, Message: timeoutRejectMessage}
		}
		return decisions, s.send(ServerFrame{Type: FrameResuming, Message: "No decision arrived in time; the pending actions were rejected."})

	case errors.Is(err, interrupt.ErrBusy):
		// Another session on this thread already holds the waiter slot.
		s.sendError(err.Error())
		return nil, false

	default:
		return nil, false
	}
}

// send marshals and writes one frame. Returns false when the socket is
// gone, which also cancels the session so in-flight work stops streaming
// into the void.
func (s *Session) send(frame ServerFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		s.log.Error("Failed to marshal server frame", "frame_type", frame.Type, "error", err)
		return true
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()
	if err := s.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		s.cancel()
		return false
	}
	return true
}

func (s *Session) sendError(text string) {
	s.send(ServerFrame{Type: FrameError, Error: text})
}
