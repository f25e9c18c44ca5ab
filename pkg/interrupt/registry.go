// Package interrupt implements the per-thread rendezvous between a parked
// turn runner and the client delivering a human decision. Decisions are
// handed off live: nothing is buffered for threads nobody is waiting on.
package interrupt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meridian-labs/surveyor/pkg/runtime"
)

var (
	// ErrBusy rejects a second waiter for a thread that already has one.
	ErrBusy = errors.New("an interrupt is already pending for thread")

	// ErrNoWaiter rejects a delivery for a thread with no parked waiter.
	ErrNoWaiter = errors.New("no waiter registered for thread")

	// ErrMalformedDecision rejects structurally invalid decision payloads.
	ErrMalformedDecision = errors.New("malformed decision")

	// ErrDecisionNotAllowed rejects a decision kind the interrupt does not
	// accept.
	ErrDecisionNotAllowed = errors.New("decision kind not allowed for this interrupt")

	// ErrWaitTimeout reports that the wait deadline elapsed.
	ErrWaitTimeout = errors.New("interrupt wait deadline elapsed")

	// ErrWaitCancelled reports that the registration was cancelled.
	ErrWaitCancelled = errors.New("interrupt wait cancelled")
)

// waiter is one parked registration. The decision channel is buffered so a
// deliverer never blocks on a departing waiter; whichever side removes the
// registration from the map owns the outcome.
type waiter struct {
	interrupt  *runtime.Interrupt
	decisionCh chan []runtime.Decision
	cancelCh   chan struct{}
}

// Registry is the process-wide rendezvous table, one slot per thread.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]*waiter
}

// NewRegistry creates an empty interrupt registry.
func NewRegistry() *Registry {
	return &Registry{waiters: make(map[string]*waiter)}
}

// Wait parks the caller until a decision for threadID is delivered, the
// deadline passes, or the registration is cancelled. The returned decisions
// align by index with the interrupt's action requests.
//
// At most one waiter may be parked per thread; a second Wait fails
// immediately with ErrBusy.
func (r *Registry) Wait(ctx context.Context, threadID string, intr *runtime.Interrupt, deadline time.Time) ([]runtime.Decision, error) {
	w := &waiter{
		interrupt:  intr,
		decisionCh: make(chan []runtime.Decision, 1),
		cancelCh:   make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.waiters[threadID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBusy, threadID)
	}
	r.waiters[threadID] = w
	r.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case decisions := <-w.decisionCh:
		return decisions, nil

	case <-w.cancelCh:
		// Cancel claimed the registration; no decision was or will be sent.
		return nil, ErrWaitCancelled

	case <-timer.C:
		if r.unregister(threadID, w) {
			return nil, ErrWaitTimeout
		}
		// Lost the unregister race: a deliver or cancel committed first.
		return w.settle()

	case <-ctx.Done():
		if r.unregister(threadID, w) {
			return nil, fmt.Errorf("%w: %v", ErrWaitCancelled, ctx.Err())
		}
		return w.settle()
	}
}

// settle resolves a waiter whose registration was claimed by another party.
func (w *waiter) settle() ([]runtime.Decision, error) {
	select {
	case decisions := <-w.decisionCh:
		return decisions, nil
	case <-w.cancelCh:
		return nil, ErrWaitCancelled
	}
}

// Deliver hands the decisions to the thread's parked waiter. Decisions are
// validated against the waiter's interrupt before the handoff; validation
// failures leave the waiter parked and the interrupt live.
func (r *Registry) Deliver(threadID string, decisions []runtime.Decision) error {
	if len(decisions) == 0 {
		return fmt.Errorf("%w: empty decision list", ErrMalformedDecision)
	}
	for i := range decisions {
		if err := decisions[i].Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedDecision, err)
		}
	}

	r.mu.Lock()
	w, exists := r.waiters[threadID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoWaiter, threadID)
	}
	if len(decisions) != len(w.interrupt.ActionRequests) {
		r.mu.Unlock()
		return fmt.Errorf("%w: got %d decisions for %d action requests",
			ErrMalformedDecision, len(decisions), len(w.interrupt.ActionRequests))
	}
	for i := range decisions {
		if !w.interrupt.Allows(decisions[i].Kind) {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDecisionNotAllowed, decisions[i].Kind)
		}
	}
	delete(r.waiters, threadID)
	r.mu.Unlock()

	w.decisionCh <- decisions
	return nil
}

// Cancel wakes the thread's waiter, if any, with ErrWaitCancelled.
// Idempotent: cancelling a thread with no waiter is a no-op.
func (r *Registry) Cancel(threadID string) {
	r.mu.Lock()
	w, exists := r.waiters[threadID]
	if exists {
		delete(r.waiters, threadID)
	}
	r.mu.Unlock()

	if exists {
		close(w.cancelCh)
	}
}

// Has reports whether a waiter is parked for the thread.
func (r *Registry) Has(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.waiters[threadID]
	return exists
}

// Len returns the number of parked waiters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// unregister removes the waiter if it is still the thread's registered one,
// reporting whether the caller claimed it.
func (r *Registry) unregister(threadID string, w *waiter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, exists := r.waiters[threadID]; !exists || current != w {
		return false
	}
	delete(r.waiters, threadID)
	return true
}
