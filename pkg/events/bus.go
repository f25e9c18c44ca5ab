package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Envelope is a single event as distributed on the Bus: the channel it was
// published on plus the marshaled payload. EventID is the durable log row ID
// (0 for transient events that were not persisted).
type Envelope struct {
	Channel string
	EventID int64
	Payload []byte
}

// Subscription is a handle to a Bus subscription. Receive events from C();
// call Close when done. The channel is closed when the subscription or the
// bus shuts down.
type Subscription struct {
	name     string
	ch       chan Envelope
	channels map[string]bool // nil → all channels
	dropped  atomic.Int64

	closeOnce sync.Once
	bus       *Bus
	id        int64
}

// C returns the receive channel. Closed on Subscription.Close or Bus.Close.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Close removes the subscription from the bus and closes the receive channel.
// Safe to call multiple times.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() { s.bus.unsubscribe(s.id) })
}

// Dropped returns how many events were discarded because this subscriber's
// buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Bus is an in-process publish/subscribe fan-out for mission events. Each
// subscriber has its own bounded buffer; when a buffer is full the OLDEST
// undelivered event is dropped so publishers never block. Durable recovery
// is the event log's job (see Publisher and the catchup flow), not the
// bus's; the bus only promises that a live, keeping-up subscriber sees
// every event in publish order.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int64]*Subscription
	nextID      int64
	bufferSize  int
	closed      bool
}

// NewBus creates a Bus whose subscribers buffer up to bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		subscribers: make(map[int64]*Subscription),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscriber. With no channels given the
// subscriber receives every event; otherwise only events published on the
// listed channels. The name appears in overflow logs.
func (b *Bus) Subscribe(name string, channels ...string) *Subscription {
	var filter map[string]bool
	if len(channels) > 0 {
		filter = make(map[string]bool, len(channels))
		for _, ch := range channels {
			filter[ch] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		name:     name,
		ch:       make(chan Envelope, b.bufferSize),
		channels: filter,
		bus:      b,
		id:       b.nextID,
	}
	if b.closed {
		// Late subscriber on a stopped bus gets an already-closed channel.
		close(sub.ch)
		return sub
	}
	b.subscribers[sub.id] = sub
	return sub
}

// Publish delivers an envelope to every matching subscriber without
// blocking. Subscribers whose buffers are full lose their oldest buffered
// event to make room.
func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		if sub.channels != nil && !sub.channels[env.Channel] {
			continue
		}
		b.trySend(sub, env)
	}
}

// trySend enqueues without blocking, evicting the oldest buffered event if
// the buffer is full. Called with mu held (read), which excludes channel
// closes; those happen under the write lock.
func (b *Bus) trySend(sub *Subscription, env Envelope) {
	select {
	case sub.ch <- env:
		return
	default:
	}

	// Buffer full: evict the oldest, then retry once. A concurrent receive
	// may have freed a slot in between; either way at most one event is
	// lost and it is always the oldest-or-current, never an arbitrary one.
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}
	select {
	case sub.ch <- env:
	default:
		sub.dropped.Add(1)
	}

	if n := sub.dropped.Load(); n == 1 || n%100 == 0 {
		slog.Warn("Event bus subscriber overflowed, dropping oldest events",
			"subscriber", sub.name, "channel", env.Channel, "total_dropped", n)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts the bus down: all subscriber channels are closed and further
// publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// unsubscribe removes a single subscription and closes its channel. The
// write lock excludes in-flight Publish calls, so closing here cannot race
// a send.
func (b *Bus) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.ch)
}
