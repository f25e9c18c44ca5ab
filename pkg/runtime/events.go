package runtime

// Event is the interface for all turn events. A turn's event stream carries
// zero or more Thinking/ContentDelta events and terminates with exactly one
// of InterruptEvent (the turn is suspended awaiting a decision; continue it
// with ResumeTurn), DoneEvent, or ErrorEvent. The channel is closed after
// the terminal event.
type Event interface {
	eventType() EventType
}

// EventType identifies the kind of turn event.
type EventType string

const (
	EventTypeThinking     EventType = "thinking"
	EventTypeContentDelta EventType = "content"
	EventTypeInterrupt    EventType = "interrupt"
	EventTypeDone         EventType = "done"
	EventTypeError        EventType = "error"
)

// ThinkingEvent signals the agent is reasoning.
type ThinkingEvent struct{}

// ContentDeltaEvent carries an incremental piece of assistant text.
type ContentDeltaEvent struct{ Text string }

// InterruptEvent signals the turn paused on a gated tool call.
type InterruptEvent struct{ Interrupt *Interrupt }

// DoneEvent signals the turn completed.
type DoneEvent struct{}

// ErrorEvent signals the turn failed.
type ErrorEvent struct{ Reason string }

func (e *ThinkingEvent) eventType() EventType     { return EventTypeThinking }
func (e *ContentDeltaEvent) eventType() EventType { return EventTypeContentDelta }
func (e *InterruptEvent) eventType() EventType    { return EventTypeInterrupt }
func (e *DoneEvent) eventType() EventType         { return EventTypeDone }
func (e *ErrorEvent) eventType() EventType        { return EventTypeError }
