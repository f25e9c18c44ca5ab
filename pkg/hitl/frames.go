package hitl

import (
	"encoding/json"

	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// Client → server frame types.
const (
	ClientFrameSendMessage = "send_message"
	ClientFrameDecision    = "decision"
)

// Server → client frame types.
const (
	FrameThinking           = "thinking"
	FrameContent            = "content"
	FrameInterrupt          = "interrupt"
	FrameWaitingForDecision = "waiting_for_decision"
	FrameResuming           = "resuming"
	FrameDone               = "done"
	FrameError              = "error"
	FrameMissionEvent       = "mission_event"
)

// ClientFrame is one JSON frame read from the client socket. Content is set
// for send_message frames, Decisions for decision frames.
type ClientFrame struct {
	Type      string             `json:"type"`
	Content   string             `json:"content,omitempty"`
	Decisions []runtime.Decision `json:"decisions,omitempty"`
}

// ServerFrame is one JSON frame written to the client socket. Exactly the
// fields relevant to the frame type are populated; everything else is
// omitted from the encoding.
type ServerFrame struct {
	Type          string             `json:"type"`
	Content       string             `json:"content,omitempty"`
	InterruptData *runtime.Interrupt `json:"interrupt_data,omitempty"`
	Message       string             `json:"message,omitempty"`
	Error         string             `json:"error,omitempty"`

	// Event carries a mission progress payload verbatim, as published on
	// the event bus.
	Event json.RawMessage `json:"event,omitempty"`
}
