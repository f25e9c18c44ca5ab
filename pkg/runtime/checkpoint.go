package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Checkpoint is the persisted agent state for a thread. The message log keeps
// the human-visible conversation; the checkpoint keeps the full working
// transcript (tool calls, tool results) plus any pending interrupt, which is
// everything a resume needs.
type Checkpoint struct {
	Conversation []ConversationMessage `json:"conversation"`

	// InterruptState is the pending interrupt, if the last turn paused.
	// Kept raw: checkpoints written by earlier releases wrap the record in
	// several shapes, normalized on load by PendingInterruptState.
	InterruptState json.RawMessage `json:"interrupt_state,omitempty"`

	// TurnText accumulates assistant text across a suspended turn so the
	// persisted assistant message covers the whole turn, interrupt included.
	TurnText string `json:"turn_text,omitempty"`

	// TurnSteps counts reasoning steps used by the in-flight turn. A resumed
	// turn continues against the remaining step budget.
	TurnSteps int `json:"turn_steps,omitempty"`
}

// PendingInterrupt is the normalized form of a checkpoint's interrupt state.
type PendingInterrupt struct {
	Interrupt *Interrupt `json:"interrupt"`

	// Calls are the original gated tool calls. Approve re-runs them as-is;
	// edit swaps in the replacement arguments.
	Calls []ToolCall `json:"calls"`
}

// EncodeCheckpoint serializes a checkpoint for storage.
func EncodeCheckpoint(cp *Checkpoint) (json.RawMessage, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return data, nil
}

// DecodeCheckpoint deserializes a stored checkpoint.
func DecodeCheckpoint(raw json.RawMessage) (*Checkpoint, error) {
	cp := &Checkpoint{}
	if err := json.Unmarshal(raw, cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return cp, nil
}

// PendingInterruptState normalizes the checkpoint's interrupt record.
// Returns nil when no interrupt is pending.
//
// Three historical shapes are accepted, and this is the only place that
// knows about them:
//
//	[{...}]        single-element list
//	{"value":{...}} wrapper object
//	{...}          bare record
func (cp *Checkpoint) PendingInterruptState() (*PendingInterrupt, error) {
	return NormalizeInterruptState(cp.InterruptState)
}

// NormalizeInterruptState decodes an interrupt record in any accepted shape.
func NormalizeInterruptState(raw json.RawMessage) (*PendingInterrupt, error) {
	data := bytes.TrimSpace(raw)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	// Single-element list shape
	if data[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("malformed interrupt record list: %w", err)
		}
		if len(records) == 0 {
			return nil, nil
		}
		if len(records) > 1 {
			return nil, fmt.Errorf("expected at most one interrupt record, got %d", len(records))
		}
		data = bytes.TrimSpace(records[0])
	}

	// Wrapper object shape: {"value": {...}}
	var probe struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("malformed interrupt record: %w", err)
	}
	if len(probe.Value) > 0 {
		data = probe.Value
	}

	// Bare record
	pending := &PendingInterrupt{}
	if err := json.Unmarshal(data, pending); err != nil {
		return nil, fmt.Errorf("malformed interrupt record: %w", err)
	}
	if pending.Interrupt == nil {
		return nil, fmt.Errorf("interrupt record missing interrupt payload")
	}
	return pending, nil
}

// encodeInterruptState serializes a pending interrupt in the canonical bare
// shape for storage in a fresh checkpoint.
func encodeInterruptState(pending *PendingInterrupt) (json.RawMessage, error) {
	if pending == nil {
		return nil, nil
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return nil, fmt.Errorf("failed to encode interrupt state: %w", err)
	}
	return data, nil
}
