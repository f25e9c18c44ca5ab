// Package runtime adapts the streaming agent loop to the rest of the system.
// It owns the event vocabulary for a turn, the LLM client contract, interrupt
// normalization, and the non-interactive task runner used by missions.
package runtime

import (
	"fmt"
	"slices"
)

// DecisionKind identifies how a human resolved a gated action.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionEdit    DecisionKind = "edit"
	DecisionReject  DecisionKind = "reject"
)

// IsValid checks if the decision kind is known.
func (k DecisionKind) IsValid() bool {
	return k == DecisionApprove || k == DecisionEdit || k == DecisionReject
}

// ActionRequest describes one gated tool call awaiting a decision.
type ActionRequest struct {
	Name        string         `json:"name"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description,omitempty"`
}

// Interrupt is a pause raised by the agent loop when a gated tool call needs
// a human decision before execution.
type Interrupt struct {
	ID               string          `json:"id"`
	ActionRequests   []ActionRequest `json:"action_requests"`
	AllowedDecisions []DecisionKind  `json:"allowed_decisions"`
}

// Allows reports whether the interrupt accepts the given decision kind.
func (i *Interrupt) Allows(kind DecisionKind) bool {
	return slices.Contains(i.AllowedDecisions, kind)
}

// Decision is a human's resolution of a pending interrupt.
type Decision struct {
	Kind DecisionKind `json:"type"`

	// EditedAction replaces the original call for edit decisions
	EditedAction *ActionRequest `json:"edited_action,omitempty"`

	// Message carries the rejection reason for reject decisions
	Message string `json:"message,omitempty"`
}

// Validate checks structural validity independent of any interrupt.
func (d *Decision) Validate() error {
	if !d.Kind.IsValid() {
		return fmt.Errorf("unknown decision type: %q", d.Kind)
	}
	if d.Kind == DecisionEdit {
		if d.EditedAction == nil {
			return fmt.Errorf("edit decision requires edited_action")
		}
		if d.EditedAction.Name == "" {
			return fmt.Errorf("edited_action requires a tool name")
		}
	}
	return nil
}
