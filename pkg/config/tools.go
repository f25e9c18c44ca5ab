package config

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
)

// ToolPolicy defines the gating policy for a single tool. Tools without a
// policy run without approval.
type ToolPolicy struct {
	// RequiresApproval pauses the turn and asks a human before execution
	RequiresApproval bool `yaml:"requires_approval"`

	// AllowedDecisions restricts which decision kinds a human may take on
	// this tool's approval requests. Empty means approve/edit/reject.
	AllowedDecisions []string `yaml:"allowed_decisions,omitempty"`

	// DescribeTemplate renders a human-readable summary of a pending call.
	// Go text/template over the call arguments, e.g.
	// "Transfer {{.amount}} to {{.recipient}}". Empty falls back to a
	// generic "call <tool> with <args>" rendering.
	DescribeTemplate string `yaml:"describe,omitempty"`
}

// DecisionsOrDefault returns the allowed decisions, defaulting to all kinds.
func (p *ToolPolicy) DecisionsOrDefault() []string {
	if len(p.AllowedDecisions) > 0 {
		return p.AllowedDecisions
	}
	return []string{DecisionApprove, DecisionEdit, DecisionReject}
}

// Describe renders the human-readable summary of a pending call. Falls back
// to a generic rendering when no template is configured or rendering fails.
func (p *ToolPolicy) Describe(toolName string, args map[string]any) string {
	if p.DescribeTemplate != "" {
		tmpl, err := template.New("describe").Option("missingkey=zero").Parse(p.DescribeTemplate)
		if err == nil {
			var buf bytes.Buffer
			if execErr := tmpl.Execute(&buf, args); execErr == nil {
				return buf.String()
			}
		}
	}
	return fmt.Sprintf("Call %s with arguments %v", toolName, args)
}

// ToolPolicyRegistry stores tool gating policies in memory with thread-safe access
type ToolPolicyRegistry struct {
	policies map[string]*ToolPolicy
	mu       sync.RWMutex
}

// NewToolPolicyRegistry creates a new tool policy registry
func NewToolPolicyRegistry(policies map[string]*ToolPolicy) *ToolPolicyRegistry {
	copied := make(map[string]*ToolPolicy, len(policies))
	for k, v := range policies {
		copied[k] = v
	}
	return &ToolPolicyRegistry{
		policies: copied,
	}
}

// Get retrieves a tool policy by tool name (thread-safe)
func (r *ToolPolicyRegistry) Get(toolName string) (*ToolPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.policies[toolName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrToolPolicyNotFound, toolName)
	}
	return p, nil
}

// Policy returns the effective policy for a tool. Tools without an entry get
// an ungated policy.
func (r *ToolPolicyRegistry) Policy(toolName string) *ToolPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, exists := r.policies[toolName]; exists {
		return p
	}
	return &ToolPolicy{RequiresApproval: false}
}

// GetAll returns all tool policies (thread-safe, returns copy)
func (r *ToolPolicyRegistry) GetAll() map[string]*ToolPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ToolPolicy, len(r.policies))
	for k, v := range r.policies {
		result[k] = v
	}
	return result
}

// Has checks if a tool policy exists in the registry (thread-safe)
func (r *ToolPolicyRegistry) Has(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.policies[toolName]
	return exists
}

// Len returns the number of tool policies in the registry (thread-safe)
func (r *ToolPolicyRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.policies)
}
