package config

import (
	"fmt"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: MCP servers → LLM providers → agent types → tools → missions
	// This ensures dependencies are validated before dependents

	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateAgentTypes(); err != nil {
		return fmt.Errorf("agent type validation failed: %w", err)
	}

	if err := v.validateToolPolicies(); err != nil {
		return fmt.Errorf("tool policy validation failed: %w", err)
	}

	if err := v.validateMissions(); err != nil {
		return fmt.Errorf("missions validation failed: %w", err)
	}

	if err := v.validateHITL(); err != nil {
		return fmt.Errorf("hitl validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateAgentTypes() error {
	for name, at := range v.cfg.AgentTypeRegistry.GetAll() {
		// Validate referenced MCP servers exist
		for _, serverID := range at.MCPServers {
			if !v.cfg.MCPServerRegistry.Has(serverID) {
				return NewValidationError("agent_type", name, "mcp_servers", fmt.Errorf("MCP server '%s' not found", serverID))
			}
		}

		// Validate LLM provider if specified
		if at.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(at.LLMProvider) {
			return NewValidationError("agent_type", name, "llm_provider", fmt.Errorf("LLM provider '%s' not found", at.LLMProvider))
		}

		// Validate max steps if specified
		if at.MaxSteps != nil && *at.MaxSteps < 1 {
			return NewValidationError("agent_type", name, "max_steps", fmt.Errorf("must be at least 1"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateToolPolicies() error {
	for name, policy := range v.cfg.ToolPolicyRegistry.GetAll() {
		for _, d := range policy.AllowedDecisions {
			if !IsValidDecision(d) {
				return NewValidationError("tool", name, "allowed_decisions", fmt.Errorf("unknown decision kind: %s", d))
			}
		}
		// A gated tool whose allowed decisions exclude everything is unusable
		if policy.RequiresApproval && len(policy.DecisionsOrDefault()) == 0 {
			return NewValidationError("tool", name, "allowed_decisions", fmt.Errorf("gated tool must allow at least one decision"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateMCPServers() error {
	for serverID, server := range v.cfg.MCPServerRegistry.GetAll() {
		if !server.Transport.Type.IsValid() {
			return NewValidationError("mcp_server", serverID, "transport.type", fmt.Errorf("invalid transport type: %s", server.Transport.Type))
		}

		switch server.Transport.Type {
		case TransportTypeStdio:
			if server.Transport.Command == "" {
				return NewValidationError("mcp_server", serverID, "transport.command", fmt.Errorf("required for stdio transport"))
			}
		case TransportTypeHTTP, TransportTypeSSE:
			if server.Transport.URL == "" {
				return NewValidationError("mcp_server", serverID, "transport.url", fmt.Errorf("required for %s transport", server.Transport.Type))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", ErrMissingRequiredField)
		}
	}

	// The system default provider must resolve
	if v.cfg.Defaults != nil && v.cfg.Defaults.LLMProvider != "" {
		if !v.cfg.LLMProviderRegistry.Has(v.cfg.Defaults.LLMProvider) {
			return NewValidationError("defaults", "llm_provider", "", fmt.Errorf("%w: %s", ErrInvalidReference, v.cfg.Defaults.LLMProvider))
		}
	}

	return nil
}

func (v *ConfigValidator) validateMissions() error {
	m := v.cfg.Missions
	if m == nil {
		return nil
	}
	if m.WorkerPoolSize < 1 {
		return NewValidationError("missions", "worker_pool_size", "", fmt.Errorf("must be at least 1"))
	}
	if m.MaxConcurrentMissions < 1 {
		return NewValidationError("missions", "max_concurrent_missions", "", fmt.Errorf("must be at least 1"))
	}
	if m.DefaultTaskTimeoutSeconds < 1 {
		return NewValidationError("missions", "default_task_timeout_seconds", "", fmt.Errorf("must be at least 1"))
	}
	if m.EventSubscriberBuffer < 1 {
		return NewValidationError("missions", "event_subscriber_buffer", "", fmt.Errorf("must be at least 1"))
	}
	if m.TaskMaxAttempts < 1 {
		return NewValidationError("missions", "task_max_attempts", "", fmt.Errorf("must be at least 1"))
	}

	return nil
}

func (v *ConfigValidator) validateHITL() error {
	h := v.cfg.HITL
	if h == nil {
		return nil
	}
	if h.InterruptDeadlineSeconds < 1 {
		return NewValidationError("hitl", "interrupt_deadline_seconds", "", fmt.Errorf("must be at least 1"))
	}
	if h.WriteTimeoutSeconds < 1 {
		return NewValidationError("hitl", "write_timeout_seconds", "", fmt.Errorf("must be at least 1"))
	}

	return nil
}
