package config

import (
	"fmt"
	"sync"
)

// AgentTypeConfig defines a configured agent type. Plans reference these by
// name when declaring agent instances.
type AgentTypeConfig struct {
	// Human-readable description of what this agent type investigates
	Description string `yaml:"description,omitempty"`

	// Instructions appended to the system prompt for this agent type
	CustomInstructions string `yaml:"custom_instructions,omitempty"`

	// LLM provider override (falls back to Defaults.LLMProvider)
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// Max reasoning/tool steps per task (falls back to Defaults.MaxSteps)
	MaxSteps *int `yaml:"max_steps,omitempty"`

	// Default tool allowlist when a plan instance omits allowed_tools
	AllowedTools []string `yaml:"allowed_tools,omitempty"`

	// MCP servers this agent type may reach tools on
	MCPServers []string `yaml:"mcp_servers,omitempty"`
}

// AgentTypeRegistry stores agent type configurations in memory with thread-safe access
type AgentTypeRegistry struct {
	agentTypes map[string]*AgentTypeConfig
	mu         sync.RWMutex
}

// NewAgentTypeRegistry creates a new agent type registry
func NewAgentTypeRegistry(agentTypes map[string]*AgentTypeConfig) *AgentTypeRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*AgentTypeConfig, len(agentTypes))
	for k, v := range agentTypes {
		copied[k] = v
	}
	return &AgentTypeRegistry{
		agentTypes: copied,
	}
}

// Get retrieves an agent type configuration by name (thread-safe)
func (r *AgentTypeRegistry) Get(name string) (*AgentTypeConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	at, exists := r.agentTypes[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentTypeNotFound, name)
	}
	return at, nil
}

// GetAll returns all agent type configurations (thread-safe, returns copy)
func (r *AgentTypeRegistry) GetAll() map[string]*AgentTypeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AgentTypeConfig, len(r.agentTypes))
	for k, v := range r.agentTypes {
		result[k] = v
	}
	return result
}

// Has checks if an agent type exists in the registry (thread-safe)
func (r *AgentTypeRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agentTypes[name]
	return exists
}

// Len returns the number of agent types in the registry (thread-safe)
func (r *AgentTypeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agentTypes)
}
