package config

// Config is the umbrella configuration object that encapsulates
// all registries, defaults, and configuration state.
// This is the primary object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// System-wide defaults
	Defaults *Defaults

	// Mission scheduling and worker pool configuration
	Missions *MissionsConfig

	// Human-in-the-loop conversation configuration
	HITL *HITLConfig

	// Starter-source fetching configuration
	Sources *SourcesConfig

	// Slack notification configuration
	Slack *SlackConfig

	// Data retention configuration
	Retention *RetentionConfig

	// Dashboard base URL (CORS, links in notifications)
	DashboardURL string

	// Additional allowed WebSocket origins
	AllowedWSOrigins []string

	// Component registries
	AgentTypeRegistry   *AgentTypeRegistry
	ToolPolicyRegistry  *ToolPolicyRegistry
	MCPServerRegistry   *MCPServerRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration
type Stats struct {
	AgentTypes   int
	ToolPolicies int
	MCPServers   int
	LLMProviders int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.AgentTypeRegistry != nil {
		s.AgentTypes = c.AgentTypeRegistry.Len()
	}
	if c.ToolPolicyRegistry != nil {
		s.ToolPolicies = c.ToolPolicyRegistry.Len()
	}
	if c.MCPServerRegistry != nil {
		s.MCPServers = c.MCPServerRegistry.Len()
	}
	if c.LLMProviderRegistry != nil {
		s.LLMProviders = c.LLMProviderRegistry.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetAgentType retrieves an agent type configuration by name.
// This is a convenience method that wraps AgentTypeRegistry.Get().
func (c *Config) GetAgentType(name string) (*AgentTypeConfig, error) {
	return c.AgentTypeRegistry.Get(name)
}

// GetToolPolicy retrieves a tool gating policy by tool name.
// This is a convenience method that wraps ToolPolicyRegistry.Get().
func (c *Config) GetToolPolicy(toolName string) (*ToolPolicy, error) {
	return c.ToolPolicyRegistry.Get(toolName)
}

// GetMCPServer retrieves an MCP server configuration by ID.
// This is a convenience method that wraps MCPServerRegistry.Get().
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// AllMCPServerIDs returns a sorted list of all configured MCP server IDs.
func (c *Config) AllMCPServerIDs() []string {
	return c.MCPServerRegistry.ServerIDs()
}
