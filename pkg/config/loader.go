package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// SurveyorYAMLConfig represents the complete surveyor.yaml file structure
type SurveyorYAMLConfig struct {
	System     *SystemYAMLConfig          `yaml:"system"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
	AgentTypes map[string]AgentTypeConfig `yaml:"agent_types"`
	Tools      map[string]ToolPolicy      `yaml:"tools"`
	Defaults   *Defaults                  `yaml:"defaults"`
	Missions   *MissionsConfig            `yaml:"missions"`
	HITL       *HITLConfig                `yaml:"hitl"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	DashboardURL     string             `yaml:"dashboard_url"`
	AllowedWSOrigins []string           `yaml:"allowed_ws_origins"`
	Sources          *SourcesYAMLConfig `yaml:"sources"`
	Slack            *SlackYAMLConfig   `yaml:"slack"`
	Retention        *RetentionConfig   `yaml:"retention"`
}

// SlackYAMLConfig holds Slack notification settings from YAML.
type SlackYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// SourcesYAMLConfig holds starter-source fetching settings from YAML.
type SourcesYAMLConfig struct {
	CacheTTL       string   `yaml:"cache_ttl,omitempty"` // Parsed to time.Duration
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`
	MaxDocumentKB  int      `yaml:"max_document_kb,omitempty"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Build in-memory registries
//  6. Apply default values
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	// 1. Load configuration files
	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Validate all configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agent_types", stats.AgentTypes,
		"tool_policies", stats.ToolPolicies,
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load surveyor.yaml (contains mcp_servers, agent_types, tools, defaults)
	surveyorConfig, err := loader.loadSurveyorYAML()
	if err != nil {
		return nil, NewLoadError("surveyor.yaml", err)
	}

	// 2. Load llm-providers.yaml
	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined components (user overrides built-in)
	agentTypes := mergeAgentTypes(builtin.AgentTypes, surveyorConfig.AgentTypes)
	toolPolicies := mergeToolPolicies(builtin.ToolPolicies, surveyorConfig.Tools)
	mcpServers := mergeMCPServers(builtin.MCPServers, surveyorConfig.MCPServers)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	// 5. Build registries
	agentTypeRegistry := NewAgentTypeRegistry(agentTypes)
	toolPolicyRegistry := NewToolPolicyRegistry(toolPolicies)
	mcpServerRegistry := NewMCPServerRegistry(mcpServers)
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	// 6. Resolve defaults
	defaults := surveyorConfig.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.LLMProvider == "" {
		defaults.LLMProvider = "anthropic-default"
	}
	if defaults.FindingMasking == nil {
		defaults.FindingMasking = &FindingMaskingDefaults{
			Enabled:      true,
			PatternGroup: "secrets",
		}
	}

	// Resolve missions config (merge user YAML with built-in defaults)
	// Start with defaults, then merge user config on top to preserve unset defaults
	missionsConfig := DefaultMissionsConfig()
	if surveyorConfig.Missions != nil {
		if err := mergo.Merge(missionsConfig, surveyorConfig.Missions, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge missions config: %w", err)
		}
	}

	// Resolve HITL config the same way
	hitlConfig := DefaultHITLConfig()
	if surveyorConfig.HITL != nil {
		if err := mergo.Merge(hitlConfig, surveyorConfig.HITL, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge hitl config: %w", err)
		}
	}

	// Resolve system config (Sources + Slack + Retention + DashboardURL + WS origins)
	sourcesCfg := resolveSourcesConfig(surveyorConfig.System)
	slackCfg := resolveSlackConfig(surveyorConfig.System)
	retentionCfg := resolveRetentionConfig(surveyorConfig.System)
	dashboardURL := resolveDashboardURL(surveyorConfig.System)
	allowedWSOrigins := resolveAllowedWSOrigins(surveyorConfig.System)

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		Missions:            missionsConfig,
		HITL:                hitlConfig,
		Sources:             sourcesCfg,
		Slack:               slackCfg,
		Retention:           retentionCfg,
		DashboardURL:        dashboardURL,
		AllowedWSOrigins:    allowedWSOrigins,
		AgentTypeRegistry:   agentTypeRegistry,
		ToolPolicyRegistry:  toolPolicyRegistry,
		MCPServerRegistry:   mcpServerRegistry,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadSurveyorYAML() (*SurveyorYAMLConfig, error) {
	var config SurveyorYAMLConfig

	// Initialize maps to avoid nil maps
	config.MCPServers = make(map[string]MCPServerConfig)
	config.AgentTypes = make(map[string]AgentTypeConfig)
	config.Tools = make(map[string]ToolPolicy)

	if err := l.loadYAML("surveyor.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig

	// Initialize map to avoid nil map
	config.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}

	return config.LLMProviders, nil
}

// resolveSourcesConfig resolves starter-source configuration from system YAML, applying defaults.
func resolveSourcesConfig(sys *SystemYAMLConfig) *SourcesConfig {
	cfg := &SourcesConfig{
		CacheTTL:       1 * time.Minute,
		AllowedDomains: []string{"github.com", "raw.githubusercontent.com"},
		MaxDocumentKB:  256,
	}

	if sys == nil || sys.Sources == nil {
		return cfg
	}

	src := sys.Sources
	if src.CacheTTL != "" {
		if d, err := time.ParseDuration(src.CacheTTL); err == nil {
			cfg.CacheTTL = d
		} else {
			slog.Warn("Invalid cache_ttl in sources config, using default",
				"value", src.CacheTTL,
				"default", cfg.CacheTTL,
				"error", err)
		}
	}
	if len(src.AllowedDomains) > 0 {
		cfg.AllowedDomains = src.AllowedDomains
	}
	if src.MaxDocumentKB > 0 {
		cfg.MaxDocumentKB = src.MaxDocumentKB
	}

	return cfg
}

// resolveSlackConfig resolves Slack configuration from system YAML, applying defaults.
func resolveSlackConfig(sys *SystemYAMLConfig) *SlackConfig {
	cfg := &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}

	if sys == nil || sys.Slack == nil {
		return cfg
	}

	s := sys.Slack
	if s.Enabled != nil {
		cfg.Enabled = *s.Enabled
	}
	if s.TokenEnv != "" {
		cfg.TokenEnv = s.TokenEnv
	}
	if s.Channel != "" {
		cfg.Channel = s.Channel
	}

	return cfg
}

// resolveDashboardURL resolves the dashboard base URL from system YAML, applying defaults.
func resolveDashboardURL(sys *SystemYAMLConfig) string {
	if sys != nil && sys.DashboardURL != "" {
		return sys.DashboardURL
	}
	return "http://localhost:5173"
}

// resolveRetentionConfig resolves retention configuration from system YAML, applying defaults.
func resolveRetentionConfig(sys *SystemYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if sys == nil || sys.Retention == nil {
		return cfg
	}

	r := sys.Retention
	if r.ThreadRetentionDays > 0 {
		cfg.ThreadRetentionDays = r.ThreadRetentionDays
	}
	if r.EventTTL > 0 {
		cfg.EventTTL = r.EventTTL
	}
	if r.CleanupInterval > 0 {
		cfg.CleanupInterval = r.CleanupInterval
	}

	return cfg
}

// resolveAllowedWSOrigins returns additional WebSocket origin patterns from system YAML.
func resolveAllowedWSOrigins(sys *SystemYAMLConfig) []string {
	if sys != nil {
		return sys.AllowedWSOrigins
	}
	return nil
}
