package config

// Defaults contains system-wide default configurations
// These values are used when specific components don't specify their own values
type Defaults struct {
	// LLM provider default for all agent types
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// Max reasoning/tool steps default (forces conclusion when reached)
	MaxSteps *int `yaml:"max_steps,omitempty" validate:"omitempty,min=1"`

	// Finding masking configuration
	FindingMasking *FindingMaskingDefaults `yaml:"finding_masking,omitempty"`
}

// FindingMaskingDefaults holds finding redaction settings.
// Applied system-wide to tool results and findings before storage.
type FindingMaskingDefaults struct {
	Enabled      bool   `yaml:"enabled"`
	PatternGroup string `yaml:"pattern_group"`
}
