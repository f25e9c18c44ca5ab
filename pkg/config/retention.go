package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// ThreadRetentionDays is how many days to keep inactive threads and
	// their completed missions before deleting them.
	ThreadRetentionDays int `yaml:"thread_retention_days"`

	// EventTTL is the maximum age of mission event rows before deletion.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ThreadRetentionDays: 365,
		EventTTL:            7 * 24 * time.Hour,
		CleanupInterval:     12 * time.Hour,
	}
}
