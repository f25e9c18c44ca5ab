package config

import "time"

// HITLConfig contains human-in-the-loop conversation settings.
type HITLConfig struct {
	// InterruptDeadlineSeconds is how long a paused turn waits for a human
	// decision before a synthetic rejection resumes it.
	InterruptDeadlineSeconds int `yaml:"interrupt_deadline_seconds"`

	// WriteTimeoutSeconds bounds a single WebSocket frame write.
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
}

// DefaultHITLConfig returns the built-in HITL defaults.
func DefaultHITLConfig() *HITLConfig {
	return &HITLConfig{
		InterruptDeadlineSeconds: 300,
		WriteTimeoutSeconds:      10,
	}
}

// InterruptDeadline returns the decision deadline as a duration.
func (c *HITLConfig) InterruptDeadline() time.Duration {
	return time.Duration(c.InterruptDeadlineSeconds) * time.Second
}

// WriteTimeout returns the frame write budget as a duration.
func (c *HITLConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}
