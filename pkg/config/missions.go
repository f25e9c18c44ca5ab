package config

import "time"

// MissionsConfig contains mission scheduling and worker pool configuration.
// These values control how compiled task graphs are admitted and executed.
type MissionsConfig struct {
	// WorkerPoolSize is the number of task worker goroutines per mission.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// MaxConcurrentMissions is the maximum number of missions executing
	// at once. Additional missions wait in admission order.
	MaxConcurrentMissions int `yaml:"max_concurrent_missions"`

	// DefaultTaskTimeoutSeconds bounds a single task execution when the
	// plan does not specify its own timeout.
	DefaultTaskTimeoutSeconds int `yaml:"default_task_timeout_seconds"`

	// FailFastDefault controls whether a task failure cancels the rest of
	// the mission (true) or only the failed task's descendants (false).
	// Plans may override per mission. Pointer so an explicit false in YAML
	// survives the defaults merge.
	FailFastDefault *bool `yaml:"fail_fast_default"`

	// EventSubscriberBuffer is the per-subscriber buffered channel size for
	// mission event fan-out. Oldest events are dropped on overflow.
	EventSubscriberBuffer int `yaml:"event_subscriber_buffer"`

	// TaskMaxAttempts is the maximum number of attempts for an agent
	// instance task. Reduce tasks are never retried.
	TaskMaxAttempts int `yaml:"task_max_attempts"`

	// GracefulShutdownSeconds is the max time to wait for running tasks
	// to complete during shutdown.
	GracefulShutdownSeconds int `yaml:"graceful_shutdown_seconds"`
}

// DefaultMissionsConfig returns the built-in mission defaults.
func DefaultMissionsConfig() *MissionsConfig {
	return &MissionsConfig{
		WorkerPoolSize:            4,
		MaxConcurrentMissions:     8,
		DefaultTaskTimeoutSeconds: 600,
		FailFastDefault:           BoolPtr(true),
		EventSubscriberBuffer:     256,
		TaskMaxAttempts:           3,
		GracefulShutdownSeconds:   120,
	}
}

// DefaultTaskTimeout returns the default task timeout as a duration.
func (c *MissionsConfig) DefaultTaskTimeout() time.Duration {
	return time.Duration(c.DefaultTaskTimeoutSeconds) * time.Second
}

// FailFast resolves the fail-fast default, treating nil as true.
func (c *MissionsConfig) FailFast() bool {
	return c.FailFastDefault == nil || *c.FailFastDefault
}

// GracefulShutdownTimeout returns the shutdown drain budget as a duration.
func (c *MissionsConfig) GracefulShutdownTimeout() time.Duration {
	return time.Duration(c.GracefulShutdownSeconds) * time.Second
}

// BoolPtr returns a pointer to b. Convenience for *bool struct fields.
func BoolPtr(b bool) *bool { return &b }
