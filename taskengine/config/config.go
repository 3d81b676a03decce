// Package config defines the environment-driven configuration for an
// embedding service that wires up the task engine.
package config

import (
	"time"

	"github.com/pitabwire/frame/config"
)

// EngineConfig defines configuration for a host service embedding the
// task engine. It embeds frame's ConfigurationDefault so a host gets the
// same server/logging/database bootstrap knobs as any other frame
// service, then layers on the engine-specific settings.
type EngineConfig struct {
	config.ConfigurationDefault

	// ==========================================================================
	// Retry Strategy
	// ==========================================================================

	// MaxRetries is the number of additional attempts beyond the first.
	MaxRetries int `envDefault:"3" env:"TASKENGINE_MAX_RETRIES"`

	// InitialDelaySeconds is the base of the exponential backoff.
	InitialDelaySeconds int `envDefault:"1" env:"TASKENGINE_INITIAL_DELAY_SECONDS"`

	// MaxDelaySeconds clamps any single backoff interval.
	MaxDelaySeconds int `envDefault:"60" env:"TASKENGINE_MAX_DELAY_SECONDS"`

	// AttemptTimeoutSeconds is the per-attempt soft deadline.
	AttemptTimeoutSeconds int `envDefault:"5" env:"TASKENGINE_ATTEMPT_TIMEOUT_SECONDS"`

	// JitterFraction randomises each backoff delay, in [0, 1).
	JitterFraction float64 `envDefault:"0.1" env:"TASKENGINE_JITTER_FRACTION"`

	// ==========================================================================
	// Event and DLQ topics
	// ==========================================================================

	// EventTopicURI is a gocloud.dev/pubsub URI (mem:// or nats://, the two
	// schemes the sink/pubsub package registers).
	EventTopicURI string `envDefault:"mem://task-events" env:"TASKENGINE_EVENT_TOPIC_URI"`

	// DLQTopicURI is a gocloud.dev/pubsub URI for dead-lettered tasks.
	DLQTopicURI string `envDefault:"mem://task-dlq" env:"TASKENGINE_DLQ_TOPIC_URI"`

	// ==========================================================================
	// Persistence
	// ==========================================================================

	// DatabaseURL is the Postgres DSN for the task store. Empty selects
	// the in-memory store, useful for local development and tests.
	DatabaseURL string `env:"TASKENGINE_DATABASE_URL"`

	// CompletedTaskRetentionHours names an age limit for COMPLETED tasks.
	// Nothing in this module reads it: the sweeper has no retention
	// pass and never calls TaskStore.DeleteCompletedOlderThan.
	CompletedTaskRetentionHours int `envDefault:"168" env:"TASKENGINE_COMPLETED_TASK_RETENTION_HOURS"`

	// SchemaName qualifies the tasks/task_events tables with a Postgres
	// schema (e.g. "taskengine.tasks"). Empty uses the connection's
	// default search_path.
	SchemaName string `env:"TASKENGINE_SCHEMA_NAME"`

	// TablePrefix is prepended to every table name the Postgres store
	// manages, letting multiple engines share one database.
	TablePrefix string `env:"TASKENGINE_TABLE_PREFIX"`

	// TasksTableName overrides the base name of the tasks table. Empty
	// defaults to "tasks".
	TasksTableName string `env:"TASKENGINE_TASKS_TABLE_NAME"`

	// AutoInitialize runs the Postgres store's migration on service boot.
	// Hosts that manage schema out-of-band (migration tooling, a DBA)
	// should leave this false.
	AutoInitialize bool `envDefault:"true" env:"TASKENGINE_AUTO_INITIALIZE"`

	// EnableAuditEvents creates the task_events table and routes a copy
	// of every published TaskEvent into it, alongside whatever EventSink
	// the host configures.
	EnableAuditEvents bool `envDefault:"false" env:"TASKENGINE_ENABLE_AUDIT_EVENTS"`

	// ==========================================================================
	// Stuck-task sweeper
	// ==========================================================================

	// SweepIntervalSeconds is how often the sweeper scans for stuck and
	// retry-eligible tasks.
	SweepIntervalSeconds int `envDefault:"30" env:"TASKENGINE_SWEEP_INTERVAL_SECONDS"`

	// StuckThresholdMinutes is how long a task may sit IN_PROGRESS before
	// the sweeper considers it abandoned by a dead worker.
	StuckThresholdMinutes int `envDefault:"15" env:"TASKENGINE_STUCK_THRESHOLD_MINUTES"`

	// RedisURL is used for the sweeper's distributed lock, preventing two
	// engine instances from resubmitting the same stuck task. Empty
	// disables distributed locking (safe for single-instance hosts).
	RedisURL string `env:"TASKENGINE_REDIS_URL"`

	// ==========================================================================
	// Rate limiting and resilience
	// ==========================================================================

	// ExecutionsPerSecond bounds the default per-task-type execution
	// rate. Zero disables the limiter.
	ExecutionsPerSecond float64 `envDefault:"0" env:"TASKENGINE_EXECUTIONS_PER_SECOND"`

	// ExecutionBurst is the token-bucket burst size paired with
	// ExecutionsPerSecond.
	ExecutionBurst int `envDefault:"10" env:"TASKENGINE_EXECUTION_BURST"`

	// CircuitBreakerEnabled names the per-task-type circuit breaker switch.
	// Nothing in this module reads it: an Engine's internal RetryExecutor
	// runs without breakers, and breakers exist only on a RetryExecutor
	// given one through EnableCircuitBreaker.
	CircuitBreakerEnabled bool `envDefault:"false" env:"TASKENGINE_CIRCUIT_BREAKER_ENABLED"`

	// CircuitBreakerMaxFailures is the consecutive-failure threshold for a
	// breaker. Like CircuitBreakerEnabled, nothing in this module reads it.
	CircuitBreakerMaxFailures uint32 `envDefault:"5" env:"TASKENGINE_CIRCUIT_BREAKER_MAX_FAILURES"`
}

// RetryPolicyDurations converts the duration-as-seconds config fields into the
// time.Duration fields RetryExecutor expects.
func (c *EngineConfig) RetryPolicyDurations() (initial, maxDelay, attemptTimeout time.Duration) {
	return time.Duration(c.InitialDelaySeconds) * time.Second,
		time.Duration(c.MaxDelaySeconds) * time.Second,
		time.Duration(c.AttemptTimeoutSeconds) * time.Second
}
