package taskengine

import (
	"context"
	"time"
)

// Page describes pagination cursor/limit for list operations.
type Page struct {
	Limit  int
	Offset int
}

// TaskStore is the persistence port the engine and its supporting
// components (Sweeper, AdminRecovery) depend on. A host service owns its
// own task table and provides one implementation per service; the engine
// never assumes a shared or global store.
type TaskStore interface {
	// Save inserts or updates a task. Re-saving the same TaskID is
	// idempotent with respect to the stored record.
	Save(ctx context.Context, task *Task) error

	// FindByID returns the task with the given id, or ErrNotFound.
	FindByID(ctx context.Context, id TaskID) (*Task, error)

	// FindByStatus returns tasks with the given status.
	FindByStatus(ctx context.Context, status TaskStatus, page Page) ([]*Task, error)

	// FindByType returns tasks with the given type.
	FindByType(ctx context.Context, taskType string, page Page) ([]*Task, error)

	// FindByTypeAndStatus returns tasks matching both type and status.
	FindByTypeAndStatus(ctx context.Context, taskType string, status TaskStatus, page Page) ([]*Task, error)

	// FindFailedForRetry returns FAILED tasks with RetryCount below
	// maxRetries, candidates for a host-driven re-submission sweep.
	FindFailedForRetry(ctx context.Context, maxRetries int, page Page) ([]*Task, error)

	// FindStuck returns IN_PROGRESS tasks whose UpdatedAt is older than
	// threshold, suggesting the executing process died mid-flight.
	FindStuck(ctx context.Context, threshold time.Duration, page Page) ([]*Task, error)

	// UpdateStatus transitions a task's status, refreshing UpdatedAt.
	UpdateStatus(ctx context.Context, id TaskID, status TaskStatus) error

	// IncrementRetry increments a task's retry count, refreshing UpdatedAt.
	IncrementRetry(ctx context.Context, id TaskID) error

	// DeleteCompletedOlderThan deletes COMPLETED tasks older than
	// threshold and returns the number removed.
	DeleteCompletedOlderThan(ctx context.Context, threshold time.Duration) (int, error)
}

// EventSink accepts lifecycle events for at-least-once delivery to a
// topic, keyed so a subscriber sees per-task ordering.
type EventSink interface {
	Send(ctx context.Context, topic string, key string, event *TaskEvent) error
}

// DLQSink accepts tasks whose final disposition is non-retryable
// failure.
type DLQSink interface {
	Send(ctx context.Context, topic string, key string, task *Task) error
}
