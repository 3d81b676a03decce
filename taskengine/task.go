package taskengine

import "time"

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

// Task status constants. The Engine moves a task along:
// PENDING -> IN_PROGRESS -> {COMPLETED, FAILED, DEAD_LETTER}.
// DEAD_LETTER re-enters PENDING only through AdminRecovery.Requeue. The
// sweeper package resets FAILED tasks still under their retry budget, and
// IN_PROGRESS tasks past the stuck threshold, to PENDING and resubmits them.
const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
	StatusDeadLetter TaskStatus = "DEAD_LETTER"
)

// IsTerminal reports whether status ends normal execution.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// Task is the unit of work the engine executes.
type Task struct {
	// TaskID uniquely identifies the task.
	TaskID TaskID `json:"task_id"`

	// Type selects the handler that processes this task.
	Type string `json:"type"`

	// Data is the opaque, handler-specific payload.
	Data map[string]any `json:"data"`

	// Status is the current lifecycle status.
	Status TaskStatus `json:"status"`

	// RetryCount is the number of attempts beyond the first, accumulated
	// across every Execute of the task. Execution never lowers it; only
	// AdminRecovery.Requeue with ResetRetryCount sets it back to zero.
	RetryCount int `json:"retry_count"`

	// CreatedAt is when the task was first submitted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is refreshed on every mutation; always >= CreatedAt.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep-enough copy of the task (the Data map is copied
// shallowly, matching the opacity the engine treats it with).
func (t *Task) Clone() *Task {
	clone := *t
	if t.Data != nil {
		clone.Data = make(map[string]any, len(t.Data))
		for k, v := range t.Data {
			clone.Data[k] = v
		}
	}
	return &clone
}

// TaskResult is the tagged outcome of a single handler invocation.
// Exactly one of Success or Failure is populated; use IsSuccess to
// discriminate, matching the distilled spec's sealed-union design note.
type TaskResult struct {
	TaskID TaskID

	// success fields
	success bool
	result  map[string]any

	// failure fields
	err       error
	retryable bool
}

// NewSuccess constructs a successful TaskResult.
func NewSuccess(taskID TaskID, result map[string]any) TaskResult {
	return TaskResult{TaskID: taskID, success: true, result: result}
}

// NewFailure constructs a failed TaskResult.
func NewFailure(taskID TaskID, err error, retryable bool) TaskResult {
	return TaskResult{TaskID: taskID, success: false, err: err, retryable: retryable}
}

// IsSuccess reports whether the result is the Success arm.
func (r TaskResult) IsSuccess() bool {
	return r.success
}

// Result returns the success payload. Only meaningful when IsSuccess is true.
func (r TaskResult) Result() map[string]any {
	return r.result
}

// Err returns the failure error. Only meaningful when IsSuccess is false.
func (r TaskResult) Err() error {
	return r.err
}

// Retryable reports whether a failed result is retryable. Only meaningful
// when IsSuccess is false.
func (r TaskResult) Retryable() bool {
	return r.retryable
}
