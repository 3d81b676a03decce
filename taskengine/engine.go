package taskengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/pitabwire/util"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

// EngineConfig configures an Engine. Empty topics fall back to
// DefaultEventTopic and DefaultDLQTopic. RetryPolicy is used exactly as
// given: a zero RetryPolicy means a single attempt with no backoff and no
// attempt timeout (see DefaultRetryPolicy for the documented defaults).
type EngineConfig struct {
	RetryPolicy RetryPolicy
	EventTopic  string
	DLQTopic    string
}

// Engine drives a task through its full lifecycle: PENDING, through
// IN_PROGRESS, to one of COMPLETED, FAILED or DEAD_LETTER. It owns the
// Retry Strategy, Event Publisher and Dead-Letter Processor and
// orchestrates them against a TaskStore, emitting the lifecycle events
// described in spec for every transition.
type Engine struct {
	registry   *HandlerRegistry
	store      TaskStore
	publisher  *EventPublisher
	retry      *RetryExecutor
	deadLetter *DeadLetterProcessor
	clock      Clock
	metrics    *Metrics

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewEngine wires an Engine from its ports. registry, store and eventSink
// are required; dlqSink may be nil if the host never expects a
// non-retryable failure (the dead-letter transition still occurs, it is
// simply never forwarded anywhere beyond the store). A nil clock defaults
// to SystemClock, and a nil metrics disables instrumentation.
func NewEngine(cfg EngineConfig, registry *HandlerRegistry, store TaskStore, eventSink EventSink, dlqSink DLQSink, clock Clock, metrics *Metrics) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	publisher := NewEventPublisher(eventSink, cfg.EventTopic, clock)
	return &Engine{
		registry:   registry,
		store:      store,
		publisher:  publisher,
		retry:      NewRetryExecutor(cfg.RetryPolicy, clock),
		deadLetter: NewDeadLetterProcessor(store, dlqSink, publisher, cfg.DLQTopic, clock, metrics),
		clock:      clock,
		metrics:    metrics,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// SetRateLimit installs a token-bucket limiter bounding how often Execute
// may invoke handlers of the given task type. A zero or negative
// ratePerSecond removes any existing limit for that type.
func (e *Engine) SetRateLimit(taskType string, ratePerSecond float64, burst int) {
	e.limiterMu.Lock()
	defer e.limiterMu.Unlock()

	if ratePerSecond <= 0 {
		delete(e.limiters, taskType)
		return
	}
	e.limiters[taskType] = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
}

func (e *Engine) limiterFor(taskType string) *rate.Limiter {
	e.limiterMu.Lock()
	defer e.limiterMu.Unlock()
	return e.limiters[taskType]
}

// Submit looks up the handler registered for task.Type, persists the task
// (an empty Status is set to PENDING; a non-empty Status is kept as given),
// and runs it to completion via Execute. Submit returns
// ErrNotFound wrapped with the task type if no handler is registered.
func (e *Engine) Submit(ctx context.Context, task *Task) (TaskResult, error) {
	if task == nil {
		return TaskResult{}, invalidArgumentf("task must not be nil")
	}

	handler, err := e.registry.Lookup(task.Type)
	if err != nil {
		return TaskResult{}, err
	}
	if handler == nil {
		return TaskResult{}, fmt.Errorf("%w: no handler registered for task type %q", ErrNotFound, task.Type)
	}

	now := e.clock.Now()
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	if err := e.store.Save(ctx, task); err != nil {
		return TaskResult{}, NewTransientStoreError(err)
	}
	e.publisher.Publish(ctx, task, EventTaskCreated, nil)

	return e.Execute(ctx, task, handler)
}

// Execute runs task against handler through the Retry Strategy and settles
// the task to its terminal status, persisting and emitting events at each
// transition. Before the handler runs, Execute returns an error with a zero
// TaskResult for a nil task or handler, an interrupted rate-limit wait, or
// a failure to persist IN_PROGRESS. Once the handler has run, the returned
// error reports only persistence-layer failures encountered while
// settling, and the TaskResult reflects the actual execution outcome
// regardless of whether settlement fully persisted.
func (e *Engine) Execute(ctx context.Context, task *Task, handler Handler) (TaskResult, error) {
	if task == nil {
		return TaskResult{}, invalidArgumentf("task must not be nil")
	}
	if handler == nil {
		return TaskResult{}, invalidArgumentf("handler must not be nil")
	}

	log := util.Log(ctx).WithField("task_id", task.TaskID.String()).WithField("task_type", task.Type)

	if limiter := e.limiterFor(task.Type); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return TaskResult{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	started := e.clock.Now()
	task.Status = StatusInProgress
	task.UpdatedAt = started
	if err := e.store.UpdateStatus(ctx, task.TaskID, StatusInProgress); err != nil {
		return TaskResult{}, NewTransientStoreError(err)
	}
	e.publisher.Publish(ctx, task, EventTaskStarted, nil)

	result, attempts, err := e.retry.Run(ctx, task, handler)
	if err != nil {
		return TaskResult{}, err
	}

	elapsed := durationSince(e.clock, started).Seconds()
	task.RetryCount += attempts - 1
	task.UpdatedAt = e.clock.Now()

	var settleErr error

	if result.IsSuccess() {
		task.Status = StatusCompleted
		if err := e.store.Save(ctx, task); err != nil {
			settleErr = multierr.Append(settleErr, NewTransientStoreError(err))
		}
		e.publisher.Publish(ctx, task, EventTaskCompleted, map[string]any{
			"taskType":   task.Type,
			"retryCount": task.RetryCount,
			"result":     result.Result(),
		})
		e.metrics.observeExecution(task.Type, StatusCompleted, attempts, elapsed)
		log.Info("task completed", "attempts", attempts)
		return result, settleErr
	}

	// A non-retryable failure goes straight from IN_PROGRESS to DEAD_LETTER
	// (persisted by the Dead-Letter Processor below); only a retryable
	// failure is persisted as FAILED.
	if result.Retryable() {
		task.Status = StatusFailed
		if err := e.store.Save(ctx, task); err != nil {
			settleErr = multierr.Append(settleErr, NewTransientStoreError(err))
		}
	}
	e.publisher.Publish(ctx, task, EventTaskFailed, map[string]any{
		"taskType":   task.Type,
		"retryCount": task.RetryCount,
		"attempts":   attempts,
		"error":      result.Err().Error(),
		"retryable":  result.Retryable(),
	})
	e.metrics.observeExecution(task.Type, StatusFailed, attempts, elapsed)
	log.Warn("task failed", "attempts", attempts, "error", result.Err())

	if !result.Retryable() {
		if err := e.deadLetter.Process(ctx, task, result.Err()); err != nil {
			settleErr = multierr.Append(settleErr, err)
		}
	}

	return result, settleErr
}
