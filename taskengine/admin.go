package taskengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/pitabwire/util"
)

// ErrTaskNotDeadLettered guards Requeue/Discard against operating on a
// task that isn't actually in the DEAD_LETTER state.
var ErrTaskNotDeadLettered = errors.New("task is not in dead-letter state")

// RequeueOptions configures a dead-letter requeue.
type RequeueOptions struct {
	// ResolvedBy identifies the operator or automation performing the
	// requeue, recorded on the RECOVERED_FROM_DLQ event.
	ResolvedBy string

	// Notes are optional free-text context attached to the event.
	Notes string

	// ResetRetryCount zeroes RetryCount before resubmission, giving the
	// task a fresh full retry budget.
	ResetRetryCount bool
}

// DiscardOptions configures a dead-letter discard.
type DiscardOptions struct {
	// ResolvedBy identifies the operator discarding the entry.
	ResolvedBy string

	// Notes must explain why the task is being discarded.
	Notes string
}

// AdminRecovery is the out-of-band operator surface for dead-lettered
// tasks. It is the sole producer of RECOVERED_FROM_DLQ: the core
// execution pipeline never resurrects a task on its own, since a
// non-retryable classification is, by definition, not expected to resolve
// itself.
type AdminRecovery struct {
	store     TaskStore
	engine    *Engine
	publisher *EventPublisher
}

// NewAdminRecovery creates an AdminRecovery bound to engine's store and
// event topic.
func NewAdminRecovery(engine *Engine) *AdminRecovery {
	return &AdminRecovery{
		store:     engine.store,
		engine:    engine,
		publisher: engine.publisher,
	}
}

// Requeue moves a DEAD_LETTER task back to PENDING and resubmits it
// through the engine, emitting RECOVERED_FROM_DLQ first so the audit
// trail records the operator decision independently of whatever the
// resubmission itself produces.
func (a *AdminRecovery) Requeue(ctx context.Context, id TaskID, opts RequeueOptions) (TaskResult, error) {
	task, err := a.store.FindByID(ctx, id)
	if err != nil {
		return TaskResult{}, err
	}
	if task.Status != StatusDeadLetter {
		return TaskResult{}, ErrTaskNotDeadLettered
	}

	if opts.ResetRetryCount {
		task.RetryCount = 0
	}
	task.Status = StatusPending
	task.UpdatedAt = a.engine.clock.Now()

	if err := a.store.Save(ctx, task); err != nil {
		return TaskResult{}, NewTransientStoreError(err)
	}

	a.publisher.Publish(ctx, task, EventRecoveredFromDLQ, map[string]any{
		"taskType":          task.Type,
		"previousStatus":    string(StatusDeadLetter),
		"resolvedBy":        opts.ResolvedBy,
		"notes":             opts.Notes,
		"reset_retry_count": opts.ResetRetryCount,
		"outcome":           "requeued",
	})

	util.Log(ctx).Info("requeued dead-letter task",
		"task_id", id.String(),
		"resolved_by", opts.ResolvedBy,
	)

	handler, err := a.engine.registry.Lookup(task.Type)
	if err != nil {
		return TaskResult{}, err
	}
	if handler == nil {
		return TaskResult{}, fmt.Errorf("%w: no handler registered for task type %q", ErrNotFound, task.Type)
	}

	// Execute directly rather than Submit: the task already exists and
	// was just persisted above, so re-running Submit's create-and-publish
	// path would emit a spurious second TASK_CREATED event.
	return a.engine.Execute(ctx, task, handler)
}

// Discard permanently marks a DEAD_LETTER task as resolved without
// resubmission. The task's store row and DEAD_LETTER status are left
// exactly as they are: discarding is a bookkeeping acknowledgement, not a
// lifecycle transition. It reuses RECOVERED_FROM_DLQ (the only event type
// that records an operator decision on a dead-lettered task) with
// outcome:"discarded" in its metadata, rather than introducing a second
// event type for what is otherwise the same audit concern as Requeue.
func (a *AdminRecovery) Discard(ctx context.Context, id TaskID, opts DiscardOptions) error {
	if opts.Notes == "" {
		return invalidArgumentf("notes are required to discard a dead-letter task")
	}

	task, err := a.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != StatusDeadLetter {
		return ErrTaskNotDeadLettered
	}

	a.publisher.Publish(ctx, task, EventRecoveredFromDLQ, map[string]any{
		"taskType":       task.Type,
		"previousStatus": string(StatusDeadLetter),
		"resolvedBy":     opts.ResolvedBy,
		"notes":          opts.Notes,
		"outcome":        "discarded",
	})

	util.Log(ctx).Info("discarded dead-letter task",
		"task_id", id.String(),
		"resolved_by", opts.ResolvedBy,
		"notes", opts.Notes,
	)

	return nil
}
