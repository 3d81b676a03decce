package taskengine

import (
	"context"
	"errors"

	"github.com/pitabwire/util"
)

// DefaultDLQTopic is used when a host does not configure a DLQ topic name.
const DefaultDLQTopic = "task-dlq"

// DeadLetterProcessor moves a task that has exhausted retries with a
// non-retryable classification into its terminal DEAD_LETTER state:
// persist the transition, enrich and emit a MOVED_TO_DLQ event, then hand
// the task to the DLQSink for out-of-band operator handling. Each step is
// best-effort past the status transition: a sink failure is logged, never
// propagated back into the task's settled result.
type DeadLetterProcessor struct {
	store     TaskStore
	sink      DLQSink
	publisher *EventPublisher
	topic     string
	clock     Clock
	metrics   *Metrics
}

// NewDeadLetterProcessor creates a DeadLetterProcessor. An empty topic
// defaults to DefaultDLQTopic.
func NewDeadLetterProcessor(store TaskStore, sink DLQSink, publisher *EventPublisher, topic string, clock Clock, metrics *Metrics) *DeadLetterProcessor {
	if topic == "" {
		topic = DefaultDLQTopic
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &DeadLetterProcessor{
		store:     store,
		sink:      sink,
		publisher: publisher,
		topic:     topic,
		clock:     clock,
		metrics:   metrics,
	}
}

// Process transitions task to DEAD_LETTER and routes it to the DLQ sink.
// lastErr is the terminal HandlerError (or whatever classification caused
// the non-retryable outcome); its type, message and any stack trace are
// folded into the MOVED_TO_DLQ event metadata so operators can triage
// without re-reading application logs.
func (p *DeadLetterProcessor) Process(ctx context.Context, task *Task, lastErr error) error {
	if task == nil {
		return invalidArgumentf("task must not be nil")
	}
	log := util.Log(ctx).WithField("task_id", task.TaskID.String()).WithField("task_type", task.Type)

	task.Status = StatusDeadLetter
	task.UpdatedAt = p.clock.Now()

	if err := p.store.Save(ctx, task); err != nil {
		log.WithError(err).Error("failed to persist dead-letter transition")
		return NewTransientStoreError(err)
	}

	metadata := map[string]any{
		"retry_count": task.RetryCount,
	}
	if lastErr != nil {
		metadata["error_message"] = lastErr.Error()
		metadata["error_type"] = errorTypeName(lastErr)
		var handlerErr *HandlerError
		if errors.As(lastErr, &handlerErr) && handlerErr.Stack != "" {
			metadata["stack_trace"] = handlerErr.Stack
		}
	}

	if p.publisher != nil {
		p.publisher.Publish(ctx, task, EventMovedToDLQ, metadata)
	}

	if p.sink != nil {
		if err := p.sink.Send(ctx, p.topic, task.TaskID.String(), task); err != nil {
			// Swallowed: the dead-letter status transition has already
			// committed, and the caller's execution outcome must not
			// depend on whether the out-of-band sink is reachable.
			log.WithError(err).Error("failed to send task to dead-letter sink")
		}
	}

	if p.metrics != nil {
		p.metrics.observeDLQ(task.Type)
	}

	log.Info("task moved to dead letter")
	return nil
}

// errorTypeName reports a stable, human-readable classification for the
// error that sent a task to the dead-letter queue.
func errorTypeName(err error) string {
	var handlerErr *HandlerError
	var retryableErr *RetryableError
	var storeErr *TransientStoreError
	switch {
	case errors.As(err, &handlerErr):
		return "HandlerError"
	case errors.As(err, &retryableErr):
		return "RetryableError"
	case errors.As(err, &storeErr):
		return "TransientStoreError"
	default:
		return "error"
	}
}
