package taskengine

import (
	"context"
	"time"

	"github.com/pitabwire/util"
)

// DefaultEventTopic is used when a host does not configure a topic name.
const DefaultEventTopic = "task-events"

// EventPublisher emits TaskEvents to an EventSink on a fire-and-forget,
// at-least-once basis: a publish failure is logged but never aborts the
// caller's lifecycle transition, since losing an audit event is always
// preferable to losing task progress.
type EventPublisher struct {
	sink  EventSink
	topic string
	clock Clock
}

// NewEventPublisher creates an EventPublisher. An empty topic defaults to
// DefaultEventTopic; a nil clock defaults to SystemClock.
func NewEventPublisher(sink EventSink, topic string, clock Clock) *EventPublisher {
	if topic == "" {
		topic = DefaultEventTopic
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &EventPublisher{sink: sink, topic: topic, clock: clock}
}

// Publish builds and sends a TaskEvent for task, partitioned by task ID so
// a single subscriber observes per-task ordering. Errors are logged, not
// returned: see the type doc comment for why.
func (p *EventPublisher) Publish(ctx context.Context, task *Task, eventType EventType, metadata map[string]any) {
	if p == nil || p.sink == nil || task == nil {
		return
	}

	event := newTaskEvent(task, eventType, metadata, p.clock.Now())
	p.send(ctx, event)
}

func (p *EventPublisher) send(ctx context.Context, event *TaskEvent) {
	log := util.Log(ctx).WithField("event_type", string(event.EventType)).WithField("task_id", event.TaskID.String())

	if err := p.sink.Send(ctx, p.topic, event.TaskID.String(), event); err != nil {
		log.WithError(err).Error("failed to publish task event")
		return
	}
	log.Debug("published task event")
}

// durationSince is a small helper kept here because every call site that
// measures handler latency for metrics also needs an event timestamp from
// the same Clock.
func durationSince(clock Clock, start time.Time) time.Duration {
	return clock.Now().Sub(start)
}
