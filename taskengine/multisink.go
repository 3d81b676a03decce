package taskengine

import (
	"context"

	"go.uber.org/multierr"
)

// MultiEventSink fans a single Publish out to every wrapped EventSink, e.g.
// a pubsub topic for subscribers and a Postgres audit table for operators.
// It is itself an EventSink, so a host wires it into NewEngine/NewEventPublisher
// exactly like any single sink.
type MultiEventSink struct {
	sinks []EventSink
}

// NewMultiEventSink wraps sinks for fan-out. A nil entry is skipped.
func NewMultiEventSink(sinks ...EventSink) *MultiEventSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiEventSink{sinks: filtered}
}

// Send implements EventSink, sending to every wrapped sink and joining any
// errors rather than stopping at the first failure: one sink being down
// must not silently suppress delivery to the others.
func (m *MultiEventSink) Send(ctx context.Context, topic string, key string, event *TaskEvent) error {
	var err error
	for _, sink := range m.sinks {
		if sendErr := sink.Send(ctx, topic, key, event); sendErr != nil {
			err = multierr.Append(err, sendErr)
		}
	}
	return err
}
