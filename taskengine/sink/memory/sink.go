// Package memory provides in-memory EventSink and DLQSink implementations
// for tests and local development.
package memory

import (
	"context"
	"sync"

	"github.com/antinvestor/taskengine"
)

// EventSink records every published TaskEvent in memory, keyed by topic.
type EventSink struct {
	mu     sync.Mutex
	events map[string][]*taskengine.TaskEvent
}

// NewEventSink creates an empty EventSink.
func NewEventSink() *EventSink {
	return &EventSink{events: make(map[string][]*taskengine.TaskEvent)}
}

// Send implements taskengine.EventSink.
func (s *EventSink) Send(_ context.Context, topic string, _ string, event *taskengine.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[topic] = append(s.events[topic], event)
	return nil
}

// Events returns a copy of every event recorded for topic, in publish order.
func (s *EventSink) Events(topic string) []*taskengine.TaskEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*taskengine.TaskEvent, len(s.events[topic]))
	copy(out, s.events[topic])
	return out
}

// DLQSink records every task routed to the dead-letter queue in memory.
type DLQSink struct {
	mu    sync.Mutex
	tasks map[string][]*taskengine.Task
}

// NewDLQSink creates an empty DLQSink.
func NewDLQSink() *DLQSink {
	return &DLQSink{tasks: make(map[string][]*taskengine.Task)}
}

// Send implements taskengine.DLQSink.
func (s *DLQSink) Send(_ context.Context, topic string, _ string, task *taskengine.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[topic] = append(s.tasks[topic], task)
	return nil
}

// Tasks returns a copy of every task recorded for topic, in send order.
func (s *DLQSink) Tasks(topic string) []*taskengine.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*taskengine.Task, len(s.tasks[topic]))
	copy(out, s.tasks[topic])
	return out
}
