// Package pubsub adapts gocloud.dev/pubsub topics into the taskengine
// EventSink and DLQSink ports, so a host can back lifecycle events and
// dead-letter routing with whatever broker it already runs: in-process
// (mem://) or NATS (nats://), selected purely by the topic URI.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/antinvestor/taskengine"
	gcpubsub "gocloud.dev/pubsub"

	// Side-effect imports register the mem:// and nats:// URL schemes
	// with gocloud.dev/pubsub's OpenTopic.
	_ "gocloud.dev/pubsub/mempubsub"
	_ "gocloud.dev/pubsub/natspubsub"
)

// metadataEventType / metadataTaskType are the pubsub.Message.Metadata
// keys set on published messages, letting a subscriber filter without
// unmarshalling the body first. EventSink sets both; DLQSink sets only
// metadataTaskType.
const (
	metadataEventType = "event_type"
	metadataTaskType  = "task_type"
)

// EventSink publishes TaskEvents as JSON-bodied pubsub messages, one
// gocloud.dev/pubsub.Topic per distinct topic name passed to Send.
type EventSink struct {
	topics *topicCache
}

// NewEventSink creates an EventSink that opens topics lazily via
// gocloud.dev/pubsub.OpenTopic, reusing them across calls with the same
// topic name. dsnFor maps a logical topic name (as passed to Send) to the
// gocloud URI to open, e.g. func(topic string) string { return "mem://" + topic }.
func NewEventSink(dsnFor func(topic string) string) *EventSink {
	return &EventSink{topics: newTopicCache(dsnFor)}
}

// Send implements taskengine.EventSink.
func (s *EventSink) Send(ctx context.Context, topic string, key string, event *taskengine.TaskEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal task event: %w", err)
	}

	t, err := s.topics.get(ctx, topic)
	if err != nil {
		return err
	}

	return t.Send(ctx, &gcpubsub.Message{
		Body: body,
		Metadata: map[string]string{
			metadataEventType: string(event.EventType),
			metadataTaskType:  event.TaskType,
			"partition_key":   key,
		},
	})
}

// Close shuts down every topic opened by this sink.
func (s *EventSink) Close(ctx context.Context) error {
	return s.topics.closeAll(ctx)
}

// DLQSink publishes dead-lettered Tasks as JSON-bodied pubsub messages.
type DLQSink struct {
	topics *topicCache
}

// NewDLQSink creates a DLQSink; see NewEventSink for dsnFor semantics.
func NewDLQSink(dsnFor func(topic string) string) *DLQSink {
	return &DLQSink{topics: newTopicCache(dsnFor)}
}

// Send implements taskengine.DLQSink.
func (s *DLQSink) Send(ctx context.Context, topic string, key string, task *taskengine.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal dead-letter task: %w", err)
	}

	t, err := s.topics.get(ctx, topic)
	if err != nil {
		return err
	}

	return t.Send(ctx, &gcpubsub.Message{
		Body: body,
		Metadata: map[string]string{
			metadataTaskType: task.Type,
			"partition_key":  key,
		},
	})
}

// Close shuts down every topic opened by this sink.
func (s *DLQSink) Close(ctx context.Context) error {
	return s.topics.closeAll(ctx)
}
