// Package taskengine implements an embeddable task execution engine: a
// lifecycle state machine that routes submitted tasks to registered
// handlers, retries failed attempts with exponential backoff, classifies
// failures as retryable or terminal, persists every transition, and
// publishes lifecycle events.
package taskengine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// TaskID is a globally unique, time-ordered task identifier.
type TaskID struct {
	id xid.ID
}

// NewTaskID generates a new task ID.
func NewTaskID() TaskID {
	return TaskID{id: xid.New()}
}

// ParseTaskID parses a task ID from its string form.
func ParseTaskID(s string) (TaskID, error) {
	id, err := xid.FromString(s)
	if err != nil {
		return TaskID{}, fmt.Errorf("invalid task id %q: %w", s, err)
	}
	return TaskID{id: id}, nil
}

// String returns the canonical string representation.
func (t TaskID) String() string {
	return t.id.String()
}

// IsZero reports whether this is the zero value.
func (t TaskID) IsZero() bool {
	return t.id.IsNil()
}

// Time returns the creation timestamp embedded in the ID.
func (t TaskID) Time() time.Time {
	return t.id.Time()
}

// MarshalJSON implements json.Marshaler.
func (t TaskID) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.id.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TaskID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.id = xid.ID{}
		return nil
	}
	id, err := xid.FromString(s)
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", s, err)
	}
	t.id = id
	return nil
}

// EventID is a globally unique, time-ordered event identifier.
type EventID struct {
	id xid.ID
}

// NewEventID generates a new event ID.
func NewEventID() EventID {
	return EventID{id: xid.New()}
}

// String returns the canonical string representation.
func (e EventID) String() string {
	return e.id.String()
}

// IsZero reports whether this is the zero value.
func (e EventID) IsZero() bool {
	return e.id.IsNil()
}

// MarshalJSON implements json.Marshaler.
func (e EventID) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.id.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *EventID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		e.id = xid.ID{}
		return nil
	}
	id, err := xid.FromString(s)
	if err != nil {
		return fmt.Errorf("invalid event id %q: %w", s, err)
	}
	e.id = id
	return nil
}
