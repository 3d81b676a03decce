package taskengine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/taskengine"
	memorysink "github.com/antinvestor/taskengine/sink/memory"
	memorystore "github.com/antinvestor/taskengine/store/memory"
)

func TestDeadLetterProcessor_Process(t *testing.T) {
	store := memorystore.New()
	eventSink := memorysink.NewEventSink()
	dlqSink := memorysink.NewDLQSink()
	clock := newFakeClock(time.Unix(0, 0))
	publisher := taskengine.NewEventPublisher(eventSink, "task-events", clock)
	metrics := taskengine.NewMetrics(nil)

	processor := taskengine.NewDeadLetterProcessor(store, dlqSink, publisher, "task-dlq", clock, metrics)

	task := &taskengine.Task{TaskID: taskengine.NewTaskID(), Type: "demo", Status: taskengine.StatusFailed, RetryCount: 3}
	require.NoError(t, store.Save(context.Background(), task))

	err := processor.Process(context.Background(), task, taskengine.NewHandlerError(errors.New("fatal")))
	require.NoError(t, err)

	assert.Equal(t, taskengine.StatusDeadLetter, task.Status)

	stored, err := store.FindByID(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskengine.StatusDeadLetter, stored.Status)

	dlqTasks := dlqSink.Tasks("task-dlq")
	require.Len(t, dlqTasks, 1)
	assert.Equal(t, task.TaskID, dlqTasks[0].TaskID)

	events := eventSink.Events("task-events")
	require.Len(t, events, 1)
	assert.Equal(t, taskengine.EventMovedToDLQ, events[0].EventType)
	assert.Equal(t, "HandlerError", events[0].Metadata["error_type"])
	assert.Equal(t, "fatal", events[0].Metadata["error_message"])
}

func TestDeadLetterProcessor_DefaultsTopic(t *testing.T) {
	store := memorystore.New()
	processor := taskengine.NewDeadLetterProcessor(store, nil, nil, "", nil, nil)
	task := &taskengine.Task{TaskID: taskengine.NewTaskID(), Type: "demo"}
	require.NoError(t, store.Save(context.Background(), task))

	require.NoError(t, processor.Process(context.Background(), task, errors.New("boom")))
	assert.Equal(t, taskengine.StatusDeadLetter, task.Status)
}

type failingDLQSink struct{}

func (failingDLQSink) Send(_ context.Context, _ string, _ string, _ *taskengine.Task) error {
	return errors.New("sink down")
}

func TestDeadLetterProcessor_SinkFailureIsSwallowed(t *testing.T) {
	store := memorystore.New()
	task := &taskengine.Task{TaskID: taskengine.NewTaskID(), Type: "demo"}
	require.NoError(t, store.Save(context.Background(), task))

	processor := taskengine.NewDeadLetterProcessor(store, failingDLQSink{}, nil, "", nil, nil)
	err := processor.Process(context.Background(), task, errors.New("boom"))

	// A DLQ sink outage must not change the caller-visible outcome: the
	// status transition has already committed, so the failure is logged
	// and swallowed rather than returned.
	require.NoError(t, err)
	assert.Equal(t, taskengine.StatusDeadLetter, task.Status)
}

func TestDeadLetterProcessor_RejectsNilTask(t *testing.T) {
	processor := taskengine.NewDeadLetterProcessor(memorystore.New(), nil, nil, "", nil, nil)
	err := processor.Process(context.Background(), nil, errors.New("boom"))
	assert.ErrorIs(t, err, taskengine.ErrInvalidArgument)
}
