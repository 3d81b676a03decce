package taskengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/taskengine"
	memorysink "github.com/antinvestor/taskengine/sink/memory"
	memorystore "github.com/antinvestor/taskengine/store/memory"
)

func TestAdminRecovery_RequeueResubmitsAndEmitsOneRecoveryEvent(t *testing.T) {
	store := memorystore.New()
	eventSink := memorysink.NewEventSink()
	registry := taskengine.NewHandlerRegistry()
	require.NoError(t, registry.Register(echoHandler("demo.echo")))

	policy := taskengine.DefaultRetryPolicy()
	policy.JitterFraction = 0
	engine := taskengine.NewEngine(taskengine.EngineConfig{RetryPolicy: policy},
		registry, store, eventSink, memorysink.NewDLQSink(), newFakeClock(time.Unix(0, 0)), nil)

	task := &taskengine.Task{TaskID: taskengine.NewTaskID(), Type: "demo.echo", Status: taskengine.StatusDeadLetter, RetryCount: 3}
	require.NoError(t, store.Save(context.Background(), task))

	admin := taskengine.NewAdminRecovery(engine)
	result, err := admin.Requeue(context.Background(), task.TaskID, taskengine.RequeueOptions{
		ResolvedBy:      "operator@example.com",
		ResetRetryCount: true,
	})
	require.NoError(t, err)
	assert.True(t, result.IsSuccess())

	stored, err := store.FindByID(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskengine.StatusCompleted, stored.Status)

	events := eventSink.Events("task-events")
	var recovered, created int
	for _, e := range events {
		switch e.EventType {
		case taskengine.EventRecoveredFromDLQ:
			recovered++
		case taskengine.EventTaskCreated:
			created++
		}
	}
	assert.Equal(t, 1, recovered)
	assert.Equal(t, 0, created, "Requeue must not re-emit TASK_CREATED")
}

func TestAdminRecovery_RequeueRejectsNonDeadLetterTask(t *testing.T) {
	store := memorystore.New()
	registry := taskengine.NewHandlerRegistry()
	require.NoError(t, registry.Register(echoHandler("demo.echo")))
	engine := taskengine.NewEngine(taskengine.EngineConfig{RetryPolicy: taskengine.DefaultRetryPolicy()},
		registry, store, memorysink.NewEventSink(), memorysink.NewDLQSink(), nil, nil)

	task := &taskengine.Task{TaskID: taskengine.NewTaskID(), Type: "demo.echo", Status: taskengine.StatusCompleted}
	require.NoError(t, store.Save(context.Background(), task))

	admin := taskengine.NewAdminRecovery(engine)
	_, err := admin.Requeue(context.Background(), task.TaskID, taskengine.RequeueOptions{})
	assert.ErrorIs(t, err, taskengine.ErrTaskNotDeadLettered)
}

func TestAdminRecovery_DiscardRequiresNotes(t *testing.T) {
	store := memorystore.New()
	engine := taskengine.NewEngine(taskengine.EngineConfig{RetryPolicy: taskengine.DefaultRetryPolicy()},
		taskengine.NewHandlerRegistry(), store, memorysink.NewEventSink(), memorysink.NewDLQSink(), nil, nil)
	admin := taskengine.NewAdminRecovery(engine)

	task := &taskengine.Task{TaskID: taskengine.NewTaskID(), Type: "demo", Status: taskengine.StatusDeadLetter}
	require.NoError(t, store.Save(context.Background(), task))

	err := admin.Discard(context.Background(), task.TaskID, taskengine.DiscardOptions{})
	assert.ErrorIs(t, err, taskengine.ErrInvalidArgument)
}

func TestAdminRecovery_DiscardDoesNotChangeStatusButEmitsRecoveredEvent(t *testing.T) {
	store := memorystore.New()
	eventSink := memorysink.NewEventSink()
	engine := taskengine.NewEngine(taskengine.EngineConfig{RetryPolicy: taskengine.DefaultRetryPolicy()},
		taskengine.NewHandlerRegistry(), store, eventSink, memorysink.NewDLQSink(), nil, nil)
	admin := taskengine.NewAdminRecovery(engine)

	task := &taskengine.Task{TaskID: taskengine.NewTaskID(), Type: "demo", Status: taskengine.StatusDeadLetter}
	require.NoError(t, store.Save(context.Background(), task))

	err := admin.Discard(context.Background(), task.TaskID, taskengine.DiscardOptions{ResolvedBy: "ops", Notes: "duplicate submission"})
	require.NoError(t, err)

	stored, err := store.FindByID(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskengine.StatusDeadLetter, stored.Status)

	events := eventSink.Events("task-events")
	require.Len(t, events, 1)
	assert.Equal(t, taskengine.EventRecoveredFromDLQ, events[0].EventType)
	assert.Equal(t, "demo", events[0].Metadata["taskType"])
	assert.Equal(t, "discarded", events[0].Metadata["outcome"])
	assert.Equal(t, "ops", events[0].Metadata["resolvedBy"])
	assert.Equal(t, "duplicate submission", events[0].Metadata["notes"])
}

func TestAdminRecovery_RequeueUnknownTask(t *testing.T) {
	store := memorystore.New()
	engine := taskengine.NewEngine(taskengine.EngineConfig{RetryPolicy: taskengine.DefaultRetryPolicy()},
		taskengine.NewHandlerRegistry(), store, memorysink.NewEventSink(), memorysink.NewDLQSink(), nil, nil)
	admin := taskengine.NewAdminRecovery(engine)

	_, err := admin.Requeue(context.Background(), taskengine.NewTaskID(), taskengine.RequeueOptions{})
	assert.ErrorIs(t, err, taskengine.ErrNotFound)
}
