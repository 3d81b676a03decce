package taskengine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/taskengine"
)

func TestErrorWrappers_MessagesAndUnwrap(t *testing.T) {
	// isRetryable is unexported; exercised indirectly through RetryExecutor
	// in retry_test.go and below. Here we assert the public error wrappers'
	// messages and unwrapping.
	inner := errors.New("boom")
	retryable := taskengine.NewRetryableError(inner)
	assert.Equal(t, "boom", retryable.Error())
	assert.Equal(t, inner, retryable.Unwrap())
	assert.ErrorIs(t, retryable, inner)

	transient := taskengine.NewTransientStoreError(errors.New("db down"))
	assert.Contains(t, transient.Error(), "db down")

	handler := taskengine.NewHandlerError(errors.New("bad input"))
	assert.Equal(t, "bad input", handler.Error())

	sink := taskengine.NewSinkError(errors.New("unreachable"))
	assert.Contains(t, sink.Error(), "unreachable")
}

func TestRetryableError_NilWrapsDescribeThemselves(t *testing.T) {
	assert.Equal(t, "retryable error", (&taskengine.RetryableError{}).Error())
	assert.Equal(t, "transient store error", (&taskengine.TransientStoreError{}).Error())
	assert.Equal(t, "handler error", (&taskengine.HandlerError{}).Error())
	assert.Equal(t, "sink error", (&taskengine.SinkError{}).Error())
}

func TestErrors_DeadlineExceededIsRetryableThroughChain(t *testing.T) {
	wrapped := errors.Join(errors.New("wrapper"), context.DeadlineExceeded)

	policy := taskengine.RetryPolicy{
		MaxRetries:     2,
		InitialDelay:   time.Millisecond,
		MaxDelay:       time.Millisecond,
		AttemptTimeout: 0,
		JitterFraction: 0,
	}
	executor := taskengine.NewRetryExecutor(policy, newFakeClock(time.Unix(0, 0)))

	task := &taskengine.Task{TaskID: taskengine.NewTaskID(), Type: "demo"}
	handler := taskengine.HandlerFunc{
		TaskType: "demo",
		Func: func(_ context.Context, _ *taskengine.Task) (taskengine.TaskResult, error) {
			return taskengine.TaskResult{}, wrapped
		},
	}

	result, attempts, err := executor.Run(context.Background(), task, handler)
	require.NoError(t, err)
	assert.False(t, result.IsSuccess())
	assert.True(t, result.Retryable())
	assert.Equal(t, 3, attempts)
}
