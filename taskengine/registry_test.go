package taskengine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/taskengine"
)

func echoHandler(taskType string) taskengine.Handler {
	return taskengine.HandlerFunc{
		TaskType: taskType,
		Func: func(_ context.Context, task *taskengine.Task) (taskengine.TaskResult, error) {
			return taskengine.NewSuccess(task.TaskID, task.Data), nil
		},
	}
}

func TestHandlerRegistry_RegisterAndLookup(t *testing.T) {
	registry := taskengine.NewHandlerRegistry()

	require.NoError(t, registry.Register(echoHandler("demo.echo")))

	h, err := registry.Lookup("demo.echo")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "demo.echo", h.Type())
}

func TestHandlerRegistry_LookupMissing(t *testing.T) {
	registry := taskengine.NewHandlerRegistry()

	h, err := registry.Lookup("does.not.exist")
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestHandlerRegistry_LookupBlankType(t *testing.T) {
	registry := taskengine.NewHandlerRegistry()

	_, err := registry.Lookup("  ")
	assert.ErrorIs(t, err, taskengine.ErrInvalidArgument)
}

func TestHandlerRegistry_RegisterNil(t *testing.T) {
	registry := taskengine.NewHandlerRegistry()
	assert.ErrorIs(t, registry.Register(nil), taskengine.ErrInvalidArgument)
}

func TestHandlerRegistry_RegisterOverwrites(t *testing.T) {
	registry := taskengine.NewHandlerRegistry()
	require.NoError(t, registry.Register(echoHandler("demo.echo")))
	require.NoError(t, registry.Register(echoHandler("demo.echo")))
	assert.Equal(t, 1, registry.Count())
}

func TestHandlerRegistry_Remove(t *testing.T) {
	registry := taskengine.NewHandlerRegistry()
	require.NoError(t, registry.Register(echoHandler("demo.echo")))
	assert.True(t, registry.Has("demo.echo"))

	registry.Remove("demo.echo")
	assert.False(t, registry.Has("demo.echo"))
}

func TestHandlerRegistry_Clear(t *testing.T) {
	registry := taskengine.NewHandlerRegistry()
	require.NoError(t, registry.Register(echoHandler("a")))
	require.NoError(t, registry.Register(echoHandler("b")))
	require.Equal(t, 2, registry.Count())

	registry.Clear()
	assert.Equal(t, 0, registry.Count())
}

func TestHandlerRegistry_ConcurrentReadsDuringWrite(t *testing.T) {
	registry := taskengine.NewHandlerRegistry()
	require.NoError(t, registry.Register(echoHandler("demo.echo")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = registry.Register(echoHandler("demo.other"))
		}
	}()

	for i := 0; i < 100; i++ {
		h, err := registry.Lookup("demo.echo")
		require.NoError(t, err)
		require.NotNil(t, h)
	}
	<-done
}
