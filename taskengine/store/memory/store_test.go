package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/taskengine"
	"github.com/antinvestor/taskengine/store/memory"
)

func newTask(taskType string, status taskengine.TaskStatus) *taskengine.Task {
	now := time.Now()
	return &taskengine.Task{
		TaskID:    taskengine.NewTaskID(),
		Type:      taskType,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_SaveAndFindByID(t *testing.T) {
	store := memory.New()
	task := newTask("demo", taskengine.StatusPending)

	require.NoError(t, store.Save(context.Background(), task))

	found, err := store.FindByID(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.Type, found.Type)

	// FindByID must return an independent copy.
	found.Type = "mutated"
	refetched, err := store.FindByID(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "demo", refetched.Type)
}

func TestStore_FindByIDMissing(t *testing.T) {
	store := memory.New()
	_, err := store.FindByID(context.Background(), taskengine.NewTaskID())
	assert.ErrorIs(t, err, taskengine.ErrNotFound)
}

func TestStore_FindByStatusAndType(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Save(context.Background(), newTask("a", taskengine.StatusPending)))
	require.NoError(t, store.Save(context.Background(), newTask("a", taskengine.StatusFailed)))
	require.NoError(t, store.Save(context.Background(), newTask("b", taskengine.StatusPending)))

	byStatus, err := store.FindByStatus(context.Background(), taskengine.StatusPending, taskengine.Page{})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	byType, err := store.FindByType(context.Background(), "a", taskengine.Page{})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	both, err := store.FindByTypeAndStatus(context.Background(), "a", taskengine.StatusFailed, taskengine.Page{})
	require.NoError(t, err)
	require.Len(t, both, 1)
}

func TestStore_Pagination(t *testing.T) {
	store := memory.New()
	for i := 0; i < 5; i++ {
		task := newTask("a", taskengine.StatusPending)
		task.CreatedAt = time.Unix(int64(i), 0)
		require.NoError(t, store.Save(context.Background(), task))
	}

	page, err := store.FindByType(context.Background(), "a", taskengine.Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestStore_FindFailedForRetry(t *testing.T) {
	store := memory.New()
	eligible := newTask("a", taskengine.StatusFailed)
	eligible.RetryCount = 1
	tooMany := newTask("a", taskengine.StatusFailed)
	tooMany.RetryCount = 5

	require.NoError(t, store.Save(context.Background(), eligible))
	require.NoError(t, store.Save(context.Background(), tooMany))

	found, err := store.FindFailedForRetry(context.Background(), 3, taskengine.Page{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, eligible.TaskID, found[0].TaskID)
}

func TestStore_FindStuck(t *testing.T) {
	store := memory.New()
	stuck := newTask("a", taskengine.StatusInProgress)
	stuck.UpdatedAt = time.Now().Add(-time.Hour)
	fresh := newTask("a", taskengine.StatusInProgress)
	fresh.UpdatedAt = time.Now()

	require.NoError(t, store.Save(context.Background(), stuck))
	require.NoError(t, store.Save(context.Background(), fresh))

	found, err := store.FindStuck(context.Background(), 10*time.Minute, taskengine.Page{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stuck.TaskID, found[0].TaskID)
}

func TestStore_UpdateStatusAndIncrementRetry(t *testing.T) {
	store := memory.New()
	task := newTask("a", taskengine.StatusPending)
	require.NoError(t, store.Save(context.Background(), task))

	require.NoError(t, store.UpdateStatus(context.Background(), task.TaskID, taskengine.StatusInProgress))
	require.NoError(t, store.IncrementRetry(context.Background(), task.TaskID))

	found, err := store.FindByID(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskengine.StatusInProgress, found.Status)
	assert.Equal(t, 1, found.RetryCount)
}

func TestStore_UpdateStatusMissing(t *testing.T) {
	store := memory.New()
	err := store.UpdateStatus(context.Background(), taskengine.NewTaskID(), taskengine.StatusCompleted)
	assert.ErrorIs(t, err, taskengine.ErrNotFound)
}

func TestStore_DeleteCompletedOlderThan(t *testing.T) {
	store := memory.New()
	old := newTask("a", taskengine.StatusCompleted)
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	recent := newTask("a", taskengine.StatusCompleted)
	recent.UpdatedAt = time.Now()

	require.NoError(t, store.Save(context.Background(), old))
	require.NoError(t, store.Save(context.Background(), recent))

	removed, err := store.DeleteCompletedOlderThan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.FindByID(context.Background(), old.TaskID)
	assert.ErrorIs(t, err, taskengine.ErrNotFound)
}
