// Package memory provides an in-memory TaskStore, suitable for tests and
// single-process development, grounded on the teacher's InMemoryDLQStore
// and InMemoryDeduplicationStore locking pattern.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/antinvestor/taskengine"
)

// Store is a goroutine-safe, in-memory implementation of
// taskengine.TaskStore. Nothing survives a process restart.
type Store struct {
	mu    sync.RWMutex
	tasks map[taskengine.TaskID]*taskengine.Task
}

// New creates an empty Store.
func New() *Store {
	return &Store{tasks: make(map[taskengine.TaskID]*taskengine.Task)}
}

// Save implements taskengine.TaskStore.
func (s *Store) Save(_ context.Context, task *taskengine.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.TaskID] = task.Clone()
	return nil
}

// FindByID implements taskengine.TaskStore.
func (s *Store) FindByID(_ context.Context, id taskengine.TaskID) (*taskengine.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, taskengine.ErrNotFound
	}
	return task.Clone(), nil
}

// FindByStatus implements taskengine.TaskStore.
func (s *Store) FindByStatus(_ context.Context, status taskengine.TaskStatus, page taskengine.Page) ([]*taskengine.Task, error) {
	return s.filter(page, func(t *taskengine.Task) bool {
		return t.Status == status
	}), nil
}

// FindByType implements taskengine.TaskStore.
func (s *Store) FindByType(_ context.Context, taskType string, page taskengine.Page) ([]*taskengine.Task, error) {
	return s.filter(page, func(t *taskengine.Task) bool {
		return t.Type == taskType
	}), nil
}

// FindByTypeAndStatus implements taskengine.TaskStore.
func (s *Store) FindByTypeAndStatus(_ context.Context, taskType string, status taskengine.TaskStatus, page taskengine.Page) ([]*taskengine.Task, error) {
	return s.filter(page, func(t *taskengine.Task) bool {
		return t.Type == taskType && t.Status == status
	}), nil
}

// FindFailedForRetry implements taskengine.TaskStore.
func (s *Store) FindFailedForRetry(_ context.Context, maxRetries int, page taskengine.Page) ([]*taskengine.Task, error) {
	return s.filter(page, func(t *taskengine.Task) bool {
		return t.Status == taskengine.StatusFailed && t.RetryCount < maxRetries
	}), nil
}

// FindStuck implements taskengine.TaskStore.
func (s *Store) FindStuck(_ context.Context, threshold time.Duration, page taskengine.Page) ([]*taskengine.Task, error) {
	cutoff := time.Now().Add(-threshold)
	return s.filter(page, func(t *taskengine.Task) bool {
		return t.Status == taskengine.StatusInProgress && t.UpdatedAt.Before(cutoff)
	}), nil
}

// UpdateStatus implements taskengine.TaskStore.
func (s *Store) UpdateStatus(_ context.Context, id taskengine.TaskID, status taskengine.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return taskengine.ErrNotFound
	}
	task.Status = status
	task.UpdatedAt = time.Now()
	return nil
}

// IncrementRetry implements taskengine.TaskStore.
func (s *Store) IncrementRetry(_ context.Context, id taskengine.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return taskengine.ErrNotFound
	}
	task.RetryCount++
	task.UpdatedAt = time.Now()
	return nil
}

// DeleteCompletedOlderThan implements taskengine.TaskStore.
func (s *Store) DeleteCompletedOlderThan(_ context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tasks {
		if t.Status == taskengine.StatusCompleted && t.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) filter(page taskengine.Page, match func(*taskengine.Task) bool) []*taskengine.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []*taskengine.Task
	for _, t := range s.tasks {
		if match(t) {
			matching = append(matching, t)
		}
	}
	sort.Slice(matching, func(i, j int) bool {
		return matching[i].CreatedAt.Before(matching[j].CreatedAt)
	})

	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matching) {
		return []*taskengine.Task{}
	}
	end := len(matching)
	if page.Limit > 0 && offset+page.Limit < end {
		end = offset + page.Limit
	}

	out := make([]*taskengine.Task, 0, end-offset)
	for _, t := range matching[offset:end] {
		out = append(out, t.Clone())
	}
	return out
}
