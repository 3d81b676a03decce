// Package sweeper periodically scans the TaskStore for tasks that the
// core execution pipeline can no longer move forward on its own: tasks
// stuck IN_PROGRESS because the process executing them died, and FAILED
// tasks still under their retry budget that a host wants re-driven rather
// than left for an operator. Grounded on the teacher's
// apps/worker/service/repository workspace-cleanup sweep and
// internal/events distributed-locking pattern.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/taskengine"
)

// Config controls sweep cadence and thresholds.
type Config struct {
	// Interval is how often Run performs a sweep pass.
	Interval time.Duration

	// StuckThreshold is how long a task may remain IN_PROGRESS before the
	// sweeper considers its owning process dead.
	StuckThreshold time.Duration

	// MaxRetries bounds which FAILED tasks are eligible for resubmission;
	// must match the RetryPolicy.MaxRetries the engine settles tasks with.
	MaxRetries int

	// PageSize bounds how many tasks are pulled per store query.
	PageSize int

	// Owner identifies this sweeper instance to the LockManager. Hosts
	// running multiple instances should set this to something stable and
	// unique per process (hostname+pid, pod name, etc).
	Owner string

	// LockTTL is how long the distributed lock for a sweep pass is held.
	LockTTL time.Duration
}

// DefaultConfig returns reasonable sweeper defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		StuckThreshold: 15 * time.Minute,
		MaxRetries:     taskengine.DefaultMaxRetries,
		PageSize:       100,
		Owner:          "sweeper",
		LockTTL:        time.Minute,
	}
}

// Sweeper runs the stuck-task and failed-task-retry scans on a timer. A
// nil LockManager runs every pass unconditionally, suitable for a
// single-instance host; a configured LockManager ensures only one
// instance performs a given pass when multiple engines share a store.
type Sweeper struct {
	cfg    Config
	store  taskengine.TaskStore
	engine *taskengine.Engine
	lock   taskengine.LockManager
	clock  taskengine.Clock
}

// New creates a Sweeper. engine is used to resubmit eligible FAILED tasks
// through the normal Submit path, so retries still go through the Retry
// Strategy and emit the usual lifecycle events.
func New(cfg Config, store taskengine.TaskStore, engine *taskengine.Engine, lock taskengine.LockManager, clock taskengine.Clock) *Sweeper {
	if clock == nil {
		clock = taskengine.SystemClock{}
	}
	return &Sweeper{cfg: cfg, store: store, engine: engine, lock: lock, clock: clock}
}

// Run blocks, performing a sweep pass every cfg.Interval until ctx is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	log := util.Log(ctx)

	const lockKey = "sweep:pass"
	if s.lock != nil {
		lock, acquired, err := s.lock.TryAcquire(ctx, lockKey, s.cfg.Owner, s.cfg.LockTTL)
		if err != nil {
			log.WithError(err).Warn("sweeper failed to acquire lock")
			return
		}
		if !acquired {
			log.Debug("sweeper pass skipped, lock held by another instance")
			return
		}
		defer func() {
			if unlockErr := lock.Unlock(ctx); unlockErr != nil {
				log.WithError(unlockErr).Warn("sweeper failed to release lock")
			}
		}()
	}

	if err := s.resubmitStuck(ctx); err != nil {
		log.WithError(err).Error("sweeper stuck-task pass failed")
	}
	if err := s.resubmitFailed(ctx); err != nil {
		log.WithError(err).Error("sweeper failed-task pass failed")
	}
}

// resubmitStuck finds IN_PROGRESS tasks whose UpdatedAt predates the
// stuck threshold and resubmits them. Resubmission always goes through
// Submit, which re-runs the handler from a fresh PENDING state; a handler
// whose previous attempt partially completed must be idempotent for this
// to be safe, same as any at-least-once delivery system.
func (s *Sweeper) resubmitStuck(ctx context.Context) error {
	page := taskengine.Page{Limit: s.cfg.PageSize}
	stuck, err := s.store.FindStuck(ctx, s.cfg.StuckThreshold, page)
	if err != nil {
		return fmt.Errorf("find stuck tasks: %w", err)
	}

	for _, task := range stuck {
		task.Status = taskengine.StatusPending
		task.UpdatedAt = s.clock.Now()
		if _, err := s.engine.Submit(ctx, task); err != nil {
			util.Log(ctx).WithError(err).Warn("sweeper failed to resubmit stuck task",
				"task_id", task.TaskID.String())
		}
	}
	return nil
}

// resubmitFailed finds FAILED tasks still under the retry budget and
// resubmits them.
func (s *Sweeper) resubmitFailed(ctx context.Context) error {
	page := taskengine.Page{Limit: s.cfg.PageSize}
	failed, err := s.store.FindFailedForRetry(ctx, s.cfg.MaxRetries, page)
	if err != nil {
		return fmt.Errorf("find failed tasks for retry: %w", err)
	}

	for _, task := range failed {
		task.Status = taskengine.StatusPending
		task.UpdatedAt = s.clock.Now()
		if _, err := s.engine.Submit(ctx, task); err != nil {
			util.Log(ctx).WithError(err).Warn("sweeper failed to resubmit failed task",
				"task_id", task.TaskID.String())
		}
	}
	return nil
}
