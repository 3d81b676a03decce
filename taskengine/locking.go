package taskengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Distributed locking errors.
var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockExpired     = errors.New("lock expired")
	ErrLockNotHeld     = errors.New("lock not held by caller")
)

// DistributedLock represents a held lock on a single key.
type DistributedLock interface {
	Key() string
	Owner() string
	Unlock(ctx context.Context) error
}

// LockManager coordinates distributed locks across multiple Engine/Sweeper
// instances, so only one of them resubmits a given stuck task at a time.
type LockManager interface {
	// TryAcquire attempts to acquire key without blocking.
	TryAcquire(ctx context.Context, key string, owner string, ttl time.Duration) (DistributedLock, bool, error)

	// Release releases key if owner still holds it.
	Release(ctx context.Context, key string, owner string) error
}

// RedisLockManager is a Redis-backed LockManager using SETNX plus a
// compare-and-delete Lua script for safe release, matching the Redlock
// single-instance pattern the teacher uses for its execution/workspace
// locks.
type RedisLockManager struct {
	client *redis.Client
}

// NewRedisLockManager creates a RedisLockManager.
func NewRedisLockManager(client *redis.Client) *RedisLockManager {
	return &RedisLockManager{client: client}
}

const lockKeyPrefix = "taskengine:lock:"

// TryAcquire implements LockManager.
func (m *RedisLockManager) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (DistributedLock, bool, error) {
	redisKey := lockKeyPrefix + key
	ok, err := m.client.SetNX(ctx, redisKey, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLock{key: key, owner: owner, manager: m}, true, nil
}

// Release implements LockManager.
func (m *RedisLockManager) Release(ctx context.Context, key, owner string) error {
	redisKey := lockKeyPrefix + key

	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)
	result, err := script.Run(ctx, m.client, []string{redisKey}, owner).Result()
	if err != nil {
		return fmt.Errorf("release script: %w", err)
	}
	count, ok := result.(int64)
	if !ok || count == 0 {
		return ErrLockNotHeld
	}
	return nil
}

type redisLock struct {
	key     string
	owner   string
	manager *RedisLockManager
}

func (l *redisLock) Key() string   { return l.key }
func (l *redisLock) Owner() string { return l.owner }

func (l *redisLock) Unlock(ctx context.Context) error {
	return l.manager.Release(ctx, l.key, l.owner)
}

// InMemoryLockManager is a single-process LockManager, used when a host
// runs only one engine instance and Redis coordination would be pure
// overhead.
type InMemoryLockManager struct {
	mu    sync.Mutex
	locks map[string]string
}

// NewInMemoryLockManager creates an empty InMemoryLockManager.
func NewInMemoryLockManager() *InMemoryLockManager {
	return &InMemoryLockManager{locks: make(map[string]string)}
}

// TryAcquire implements LockManager.
func (m *InMemoryLockManager) TryAcquire(_ context.Context, key, owner string, _ time.Duration) (DistributedLock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, held := m.locks[key]; held && existing != owner {
		return nil, false, nil
	}
	m.locks[key] = owner
	return &memLock{key: key, owner: owner, manager: m}, true, nil
}

// Release implements LockManager.
func (m *InMemoryLockManager) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, held := m.locks[key]
	if !held {
		return nil
	}
	if existing != owner {
		return ErrLockNotHeld
	}
	delete(m.locks, key)
	return nil
}

type memLock struct {
	key     string
	owner   string
	manager *InMemoryLockManager
}

func (l *memLock) Key() string   { return l.key }
func (l *memLock) Owner() string { return l.owner }

func (l *memLock) Unlock(ctx context.Context) error {
	return l.manager.Release(ctx, l.key, l.owner)
}
