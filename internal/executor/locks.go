package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// PairLocker guarantees at most one in-flight attempt per pair. TryLock
// never waits: a held pair fails with domain.ErrPairBusy.
type PairLocker interface {
	TryLock(ctx context.Context, pair domain.TokenPair) (unlock func(), err error)
}

// MemoryLocks is the single-process PairLocker.
type MemoryLocks struct {
	mu   sync.Mutex
	held map[domain.TokenPair]struct{}
}

// NewMemoryLocks returns an empty lock set.
func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{held: make(map[domain.TokenPair]struct{})}
}

func (m *MemoryLocks) TryLock(_ context.Context, pair domain.TokenPair) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[pair]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPairBusy, pair)
	}
	m.held[pair] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, pair)
			m.mu.Unlock()
		})
	}, nil
}

// Held reports whether pair is locked.
func (m *MemoryLocks) Held(pair domain.TokenPair) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[pair]
	return ok
}

// DistributedLocks serializes pairs across instances through a
// domain.LockManager (Redis). The TTL bounds how long a crashed holder can
// block a pair.
type DistributedLocks struct {
	locks domain.LockManager
	ttl   time.Duration
}

// NewDistributedLocks wraps a LockManager.
func NewDistributedLocks(locks domain.LockManager, ttl time.Duration) *DistributedLocks {
	return &DistributedLocks{locks: locks, ttl: ttl}
}

func (d *DistributedLocks) TryLock(ctx context.Context, pair domain.TokenPair) (func(), error) {
	unlock, err := d.locks.Acquire(ctx, "pair:"+pair.String(), d.ttl)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPairBusy, pair)
	}
	if err != nil {
		return nil, fmt.Errorf("executor: lock %s: %w", pair, err)
	}
	return unlock, nil
}
