package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// MemoryStore is an in-process AttemptStore.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]domain.ExecutionAttempt
	order []string // insertion order
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]domain.ExecutionAttempt)}
}

func (m *MemoryStore) Insert(_ context.Context, a domain.ExecutionAttempt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[a.ID]; ok {
		return false, nil
	}
	m.byID[a.ID] = a
	m.order = append(m.order, a.ID)
	return true, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (domain.ExecutionAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.ExecutionAttempt{}, fmt.Errorf("attempt %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (m *MemoryStore) ListRecent(_ context.Context, limit int) ([]domain.ExecutionAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	out := make([]domain.ExecutionAttempt, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.byID[m.order[i]])
	}
	return out, nil
}

func (m *MemoryStore) ListRange(_ context.Context, since, until time.Time) ([]domain.ExecutionAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ExecutionAttempt
	for _, id := range m.order {
		a := m.byID[id]
		if a.FinishedAt.Before(since) || !a.FinishedAt.Before(until) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinishedAt.Before(out[j].FinishedAt)
	})
	return out, nil
}

// DeleteBefore drops attempts finished before cutoff.
func (m *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	kept := m.order[:0]
	for _, id := range m.order {
		if m.byID[id].FinishedAt.Before(cutoff) {
			delete(m.byID, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return n, nil
}

var _ domain.AttemptStore = (*MemoryStore)(nil)

// MemoryAudit is an in-process AuditStore used when no database is
// configured.
type MemoryAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewMemoryAudit returns an empty audit log.
func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{now: time.Now}
}

func (m *MemoryAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{
		ID:        int64(len(m.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: m.now(),
	})
	return nil
}

// List returns entries newest first.
func (m *MemoryAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

var _ domain.AuditStore = (*MemoryAudit)(nil)
