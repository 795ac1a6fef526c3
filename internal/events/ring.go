package events

import (
	"context"
	"sync"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Ring keeps the most recent events in memory for status endpoints.
type Ring struct {
	mu   sync.RWMutex
	buf  []domain.Event
	next int
	full bool
}

// NewRing creates a Ring holding up to size events.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 100
	}
	return &Ring{buf: make([]domain.Event, size)}
}

// Name implements Sink.
func (r *Ring) Name() string { return "ring" }

// Deliver implements Sink.
func (r *Ring) Deliver(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return nil
}

// Recent returns up to limit events, newest first.
func (r *Ring) Recent(limit int) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
