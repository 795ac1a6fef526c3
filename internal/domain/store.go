package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AttemptStore is the durable backing of the profit ledger.
type AttemptStore interface {
	// Insert stores the attempt unless its ID already exists. It reports
	// whether a new row was written.
	Insert(ctx context.Context, a ExecutionAttempt) (bool, error)
	GetByID(ctx context.Context, id string) (ExecutionAttempt, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionAttempt, error)
	// ListRange returns attempts finished in [since, until), oldest first.
	ListRange(ctx context.Context, since, until time.Time) ([]ExecutionAttempt, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
