package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// AttemptStore implements domain.AttemptStore. The full attempt is kept as
// JSONB; the flattened columns exist for indexing and ad hoc queries.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates an AttemptStore.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Insert writes a unless its ID exists already.
func (s *AttemptStore) Insert(ctx context.Context, a domain.ExecutionAttempt) (bool, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("postgres: marshal attempt %s: %w", a.ID, err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO execution_attempts (id, opportunity_id, pair, buy_exchange, sell_exchange, outcome,
			realized_profit, loan_provider, loan_amount, tx_id, error, submissions, body, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Opportunity.ID, a.Opportunity.Pair.String(), a.Opportunity.BuyExchange, a.Opportunity.SellExchange,
		string(a.Outcome), a.RealizedProfit, a.LoanProvider, a.LoanAmount, a.TxID, a.Error, a.Submissions,
		body, a.StartedAt, a.FinishedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert attempt %s: %w", a.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID returns one attempt or domain.ErrNotFound.
func (s *AttemptStore) GetByID(ctx context.Context, id string) (domain.ExecutionAttempt, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM execution_attempts WHERE id = $1`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionAttempt{}, fmt.Errorf("attempt %s: %w", id, domain.ErrNotFound)
		}
		return domain.ExecutionAttempt{}, fmt.Errorf("postgres: get attempt %s: %w", id, err)
	}
	var a domain.ExecutionAttempt
	if err := json.Unmarshal(body, &a); err != nil {
		return domain.ExecutionAttempt{}, fmt.Errorf("postgres: unmarshal attempt %s: %w", id, err)
	}
	return a, nil
}

// ListRecent returns the newest attempts first.
func (s *AttemptStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT body FROM execution_attempts ORDER BY finished_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent attempts: %w", err)
	}
	return scanAttempts(rows)
}

// ListRange returns attempts finished in [since, until), oldest first.
func (s *AttemptStore) ListRange(ctx context.Context, since, until time.Time) ([]domain.ExecutionAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT body FROM execution_attempts
		WHERE finished_at >= $1 AND finished_at < $2
		ORDER BY finished_at ASC, id ASC`, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts range: %w", err)
	}
	return scanAttempts(rows)
}

// DeleteBefore removes attempts finished before cutoff; the archiver calls
// it once a month has been uploaded.
func (s *AttemptStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM execution_attempts WHERE finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete attempts before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanAttempts(rows pgx.Rows) ([]domain.ExecutionAttempt, error) {
	defer rows.Close()
	var out []domain.ExecutionAttempt
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		var a domain.ExecutionAttempt
		if err := json.Unmarshal(body, &a); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: attempt rows: %w", err)
	}
	return out, nil
}

var _ domain.AttemptStore = (*AttemptStore)(nil)
