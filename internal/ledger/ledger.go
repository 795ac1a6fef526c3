// Package ledger is the append-only record of execution attempts and the
// source of profit statistics.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Summary aggregates attempts over a window.
type Summary struct {
	Window       time.Duration      `json:"window"`
	Since        time.Time          `json:"since,omitempty"`
	Until        time.Time          `json:"until"`
	TotalProfit  float64            `json:"total_profit"`
	Trades       int                `json:"trades"` // successes + failures
	Successes    int                `json:"successes"`
	Failures     int                `json:"failures"`
	Aborts       int                `json:"aborts"`
	SuccessRate  float64            `json:"success_rate"` // percent of trades
	AvgExecution time.Duration      `json:"avg_execution"`
	BestProfit   float64            `json:"best_profit"`
	WorstProfit  float64            `json:"worst_profit"`
	ProfitByPair map[string]float64 `json:"profit_by_pair,omitempty"`
}

// Ledger appends attempts to a store and summarizes them.
type Ledger struct {
	store  domain.AttemptStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger over store.
func New(store domain.AttemptStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With(slog.String("component", "ledger")),
		now:    time.Now,
	}
}

// Append records a finalized attempt. Appending an ID that already exists is
// a no-op and reports false.
func (l *Ledger) Append(ctx context.Context, a domain.ExecutionAttempt) (bool, error) {
	if a.ID == "" {
		return false, fmt.Errorf("ledger: append: attempt has no id")
	}
	if a.Outcome == "" {
		return false, fmt.Errorf("ledger: append %s: %w: attempt not finalized", a.ID, domain.ErrInvalidState)
	}
	inserted, err := l.store.Insert(ctx, a)
	if err != nil {
		return false, fmt.Errorf("ledger: append %s: %w", a.ID, err)
	}
	if !inserted {
		l.logger.Debug("duplicate attempt ignored", slog.String("attempt_id", a.ID))
	}
	return inserted, nil
}

// Get returns one attempt by ID.
func (l *Ledger) Get(ctx context.Context, id string) (domain.ExecutionAttempt, error) {
	a, err := l.store.GetByID(ctx, id)
	if err != nil {
		return domain.ExecutionAttempt{}, fmt.Errorf("ledger: get %s: %w", id, err)
	}
	return a, nil
}

// Recent returns the newest attempts first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.ExecutionAttempt, error) {
	out, err := l.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	return out, nil
}

// Summarize aggregates attempts finished within the trailing window. A zero
// window covers the whole ledger.
func (l *Ledger) Summarize(ctx context.Context, window time.Duration) (Summary, error) {
	until := l.now()
	var since time.Time
	if window > 0 {
		since = until.Add(-window)
	}
	attempts, err := l.store.ListRange(ctx, since, until.Add(time.Nanosecond))
	if err != nil {
		return Summary{}, fmt.Errorf("ledger: summarize: %w", err)
	}
	s := Summarize(attempts)
	s.Window = window
	s.Since = since
	s.Until = until
	return s, nil
}

// Summarize folds attempts into a Summary.
func Summarize(attempts []domain.ExecutionAttempt) Summary {
	var (
		s       Summary
		elapsed time.Duration
		timed   int
	)
	for _, a := range attempts {
		switch a.Outcome {
		case domain.OutcomeSuccess:
			s.Successes++
		case domain.OutcomeFailed:
			s.Failures++
		case domain.OutcomeAborted:
			s.Aborts++
			continue
		}
		if s.Trades == 0 || a.RealizedProfit > s.BestProfit {
			s.BestProfit = a.RealizedProfit
		}
		if s.Trades == 0 || a.RealizedProfit < s.WorstProfit {
			s.WorstProfit = a.RealizedProfit
		}
		s.Trades++
		s.TotalProfit += a.RealizedProfit
		if s.ProfitByPair == nil {
			s.ProfitByPair = make(map[string]float64)
		}
		s.ProfitByPair[a.Opportunity.Pair.String()] += a.RealizedProfit
		if d := a.Duration(); d > 0 {
			elapsed += d
			timed++
		}
	}
	if s.Trades > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.Trades) * 100
	}
	if timed > 0 {
		s.AvgExecution = elapsed / time.Duration(timed)
	}
	return s
}
