package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func attempt(id string, outcome domain.Outcome, profit float64, finished time.Time) domain.ExecutionAttempt {
	return domain.ExecutionAttempt{
		ID:             id,
		Opportunity:    domain.Opportunity{Pair: domain.NewTokenPair("SOL", "USDC")},
		Outcome:        outcome,
		RealizedProfit: profit,
		StartedAt:      finished.Add(-200 * time.Millisecond),
		FinishedAt:     finished,
	}
}

func newLedger() *Ledger {
	l := New(NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.now = func() time.Time { return t0 }
	return l
}

func TestAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	a := attempt("a1", domain.OutcomeSuccess, 1.5, t0)

	ok, err := l.Append(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Append(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)

	s, err := l.Summarize(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Trades)
	assert.InDelta(t, 1.5, s.TotalProfit, 1e-9)
}

func TestAppendConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	a := attempt("dup", domain.OutcomeSuccess, 2, t0)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Append(ctx, a)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
}

func TestAppendRejectsUnfinalized(t *testing.T) {
	_, err := newLedger().Append(context.Background(), domain.ExecutionAttempt{ID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSummarizeWindow(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	for _, a := range []domain.ExecutionAttempt{
		attempt("old", domain.OutcomeSuccess, 10, t0.Add(-48*time.Hour)),
		attempt("s1", domain.OutcomeSuccess, 3, t0.Add(-time.Hour)),
		attempt("s2", domain.OutcomeSuccess, 1, t0.Add(-30*time.Minute)),
		attempt("f1", domain.OutcomeFailed, -0.5, t0.Add(-10*time.Minute)),
		attempt("ab", domain.OutcomeAborted, 0, t0.Add(-5*time.Minute)),
	} {
		_, err := l.Append(ctx, a)
		require.NoError(t, err)
	}

	s, err := l.Summarize(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 2, s.Successes)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 1, s.Aborts)
	assert.InDelta(t, 3.5, s.TotalProfit, 1e-9)
	assert.InDelta(t, 66.666, s.SuccessRate, 0.01)
	assert.Equal(t, 200*time.Millisecond, s.AvgExecution)
	assert.Equal(t, 3.0, s.BestProfit)
	assert.Equal(t, -0.5, s.WorstProfit)
	assert.InDelta(t, 3.5, s.ProfitByPair["SOL/USDC"], 1e-9)

	all, err := l.Summarize(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, all.Trades)

	// Pure read: a second call sees the same numbers.
	again, err := l.Summarize(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func TestRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	for i, id := range []string{"a", "b", "c"} {
		_, err := l.Append(ctx, attempt(id, domain.OutcomeSuccess, 1, t0.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	recent, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)

	_, err = l.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
