package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/flashloan"
	"github.com/alanyoungcy/flasharb/internal/ledger"
	"github.com/alanyoungcy/flasharb/internal/risk"
)

var (
	solUSDC = domain.NewTokenPair("SOL", "USDC")
	ethUSDC = domain.NewTokenPair("ETH", "USDC")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// board is a QuoteLookup backed by a map.
type board struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

func newBoard() *board { return &board{quotes: make(map[string]domain.Quote)} }

func (b *board) set(exchange string, pair domain.TokenPair, price float64) {
	b.mu.Lock()
	b.quotes[exchange+"|"+pair.String()] = domain.Quote{
		Exchange: exchange, Pair: pair, Bid: price, Ask: price, Timestamp: time.Now(),
	}
	b.mu.Unlock()
}

func (b *board) drop(exchange string, pair domain.TokenPair) {
	b.mu.Lock()
	delete(b.quotes, exchange+"|"+pair.String())
	b.mu.Unlock()
}

func (b *board) Quote(exchange string, pair domain.TokenPair) (domain.Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[exchange+"|"+pair.String()]
	return q, ok
}

type eventLog struct {
	mu    sync.Mutex
	kinds []domain.EventKind
	skips []string
}

func (e *eventLog) Publish(kind domain.EventKind, _ string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, kind)
	if s, ok := payload.(domain.SkippedOpportunity); ok {
		e.skips = append(e.skips, s.Reason)
	}
}

func (e *eventLog) skipped() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.skips...)
}

type harness struct {
	quotes *board
	risk   *risk.Controller
	ledger *ledger.Ledger
	paper  *PaperSubmitter
	events *eventLog
	coord  *Coordinator
}

func params(t *testing.T, flash bool) arbitrage.Params {
	t.Helper()
	book, err := flashloan.NewBook(flashloan.Solend, 0, 1_000_000)
	require.NoError(t, err)
	return arbitrage.Params{
		MinProfitPct:      0.5,
		SlippageTolerance: 0.5,
		TradingFeePct:     0.1,
		NetworkFee:        0.01,
		RequestedSize:     100,
		UseFlashLoans:     flash,
		Loans:             book,
		Staleness:         3 * time.Second,
	}
}

func newHarness(t *testing.T, submitter domain.Submitter, flash bool) *harness {
	t.Helper()
	h := &harness{quotes: newBoard(), events: &eventLog{}}
	rc, err := risk.NewController(risk.Config{
		Level:               domain.RiskModerate,
		BaseCapital:         1000,
		MaxPositionSize:     100,
		MinTradeSize:        1,
		MaxConcurrentTrades: 2,
		MaxDailyLoss:        50,
		MaxTradesPerDay:     1000,
		FailureThreshold:    3,
		RecoverySuccesses:   3,
		ThrottleMultiplier:  0.5,
	}, h.events, testLogger())
	require.NoError(t, err)
	h.risk = rc
	h.ledger = ledger.New(ledger.NewMemoryStore(), testLogger())
	h.paper = NewPaperSubmitter(h.quotes, 0.1, 0.01, testLogger())
	if submitter == nil {
		submitter = h.paper
	}
	h.coord = NewCoordinator(Config{
		Workers:             2,
		MaxAttempts:         3,
		RetryBackoff:        time.Millisecond,
		ConfirmationTimeout: time.Second,
		Params:              params(t, flash),
	}, Deps{
		Risk:      h.risk,
		Quotes:    h.quotes,
		Submitter: submitter,
		Ledger:    h.ledger,
		Events:    h.events,
	}, testLogger())
	return h
}

func (h *harness) opportunity(t *testing.T, pair domain.TokenPair) domain.Opportunity {
	t.Helper()
	buy, ok := h.quotes.Quote("DEX1", pair)
	require.True(t, ok)
	sell, ok := h.quotes.Quote("DEX2", pair)
	require.True(t, ok)
	opp, ok := arbitrage.Detect([]domain.Quote{buy, sell}, h.coord.cfg.Params)
	require.True(t, ok)
	opp.ID = "opp-" + pair.String()
	return opp
}

func TestExecuteFlashLoanRoundTrip(t *testing.T) {
	h := newHarness(t, nil, true)
	h.quotes.set("DEX1", solUSDC, 22.50)
	h.quotes.set("DEX2", solUSDC, 22.75)

	a, ok := h.coord.Execute(context.Background(), h.opportunity(t, solUSDC))
	require.True(t, ok)
	require.Equal(t, domain.OutcomeSuccess, a.Outcome, a.Error)

	kinds := make([]domain.StepKind, len(a.Steps))
	for i, st := range a.Steps {
		kinds[i] = st.Kind
	}
	assert.Equal(t, []domain.StepKind{domain.StepBorrow, domain.StepSwap, domain.StepSwap, domain.StepRepay}, kinds)
	assert.Equal(t, "DEX1", a.Steps[1].Exchange)
	assert.Equal(t, "DEX2", a.Steps[2].Exchange)
	assert.InDelta(t, 100.3, a.Steps[3].AmountIn, 1e-9)
	assert.Equal(t, flashloan.Solend, a.LoanProvider)
	assert.Positive(t, a.RealizedProfit)
	assert.NotEmpty(t, a.TxID)

	// Loan fully repaid: the only quote-token change is the profit.
	bal := h.paper.Balances()
	assert.Positive(t, bal["USDC"])

	state := h.risk.State()
	assert.Zero(t, state.Exposure)
	assert.Equal(t, 1, state.TradesToday)

	sum, err := h.ledger.Summarize(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Successes)
	assert.Contains(t, h.events.kinds, domain.EventExecutionAttempt)
}

func TestExecuteOwnCapitalOmitsLoanSteps(t *testing.T) {
	h := newHarness(t, nil, false)
	h.quotes.set("DEX1", solUSDC, 22.50)
	h.quotes.set("DEX2", solUSDC, 22.75)

	a, ok := h.coord.Execute(context.Background(), h.opportunity(t, solUSDC))
	require.True(t, ok)
	require.Equal(t, domain.OutcomeSuccess, a.Outcome, a.Error)
	require.Len(t, a.Steps, 2)
	assert.Empty(t, a.LoanProvider)
	assert.Positive(t, a.RealizedProfit)
}

func TestExecuteAbortsWhenSpreadCloses(t *testing.T) {
	h := newHarness(t, nil, true)
	h.quotes.set("DEX1", solUSDC, 22.50)
	h.quotes.set("DEX2", solUSDC, 22.75)
	opp := h.opportunity(t, solUSDC)

	h.quotes.set("DEX2", solUSDC, 22.51)
	a, ok := h.coord.Execute(context.Background(), opp)
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeAborted, a.Outcome)
	assert.Contains(t, a.Error, domain.ErrStaleOpportunity.Error())
	assert.Zero(t, a.Submissions)

	// Aborts are not failures.
	state := h.risk.State()
	assert.Zero(t, state.ConsecutiveFailures)
	assert.Zero(t, state.Exposure)
	assert.Empty(t, h.paper.Balances())
}

func TestExecuteAbortsOnVanishedQuote(t *testing.T) {
	h := newHarness(t, nil, true)
	h.quotes.set("DEX1", solUSDC, 22.50)
	h.quotes.set("DEX2", solUSDC, 22.75)
	opp := h.opportunity(t, solUSDC)

	h.quotes.drop("DEX1", solUSDC)
	a, ok := h.coord.Execute(context.Background(), opp)
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeAborted, a.Outcome)
	assert.Contains(t, a.Error, domain.ErrStaleQuote.Error())
}

func TestExecuteSkipsWhenHalted(t *testing.T) {
	h := newHarness(t, nil, true)
	h.quotes.set("DEX1", solUSDC, 22.50)
	h.quotes.set("DEX2", solUSDC, 22.75)
	h.risk.Halt("test")

	_, ok := h.coord.Execute(context.Background(), h.opportunity(t, solUSDC))
	assert.False(t, ok)
	assert.Equal(t, []string{"halted"}, h.events.skipped())

	sum, err := h.ledger.Summarize(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, sum.Trades+sum.Aborts)
}

type scriptedSubmitter struct {
	errs  []error
	calls atomic.Int32
}

func (s *scriptedSubmitter) Submit(ctx context.Context, _ domain.Unit) (domain.Receipt, error) {
	n := int(s.calls.Add(1))
	if n <= len(s.errs) && s.errs[n-1] != nil {
		return domain.Receipt{}, s.errs[n-1]
	}
	return domain.Receipt{Confirmed: true, TxID: fmt.Sprintf("tx-%d", n), Profit: 0.5}, nil
}

func TestSubmitRetriesTransient(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{
		fmt.Errorf("relay: %w", domain.ErrTransientSubmit),
		fmt.Errorf("relay: %w", domain.ErrTransientSubmit),
	}}
	h := newHarness(t, sub, true)
	h.quotes.set("DEX1", solUSDC, 22.50)
	h.quotes.set("DEX2", solUSDC, 22.75)

	a, ok := h.coord.Execute(context.Background(), h.opportunity(t, solUSDC))
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeSuccess, a.Outcome)
	assert.Equal(t, 3, a.Submissions)
	assert.Equal(t, "tx-3", a.TxID)
}

func TestSubmitDoesNotRetryStateChanged(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{fmt.Errorf("relay: %w", domain.ErrStateChanged)}}
	h := newHarness(t, sub, true)
	h.quotes.set("DEX1", solUSDC, 22.50)
	h.quotes.set("DEX2", solUSDC, 22.75)

	a, ok := h.coord.Execute(context.Background(), h.opportunity(t, solUSDC))
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeFailed, a.Outcome)
	assert.Equal(t, 1, a.Submissions)
	assert.Equal(t, 1, h.risk.State().ConsecutiveFailures)
}

// haltingSubmitter halts the risk controller and fails transiently, the
// way a concurrent daily-loss breach lands mid-retry.
type haltingSubmitter struct {
	risk  *risk.Controller
	calls atomic.Int32
}

func (s *haltingSubmitter) Submit(context.Context, domain.Unit) (domain.Receipt, error) {
	if s.calls.Add(1) == 1 {
		s.risk.Halt("operator")
		return domain.Receipt{}, fmt.Errorf("relay: %w", domain.ErrTransientSubmit)
	}
	return domain.Receipt{Confirmed: true, TxID: "tx-late", Profit: 0.5}, nil
}

func TestSubmitStopsRetryingOnceHalted(t *testing.T) {
	sub := &haltingSubmitter{}
	h := newHarness(t, sub, true)
	sub.risk = h.risk
	h.quotes.set("DEX1", solUSDC, 22.50)
	h.quotes.set("DEX2", solUSDC, 22.75)

	a, ok := h.coord.Execute(context.Background(), h.opportunity(t, solUSDC))
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeAborted, a.Outcome)
	assert.Equal(t, 1, a.Submissions)
	assert.Equal(t, int32(1), sub.calls.Load())
	assert.Contains(t, a.Error, domain.ErrHalted.Error())
	assert.Empty(t, a.TxID)
	assert.Zero(t, h.risk.State().Exposure)
}

func TestRevalidateAgreesWithDetectorAtThreshold(t *testing.T) {
	h := newHarness(t, nil, false)
	h.coord.cfg.Params.SlippageTolerance = 0
	h.quotes.set("DEX1", solUSDC, 100)
	h.quotes.set("DEX2", solUSDC, 100.5)
	opp := h.opportunity(t, solUSDC)

	_, _, err := h.coord.revalidate(opp, opp.PositionSize)
	require.NoError(t, err)
}

type hangingSubmitter struct{}

func (hangingSubmitter) Submit(ctx context.Context, _ domain.Unit) (domain.Receipt, error) {
	<-ctx.Done()
	return domain.Receipt{}, ctx.Err()
}

func TestConfirmationTimeoutRecordsFailure(t *testing.T) {
	h := newHarness(t, hangingSubmitter{}, true)
	h.coord.cfg.ConfirmationTimeout = 30 * time.Millisecond
	h.quotes.set("DEX1", solUSDC, 22.50)
	h.quotes.set("DEX2", solUSDC, 22.75)

	a, ok := h.coord.Execute(context.Background(), h.opportunity(t, solUSDC))
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeFailed, a.Outcome)
	assert.Contains(t, a.Error, domain.ErrConfirmationTimeout.Error())
	assert.Zero(t, h.risk.State().Exposure)
}

func TestPaperSubmitterIsAllOrNothing(t *testing.T) {
	quotes := newBoard()
	quotes.set("DEX1", solUSDC, 22.50)
	quotes.set("DEX2", solUSDC, 22.75)
	paper := NewPaperSubmitter(quotes, 0.1, 0.01, testLogger())

	opp := domain.Opportunity{Pair: solUSDC, BuyExchange: "DEX1", SellExchange: "DEX2", BuyPrice: 22.50, SellPrice: 22.75}
	loan := &flashloan.LoanQuote{Provider: flashloan.Solend, Amount: 100, FeePct: 0.3, Fee: 0.3}
	unit := BuildUnit("u-1", opp, 100, loan, UnitParams{SlippageTolerance: 0.5, TradingFeePct: 0.1})
	unit.Steps[2].MinAmountOut = 1000 // sell leg cannot meet this

	r, err := paper.Submit(context.Background(), unit)
	require.NoError(t, err)
	assert.False(t, r.Confirmed)
	assert.Contains(t, r.Reason, "below minimum")

	// The rejected unit reverted whole: no step and no fee moved a balance.
	assert.Zero(t, r.Profit)
	assert.Empty(t, paper.Balances())

	// Resubmitting the same ID is idempotent.
	again, err := paper.Submit(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, r, again)
	assert.Empty(t, paper.Balances())
}

func TestPaperSubmitterMissingQuoteIsStateChange(t *testing.T) {
	paper := NewPaperSubmitter(newBoard(), 0.1, 0.01, testLogger())
	opp := domain.Opportunity{Pair: solUSDC, BuyExchange: "DEX1", SellExchange: "DEX2", BuyPrice: 22.50, SellPrice: 22.75}
	_, err := paper.Submit(context.Background(), BuildUnit("u-2", opp, 100, nil, UnitParams{}))
	assert.True(t, errors.Is(err, domain.ErrStateChanged))
}

// slowSubmitter tracks in-flight units per pair.
type slowSubmitter struct {
	inner    domain.Submitter
	mu       sync.Mutex
	inflight map[domain.TokenPair]int
	maxPair  int
	total    int
	maxTotal int
}

func (s *slowSubmitter) Submit(ctx context.Context, unit domain.Unit) (domain.Receipt, error) {
	s.mu.Lock()
	s.inflight[unit.Pair]++
	s.total++
	if s.inflight[unit.Pair] > s.maxPair {
		s.maxPair = s.inflight[unit.Pair]
	}
	if s.total > s.maxTotal {
		s.maxTotal = s.total
	}
	s.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	r, err := s.inner.Submit(ctx, unit)

	s.mu.Lock()
	s.inflight[unit.Pair]--
	s.total--
	s.mu.Unlock()
	return r, err
}

func TestRunSerializesPairsAndBoundsExposure(t *testing.T) {
	slow := &slowSubmitter{inflight: make(map[domain.TokenPair]int)}
	h := newHarness(t, slow, true)
	slow.inner = h.paper
	for _, pair := range []domain.TokenPair{solUSDC, ethUSDC} {
		h.quotes.set("DEX1", pair, 22.50)
		h.quotes.set("DEX2", pair, 22.75)
	}
	opps := []domain.Opportunity{h.opportunity(t, solUSDC), h.opportunity(t, ethUSDC)}

	in := make(chan domain.Opportunity)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx, in) }()

	for i := 0; i < 40; i++ {
		in <- opps[i%2]
		time.Sleep(time.Millisecond)
	}
	close(in)
	require.NoError(t, <-done)
	cancel()

	assert.Equal(t, 1, slow.maxPair, "at most one in-flight attempt per pair")
	assert.LessOrEqual(t, slow.maxTotal, 2)
	assert.Zero(t, h.risk.State().Exposure)
	assert.Contains(t, h.events.skipped(), "pair_busy")
}

type closedGate struct{}

func (closedGate) Accepting() bool { return false }

func TestRunDropsWhilePaused(t *testing.T) {
	h := newHarness(t, nil, true)
	h.coord.deps.Gate = closedGate{}
	h.quotes.set("DEX1", solUSDC, 22.50)
	h.quotes.set("DEX2", solUSDC, 22.75)

	in := make(chan domain.Opportunity, 1)
	in <- h.opportunity(t, solUSDC)
	close(in)
	require.NoError(t, h.coord.Run(context.Background(), in))
	assert.Equal(t, []string{"paused"}, h.events.skipped())
}

func TestRunRetriesRouteSkippedByRisk(t *testing.T) {
	h := newHarness(t, nil, true)
	h.coord.cfg.DedupTTL = time.Minute
	h.coord.dedup = NewDedup(time.Minute)
	h.quotes.set("DEX1", solUSDC, 22.50)
	h.quotes.set("DEX2", solUSDC, 22.75)
	opp := h.opportunity(t, solUSDC)
	h.risk.Halt("maintenance")

	in := make(chan domain.Opportunity)
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(context.Background(), in) }()

	in <- opp
	require.Eventually(t, func() bool { return len(h.events.skipped()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.coord.dedup.Seen(opp))
	require.Eventually(t, func() bool {
		unlock, err := h.coord.deps.Locks.TryLock(context.Background(), solUSDC)
		if err != nil {
			return false
		}
		unlock()
		return true
	}, time.Second, 5*time.Millisecond)

	// The same route is taken once trading resumes, then remembered.
	h.risk.Reset()
	in <- opp
	require.Eventually(t, func() bool { return h.coord.dedup.Seen(opp) }, time.Second, 5*time.Millisecond)
	in <- opp
	close(in)
	require.NoError(t, <-done)

	sum, err := h.ledger.Summarize(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Successes)
	assert.Equal(t, []string{"halted"}, h.events.skipped())
}

func TestDedupByRouteAndPrice(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Unix(1700000000, 0)
	d.now = func() time.Time { return now }

	opp := domain.Opportunity{Pair: solUSDC, BuyExchange: "A", SellExchange: "B", BuyPrice: 22.5, SellPrice: 22.75}
	assert.False(t, d.Seen(opp))
	d.Mark(opp)
	assert.True(t, d.Seen(opp))

	moved := opp
	moved.SellPrice = 22.80
	assert.False(t, d.Seen(moved))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.False(t, d.Seen(opp))
}

func TestMemoryLocks(t *testing.T) {
	locks := NewMemoryLocks()
	unlock, err := locks.TryLock(context.Background(), solUSDC)
	require.NoError(t, err)

	_, err = locks.TryLock(context.Background(), solUSDC)
	assert.ErrorIs(t, err, domain.ErrPairBusy)

	other, err := locks.TryLock(context.Background(), ethUSDC)
	require.NoError(t, err)
	other()

	unlock()
	unlock() // idempotent
	assert.False(t, locks.Held(solUSDC))
}
