// Package executor turns opportunities into atomic borrow-swap-swap-repay
// units, submits them and records the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/flashloan"
	"github.com/alanyoungcy/flasharb/internal/metrics"
	"github.com/alanyoungcy/flasharb/internal/profit"
)

// RiskGate is the coordinator's view of the risk controller.
type RiskGate interface {
	SizePosition(opp domain.Opportunity) (float64, error)
	Reserve(pair domain.TokenPair, amount float64) error
	Release(pair domain.TokenPair, amount float64)
	RecordOutcome(a domain.ExecutionAttempt)
	Mode() domain.RiskMode
}

// AttemptRecorder persists finalized attempts.
type AttemptRecorder interface {
	Append(ctx context.Context, a domain.ExecutionAttempt) (bool, error)
}

// ProfitSink receives realized profit of successful attempts.
type ProfitSink interface {
	Distribute(amount float64) profit.Split
}

// Gate tells the coordinator whether new opportunities may be taken, e.g.
// false while the bot is paused.
type Gate interface {
	Accepting() bool
}

// Config holds the coordinator tunables.
type Config struct {
	Workers             int
	MaxAttempts         int
	RetryBackoff        time.Duration
	ConfirmationTimeout time.Duration
	DedupTTL            time.Duration
	Params              arbitrage.Params
}

// Deps are the coordinator's collaborators. Events, Profit and Gate are
// optional.
type Deps struct {
	Risk      RiskGate
	Quotes    domain.QuoteLookup
	Submitter domain.Submitter
	Ledger    AttemptRecorder
	Locks     PairLocker
	Events    domain.EventPublisher
	Profit    ProfitSink
	Gate      Gate
}

// Coordinator reads opportunities, serializes them per pair and runs them
// on a bounded pool.
type Coordinator struct {
	cfg    Config
	deps   Deps
	dedup  *Dedup
	now    func() time.Time
	logger *slog.Logger

	cleanupInterval time.Duration
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config, deps Deps, logger *slog.Logger) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if deps.Locks == nil {
		deps.Locks = NewMemoryLocks()
	}
	return &Coordinator{
		cfg:             cfg,
		deps:            deps,
		dedup:           NewDedup(cfg.DedupTTL),
		now:             time.Now,
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// Run consumes opportunities until ctx is cancelled or in is closed, then
// waits for in-flight attempts to finish.
func (c *Coordinator) Run(ctx context.Context, in <-chan domain.Opportunity) error {
	c.logger.Info("coordinator started", slog.Int("workers", c.cfg.Workers))
	defer c.logger.Info("coordinator stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	cleanup := time.NewTicker(c.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case opp, ok := <-in:
			if !ok {
				return g.Wait()
			}
			c.dispatch(gctx, g, opp)
		case <-cleanup.C:
			c.dedup.Cleanup()
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, g *errgroup.Group, opp domain.Opportunity) {
	if c.deps.Gate != nil && !c.deps.Gate.Accepting() {
		c.skip(opp, "paused")
		return
	}
	if c.cfg.DedupTTL > 0 && c.dedup.Seen(opp) {
		c.logger.Debug("opportunity deduplicated", slog.String("route", opp.Route()))
		return
	}
	unlock, err := c.deps.Locks.TryLock(ctx, opp.Pair)
	if err != nil {
		if !errors.Is(err, domain.ErrPairBusy) {
			c.logger.Warn("pair lock failed", slog.String("pair", opp.Pair.String()), slog.String("error", err.Error()))
		}
		c.skip(opp, "pair_busy")
		return
	}
	g.Go(func() error {
		defer unlock()
		// Only a route that became an attempt is remembered; a sighting
		// skipped for risk or exposure may be retried on the next tick.
		if _, attempted := c.Execute(ctx, opp); attempted && c.cfg.DedupTTL > 0 {
			c.dedup.Mark(opp)
		}
		return nil
	})
}

// Execute runs one opportunity end to end. It returns the finalized attempt
// and true, or false if the opportunity was skipped before an attempt was
// created. The caller must hold the pair lock.
func (c *Coordinator) Execute(ctx context.Context, opp domain.Opportunity) (domain.ExecutionAttempt, bool) {
	log := c.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("route", opp.Route()),
	)

	size, err := c.deps.Risk.SizePosition(opp)
	if err != nil {
		reason := "risk_rejected"
		if errors.Is(err, domain.ErrHalted) {
			reason = "halted"
		}
		log.Debug("opportunity rejected by risk", slog.String("error", err.Error()))
		c.skip(opp, reason)
		return domain.ExecutionAttempt{}, false
	}
	if err := c.deps.Risk.Reserve(opp.Pair, size); err != nil {
		log.Debug("exposure reservation failed", slog.String("error", err.Error()))
		c.skip(opp, "exposure_limit")
		return domain.ExecutionAttempt{}, false
	}
	defer c.deps.Risk.Release(opp.Pair, size)

	a := domain.ExecutionAttempt{
		ID:          uuid.NewString(),
		Opportunity: opp,
		StartedAt:   c.now(),
	}
	log = log.With(slog.String("attempt_id", a.ID))

	fresh, loan, err := c.revalidate(opp, size)
	switch {
	case err != nil:
		c.finish(ctx, &a, domain.OutcomeAborted, err, log)
		return a, true
	case c.deps.Risk.Mode() == domain.RiskHalted:
		c.finish(ctx, &a, domain.OutcomeAborted, domain.ErrHalted, log)
		return a, true
	}
	a.Opportunity = fresh
	if loan != nil {
		a.LoanAmount = loan.Amount
		a.LoanProvider = loan.Provider
		a.LoanFee = loan.Fee
	}

	unit := BuildUnit(a.ID, fresh, size, loan, UnitParams{
		SlippageTolerance: c.cfg.Params.SlippageTolerance,
		TradingFeePct:     c.cfg.Params.TradingFeePct,
		Deadline:          c.now().Add(c.cfg.ConfirmationTimeout),
	})
	a.Steps = unit.Steps

	// Once submitted the unit is awaited even if the bot is shutting down.
	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ConfirmationTimeout)
	defer cancel()

	receipt, err := c.submit(subCtx, unit, &a, log)
	switch {
	case errors.Is(err, domain.ErrHalted):
		c.finish(ctx, &a, domain.OutcomeAborted, err, log)
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrConfirmationTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrConfirmationTimeout, err)
		}
		c.finish(ctx, &a, domain.OutcomeFailed, err, log)
	case !receipt.Confirmed:
		a.RealizedProfit = receipt.Profit
		c.finish(ctx, &a, domain.OutcomeFailed, fmt.Errorf("unit rejected: %s", receipt.Reason), log)
	default:
		a.TxID = receipt.TxID
		a.RealizedProfit = receipt.Profit
		c.finish(ctx, &a, domain.OutcomeSuccess, nil, log)
	}
	return a, true
}

// revalidate re-reads both legs and recomputes the economics at the sized
// amount. A vanished quote or a spread that no longer pays aborts.
func (c *Coordinator) revalidate(opp domain.Opportunity, size float64) (domain.Opportunity, *flashloan.LoanQuote, error) {
	now := c.now()
	if !opp.ExpiresAt.IsZero() && opp.Expired(now) {
		return opp, nil, fmt.Errorf("%w: expired at %s", domain.ErrStaleOpportunity, opp.ExpiresAt.Format(time.RFC3339Nano))
	}
	buy, ok := c.deps.Quotes.Quote(opp.BuyExchange, opp.Pair)
	if !ok {
		return opp, nil, fmt.Errorf("%w: %s", domain.ErrStaleQuote, opp.BuyExchange)
	}
	sell, ok := c.deps.Quotes.Quote(opp.SellExchange, opp.Pair)
	if !ok {
		return opp, nil, fmt.Errorf("%w: %s", domain.ErrStaleQuote, opp.SellExchange)
	}

	p := c.cfg.Params
	spread := arbitrage.GrossSpread(buy.Ask, sell.Bid)
	fees, provider, err := arbitrage.EstimateFees(size, p)
	if err != nil {
		return opp, nil, fmt.Errorf("%w: %v", domain.ErrStaleOpportunity, err)
	}
	net := arbitrage.NetProfit(size, spread, fees)
	if !arbitrage.ClearsMinSpread(spread, p) || net <= 0 {
		return opp, nil, fmt.Errorf("%w: spread %.4f%% net %.6f", domain.ErrStaleOpportunity, spread*100, net)
	}

	fresh := opp
	fresh.BuyPrice = buy.Ask
	fresh.SellPrice = sell.Bid
	fresh.GrossSpreadPct = spread * 100
	fresh.Fees = fees
	fresh.NetProfit = net
	fresh.PositionSize = size
	fresh.LoanProvider = provider

	if !p.UseFlashLoans || p.Loans == nil {
		return fresh, nil, nil
	}
	lq, err := p.Loans.Quote(size)
	if err != nil {
		return opp, nil, fmt.Errorf("%w: %v", domain.ErrStaleOpportunity, err)
	}
	return fresh, &lq, nil
}

// submit retries transient failures with exponential backoff. It stops
// resubmitting as soon as the risk controller halts.
func (c *Coordinator) submit(ctx context.Context, unit domain.Unit, a *domain.ExecutionAttempt, log *slog.Logger) (domain.Receipt, error) {
	var lastErr error
	for i := 1; i <= c.cfg.MaxAttempts; i++ {
		a.Submissions = i
		receipt, err := c.deps.Submitter.Submit(ctx, unit)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrTransientSubmit) || i == c.cfg.MaxAttempts {
			break
		}
		if c.deps.Risk.Mode() == domain.RiskHalted {
			return domain.Receipt{}, fmt.Errorf("%w: no resubmission after %v", domain.ErrHalted, err)
		}

		wait := c.cfg.RetryBackoff << (i - 1)
		log.Warn("transient submit failure, retrying",
			slog.Int("submission", i),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return domain.Receipt{}, fmt.Errorf("%w: %v", domain.ErrConfirmationTimeout, ctx.Err())
		case <-time.After(wait):
		}
	}
	return domain.Receipt{}, lastErr
}

// finish stamps and records the attempt. Exposure is released by the
// caller.
func (c *Coordinator) finish(ctx context.Context, a *domain.ExecutionAttempt, outcome domain.Outcome, err error, log *slog.Logger) {
	a.Outcome = outcome
	a.FinishedAt = c.now()
	if err != nil {
		a.Error = err.Error()
	}

	// Recording must survive shutdown.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, lerr := c.deps.Ledger.Append(recCtx, *a); lerr != nil {
		log.Error("ledger append failed", slog.String("error", lerr.Error()))
	}
	c.deps.Risk.RecordOutcome(*a)
	if outcome == domain.OutcomeSuccess && c.deps.Profit != nil {
		c.deps.Profit.Distribute(a.RealizedProfit)
	}

	metrics.Attempts.WithLabelValues(string(outcome)).Inc()
	metrics.ExecutionSeconds.Observe(a.Duration().Seconds())
	if c.deps.Events != nil {
		c.deps.Events.Publish(domain.EventExecutionAttempt, a.ID, *a)
	}

	attrs := []any{
		slog.String("outcome", string(outcome)),
		slog.Float64("profit", a.RealizedProfit),
		slog.Int("submissions", a.Submissions),
		slog.Duration("elapsed", a.Duration()),
	}
	switch outcome {
	case domain.OutcomeSuccess:
		log.Info("attempt settled", append(attrs, slog.String("tx_id", a.TxID))...)
	case domain.OutcomeFailed:
		log.Warn("attempt failed", append(attrs, slog.String("error", a.Error))...)
	default:
		log.Debug("attempt aborted", append(attrs, slog.String("error", a.Error))...)
	}
}

func (c *Coordinator) skip(opp domain.Opportunity, reason string) {
	metrics.Skipped.WithLabelValues(reason).Inc()
	if c.deps.Events != nil {
		c.deps.Events.Publish(domain.EventOpportunitySkipped, opp.Pair.String(), domain.SkippedOpportunity{
			Opportunity: opp,
			Reason:      reason,
		})
	}
}
