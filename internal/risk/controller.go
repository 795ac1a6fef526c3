// Package risk owns the bot's risk state: position sizing, the global
// exposure budget and the NORMAL/THROTTLED/HALTED state machine.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// Config holds the controller parameters after presets have been applied.
type Config struct {
	Level               domain.RiskLevel
	BaseCapital         float64
	MaxPositionSize     float64
	MinTradeSize        float64
	MaxConcurrentTrades int
	MaxDailyLoss        float64
	MaxTradesPerDay     int
	UseCircuitBreakers  bool
	FailureThreshold    int
	RecoverySuccesses   int
	ThrottleMultiplier  float64
	HaltCooldown        time.Duration
}

func (c Config) validate() error {
	switch {
	case c.MaxPositionSize <= 0:
		return fmt.Errorf("%w: max position size must be > 0", domain.ErrInvalidConfig)
	case c.MinTradeSize < 0 || c.MinTradeSize > c.MaxPositionSize:
		return fmt.Errorf("%w: min trade size must be in [0, max position size]", domain.ErrInvalidConfig)
	case c.MaxConcurrentTrades < 1:
		return fmt.Errorf("%w: max concurrent trades must be >= 1", domain.ErrInvalidConfig)
	case c.MaxDailyLoss <= 0:
		return fmt.Errorf("%w: max daily loss must be > 0", domain.ErrInvalidConfig)
	case c.FailureThreshold < 1 || c.RecoverySuccesses < 1:
		return fmt.Errorf("%w: failure threshold and recovery successes must be >= 1", domain.ErrInvalidConfig)
	case c.ThrottleMultiplier <= 0 || c.ThrottleMultiplier > 1:
		return fmt.Errorf("%w: throttle multiplier must be in (0, 1]", domain.ErrInvalidConfig)
	}
	return nil
}

// scaling is the adaptive sizing bundle of a risk level.
type scaling struct {
	growth         float64 // per success
	reduction      float64 // per failure
	maxDailyGrowth float64 // ceiling on growth within one UTC day
}

var scalingByLevel = map[domain.RiskLevel]scaling{
	domain.RiskConservative: {growth: 0.01, reduction: 0.10, maxDailyGrowth: 0.05},
	domain.RiskModerate:     {growth: 0.02, reduction: 0.05, maxDailyGrowth: 0.10},
	domain.RiskAggressive:   {growth: 0.05, reduction: 0.05, maxDailyGrowth: 0.20},
	domain.RiskCustom:       {growth: 0.02, reduction: 0.05, maxDailyGrowth: 0.10},
}

const minScale = 0.5

// haltSource records what put the controller in HALTED, which decides what
// may clear it.
type haltSource int

const (
	haltNone     haltSource = iota
	haltDaily               // daily loss or trade cap; cleared by the daily reset
	haltBreaker             // consecutive failures; cleared by cooldown or Reset
	haltOperator            // explicit signal; cleared by cooldown or Reset
)

// Controller is safe for concurrent use. All state lives behind mu and is
// only ever handed out as a copy.
type Controller struct {
	cfg     Config
	scaling scaling
	// fraction of base capital allowed per trade; used when capital grows.
	perTrade float64
	events   domain.EventPublisher
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    domain.RiskState
	halt     haltSource
	dayScale float64 // scale factor at the start of the day
	byPair   map[domain.TokenPair]float64
	// positionCap is the per-trade ceiling derived from current capital. It
	// never exceeds cfg.MaxPositionSize.
	positionCap float64
}

// NewController validates cfg and returns a controller in NORMAL mode.
// Malformed parameters yield an error wrapping domain.ErrInvalidConfig.
func NewController(cfg Config, events domain.EventPublisher, logger *slog.Logger) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sc, ok := scalingByLevel[cfg.Level]
	if !ok {
		sc = scalingByLevel[domain.RiskModerate]
	}
	perTrade := 0.0
	if cfg.BaseCapital > 0 {
		perTrade = cfg.MaxPositionSize / cfg.BaseCapital
	}

	c := &Controller{
		cfg:      cfg,
		scaling:  sc,
		perTrade: perTrade,
		events:   events,
		logger:   logger.With(slog.String("component", "risk")),
		now:      time.Now,
		dayScale: 1,
		byPair:   make(map[domain.TokenPair]float64),

		positionCap: cfg.MaxPositionSize,
	}
	c.state = domain.RiskState{
		Mode:        domain.RiskNormal,
		Day:         dayOf(c.now()),
		MaxExposure: cfg.MaxPositionSize * float64(cfg.MaxConcurrentTrades),
		ScaleFactor: 1,
		BaseCapital: cfg.BaseCapital,
	}
	setModeGauge(domain.RiskNormal)
	return c, nil
}

// State returns a snapshot of the current risk state.
func (c *Controller) State() domain.RiskState {
	c.mu.Lock()
	pending := c.tickLocked(c.now())
	state := c.state
	c.mu.Unlock()
	c.publish(pending)
	return state
}

// Mode returns the current mode.
func (c *Controller) Mode() domain.RiskMode {
	return c.State().Mode
}

// MaxPositionSize is the current per-trade ceiling. It follows capital
// down and back up but never above the configured maximum.
func (c *Controller) MaxPositionSize() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionCap
}

// SizePosition returns the size to trade for opp. The requested size is
// clamped to the position ceiling, scaled by the mode multiplier and the
// adaptive factor, and rejected when it falls under the minimum trade size
// or the controller is HALTED.
func (c *Controller) SizePosition(opp domain.Opportunity) (float64, error) {
	c.mu.Lock()
	now := c.now()
	pending := c.tickLocked(now)
	size, err := c.sizeLocked(opp.PositionSize)
	c.mu.Unlock()
	c.publish(pending)
	return size, err
}

func (c *Controller) sizeLocked(requested float64) (float64, error) {
	if err := c.tradingBlockedLocked(); err != nil {
		return 0, err
	}
	if requested <= 0 {
		return 0, fmt.Errorf("%w: requested size %.4f", domain.ErrRiskRejected, requested)
	}

	size := math.Min(requested, c.positionCap)
	size *= c.state.ScaleFactor
	if c.state.Mode == domain.RiskThrottled {
		size *= c.cfg.ThrottleMultiplier
	}
	size = math.Min(size, c.positionCap)

	if size < c.cfg.MinTradeSize {
		return 0, fmt.Errorf("%w: size %.4f below minimum %.4f", domain.ErrRiskRejected, size, c.cfg.MinTradeSize)
	}
	return size, nil
}

// Reserve books amount against the global exposure budget. Reservations are
// first-come: a request that would push exposure over the ceiling fails
// with domain.ErrExposureLimit and books nothing.
func (c *Controller) Reserve(pair domain.TokenPair, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: reserve amount %.4f", domain.ErrRiskRejected, amount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tradingBlockedLocked(); err != nil {
		return err
	}
	// Tolerance keeps float rounding from rejecting an exact fit.
	if c.state.Exposure+amount > c.state.MaxExposure+1e-9 {
		return fmt.Errorf("%w: %.4f + %.4f > %.4f",
			domain.ErrExposureLimit, c.state.Exposure, amount, c.state.MaxExposure)
	}
	c.state.Exposure += amount
	c.byPair[pair] += amount
	metrics.Exposure.Set(c.state.Exposure)
	return nil
}

// tradingBlockedLocked rejects while HALTED and whenever a daily limit is
// breached, whatever currently holds the halt.
func (c *Controller) tradingBlockedLocked() error {
	if c.state.Mode == domain.RiskHalted {
		return fmt.Errorf("%w: %s", domain.ErrHalted, c.state.HaltReason)
	}
	if reason := c.dailyLimitLocked(); reason != "" {
		return fmt.Errorf("%w: %s", domain.ErrHalted, reason)
	}
	return nil
}

// dailyLimitLocked describes the breached daily limit, or returns "".
func (c *Controller) dailyLimitLocked() string {
	switch {
	case c.state.TodayProfit <= -c.cfg.MaxDailyLoss:
		return fmt.Sprintf("daily loss %.4f reached limit %.4f", -c.state.TodayProfit, c.cfg.MaxDailyLoss)
	case c.cfg.MaxTradesPerDay > 0 && c.state.TradesToday >= c.cfg.MaxTradesPerDay:
		return fmt.Sprintf("daily trade cap %d reached", c.cfg.MaxTradesPerDay)
	}
	return ""
}

// enforceDailyLocked halts on a breached daily limit. A breaker halt already
// in place is taken over so that the cooldown cannot lift it; an operator
// halt stays with the operator.
func (c *Controller) enforceDailyLocked(now time.Time) []domain.RiskTransition {
	reason := c.dailyLimitLocked()
	if reason == "" {
		return nil
	}
	if c.state.Mode != domain.RiskHalted {
		return c.haltLocked(haltDaily, reason, now)
	}
	if c.halt != haltOperator {
		c.halt = haltDaily
		c.state.HaltReason = reason
	}
	return nil
}

// Release returns a reservation to the budget.
func (c *Controller) Release(pair domain.TokenPair, amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Exposure = math.Max(0, c.state.Exposure-amount)
	if left := c.byPair[pair] - amount; left > 1e-9 {
		c.byPair[pair] = left
	} else {
		delete(c.byPair, pair)
	}
	metrics.Exposure.Set(c.state.Exposure)
}

// ExposureByPair returns the reserved amount per pair.
func (c *Controller) ExposureByPair() map[domain.TokenPair]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.TokenPair]float64, len(c.byPair))
	for k, v := range c.byPair {
		out[k] = v
	}
	return out
}

// RecordOutcome folds a finalized attempt into the daily counters and runs
// the state machine. Aborted attempts are recorded in the ledger but count
// toward neither streak nor the daily totals.
func (c *Controller) RecordOutcome(a domain.ExecutionAttempt) {
	c.mu.Lock()
	now := c.now()
	pending := c.tickLocked(now)

	switch a.Outcome {
	case domain.OutcomeSuccess:
		c.state.TradesToday++
		c.state.TodayProfit += a.RealizedProfit
		c.state.ConsecutiveSuccesses++
		c.state.ConsecutiveFailures = 0
		c.grow()
		if c.state.Mode == domain.RiskThrottled && c.state.ConsecutiveSuccesses >= c.cfg.RecoverySuccesses {
			pending = append(pending, c.transitionLocked(domain.RiskNormal, "recovered after consecutive successes", now))
		}
	case domain.OutcomeFailed:
		c.state.TradesToday++
		c.state.TodayProfit += a.RealizedProfit
		c.state.ConsecutiveFailures++
		c.state.ConsecutiveSuccesses = 0
		c.shrink()
		if c.state.Mode == domain.RiskNormal && c.state.ConsecutiveFailures >= c.cfg.FailureThreshold {
			pending = append(pending, c.transitionLocked(domain.RiskThrottled,
				fmt.Sprintf("%d consecutive failures", c.state.ConsecutiveFailures), now))
		}
		if c.cfg.UseCircuitBreakers && c.state.Mode != domain.RiskHalted &&
			c.state.ConsecutiveFailures >= 2*c.cfg.FailureThreshold {
			c.state.CircuitBreaker = true
			pending = append(pending, c.haltLocked(haltBreaker, "circuit breaker: consecutive failures", now)...)
		}
	default:
		c.mu.Unlock()
		c.publish(pending)
		return
	}

	pending = append(pending, c.enforceDailyLocked(now)...)

	metrics.TodayProfit.Set(c.state.TodayProfit)
	c.mu.Unlock()
	c.publish(pending)
}

// Halt moves to HALTED on an operator signal. Only Reset or the cooldown
// clears it.
func (c *Controller) Halt(reason string) {
	if reason == "" {
		reason = "operator halt"
	}
	c.mu.Lock()
	var pending []domain.RiskTransition
	if c.state.Mode != domain.RiskHalted {
		pending = c.haltLocked(haltOperator, reason, c.now())
	} else {
		// Escalate so the daily reset no longer clears it.
		c.halt = haltOperator
		c.state.HaltReason = reason
	}
	c.mu.Unlock()
	c.publish(pending)
}

// Reset clears the streaks and the circuit breaker and returns to NORMAL.
// Today's P&L is kept: while a daily limit is still breached the controller
// stays HALTED until the UTC day rolls over.
func (c *Controller) Reset() {
	c.mu.Lock()
	now := c.now()
	var pending []domain.RiskTransition
	c.state.ConsecutiveFailures = 0
	c.state.ConsecutiveSuccesses = 0
	c.state.CircuitBreaker = false
	if reason := c.dailyLimitLocked(); reason != "" {
		if c.state.Mode != domain.RiskHalted {
			pending = append(pending, c.haltLocked(haltDaily, reason, now)...)
		} else {
			c.halt = haltDaily
			c.state.HaltReason = reason
		}
		c.mu.Unlock()
		c.publish(pending)
		return
	}
	c.halt = haltNone
	c.state.HaltReason = ""
	c.state.HaltedAt = time.Time{}
	if c.state.Mode != domain.RiskNormal {
		pending = append(pending, c.transitionLocked(domain.RiskNormal, "operator reset", now))
	}
	c.mu.Unlock()
	c.publish(pending)
}

// ResetDaily clears today's P&L and counters. A halt caused by the daily
// limits is lifted; an operator or circuit-breaker halt is not.
func (c *Controller) ResetDaily() {
	c.mu.Lock()
	pending := c.resetDailyLocked(c.now())
	c.mu.Unlock()
	c.publish(pending)
}

// AddCapital grows (or shrinks) the base capital and rescales the position
// ceiling and exposure budget to match. The configured max position size
// stays a hard cap.
func (c *Controller) AddCapital(amount float64) {
	if c.perTrade <= 0 || amount == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	base := c.state.BaseCapital + amount
	if base <= 0 {
		return
	}
	c.state.BaseCapital = base
	c.positionCap = math.Min(base*c.perTrade, c.cfg.MaxPositionSize)
	c.state.MaxExposure = c.positionCap * float64(c.cfg.MaxConcurrentTrades)
	c.logger.Info("capital updated",
		slog.Float64("base_capital", base),
		slog.Float64("max_position_size", c.positionCap),
	)
}

// Run rolls the day at UTC midnight and applies the halt cooldown until ctx
// is cancelled.
func (c *Controller) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.mu.Lock()
			pending := c.tickLocked(c.now())
			c.mu.Unlock()
			c.publish(pending)
		}
	}
}

// tickLocked applies the day rollover and the cooldown.
func (c *Controller) tickLocked(now time.Time) []domain.RiskTransition {
	var pending []domain.RiskTransition
	if day := dayOf(now); day != c.state.Day {
		pending = append(pending, c.resetDailyLocked(now)...)
	}
	if c.state.Mode == domain.RiskHalted && c.halt != haltDaily && c.cfg.HaltCooldown > 0 &&
		now.Sub(c.state.HaltedAt) >= c.cfg.HaltCooldown {
		if reason := c.dailyLimitLocked(); reason != "" {
			c.halt = haltDaily
			c.state.HaltReason = reason
			return pending
		}
		c.halt = haltNone
		c.state.HaltReason = ""
		c.state.HaltedAt = time.Time{}
		c.state.CircuitBreaker = false
		c.state.ConsecutiveFailures = 0
		pending = append(pending, c.transitionLocked(domain.RiskNormal, "halt cooldown elapsed", now))
	}
	return pending
}

func (c *Controller) resetDailyLocked(now time.Time) []domain.RiskTransition {
	c.state.Day = dayOf(now)
	c.state.TodayProfit = 0
	c.state.TradesToday = 0
	c.dayScale = c.state.ScaleFactor
	metrics.TodayProfit.Set(0)

	if c.state.Mode == domain.RiskHalted && c.halt == haltDaily {
		c.halt = haltNone
		c.state.HaltReason = ""
		c.state.HaltedAt = time.Time{}
		return []domain.RiskTransition{c.transitionLocked(domain.RiskNormal, "daily reset", now)}
	}
	return nil
}

func (c *Controller) haltLocked(src haltSource, reason string, now time.Time) []domain.RiskTransition {
	c.halt = src
	c.state.HaltReason = reason
	c.state.HaltedAt = now
	return []domain.RiskTransition{c.transitionLocked(domain.RiskHalted, reason, now)}
}

func (c *Controller) transitionLocked(to domain.RiskMode, reason string, now time.Time) domain.RiskTransition {
	t := domain.RiskTransition{From: c.state.Mode, To: to, Reason: reason, At: now}
	c.state.Mode = to
	setModeGauge(to)
	return t
}

func (c *Controller) grow() {
	ceiling := c.dayScale * (1 + c.scaling.maxDailyGrowth)
	c.state.ScaleFactor = math.Min(c.state.ScaleFactor*(1+c.scaling.growth), ceiling)
}

func (c *Controller) shrink() {
	c.state.ScaleFactor = math.Max(c.state.ScaleFactor*(1-c.scaling.reduction), minScale)
}

// publish emits transitions outside the lock.
func (c *Controller) publish(ts []domain.RiskTransition) {
	for _, t := range ts {
		level := slog.LevelInfo
		if t.To == domain.RiskHalted {
			level = slog.LevelWarn
		}
		c.logger.Log(context.Background(), level, "risk mode changed",
			slog.String("from", string(t.From)),
			slog.String("to", string(t.To)),
			slog.String("reason", t.Reason),
		)
		if c.events != nil {
			c.events.Publish(domain.EventRiskTransition, string(t.To), t)
		}
	}
}

func setModeGauge(mode domain.RiskMode) {
	for _, m := range []domain.RiskMode{domain.RiskNormal, domain.RiskThrottled, domain.RiskHalted} {
		v := 0.0
		if m == mode {
			v = 1
		}
		metrics.RiskMode.WithLabelValues(string(m)).Set(v)
	}
}

func dayOf(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
