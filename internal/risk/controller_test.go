package risk

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var solUSDC = domain.NewTokenPair("SOL", "USDC")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu          sync.Mutex
	transitions []domain.RiskTransition
}

func (r *recorder) Publish(kind domain.EventKind, _ string, payload any) {
	if kind != domain.EventRiskTransition {
		return
	}
	r.mu.Lock()
	r.transitions = append(r.transitions, payload.(domain.RiskTransition))
	r.mu.Unlock()
}

func (r *recorder) modes() []domain.RiskMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RiskMode, len(r.transitions))
	for i, t := range r.transitions {
		out[i] = t.To
	}
	return out
}

func baseConfig() Config {
	return Config{
		Level:               domain.RiskModerate,
		BaseCapital:         1000,
		MaxPositionSize:     100,
		MinTradeSize:        1,
		MaxConcurrentTrades: 3,
		MaxDailyLoss:        50,
		MaxTradesPerDay:     100,
		UseCircuitBreakers:  true,
		FailureThreshold:    3,
		RecoverySuccesses:   2,
		ThrottleMultiplier:  0.5,
	}
}

func newController(t *testing.T, cfg Config) (*Controller, *clock, *recorder) {
	t.Helper()
	rec := &recorder{}
	c, err := NewController(cfg, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c.now = clk.Now
	c.state.Day = dayOf(clk.Now())
	return c, clk, rec
}

func failed(loss float64) domain.ExecutionAttempt {
	return domain.ExecutionAttempt{Outcome: domain.OutcomeFailed, RealizedProfit: -loss}
}

func succeeded(profit float64) domain.ExecutionAttempt {
	return domain.ExecutionAttempt{Outcome: domain.OutcomeSuccess, RealizedProfit: profit}
}

func TestNewControllerRejectsBadConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPositionSize = 0
	_, err := NewController(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	cfg = baseConfig()
	cfg.ThrottleMultiplier = 1.5
	_, err = NewController(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestSizePositionClampsToMax(t *testing.T) {
	c, _, _ := newController(t, baseConfig())
	size, err := c.SizePosition(domain.Opportunity{PositionSize: 150})
	require.NoError(t, err)
	assert.Equal(t, 100.0, size)
}

func TestSizePositionRejectsBelowMinimum(t *testing.T) {
	c, _, _ := newController(t, baseConfig())
	_, err := c.SizePosition(domain.Opportunity{PositionSize: 0.5})
	assert.ErrorIs(t, err, domain.ErrRiskRejected)
}

func TestThrottledAfterConsecutiveFailures(t *testing.T) {
	cfg := baseConfig()
	cfg.UseCircuitBreakers = false
	c, _, rec := newController(t, cfg)

	c.RecordOutcome(failed(1))
	c.RecordOutcome(failed(1))
	assert.Equal(t, domain.RiskNormal, c.Mode())
	c.RecordOutcome(failed(1))
	assert.Equal(t, domain.RiskThrottled, c.Mode())
	assert.Equal(t, []domain.RiskMode{domain.RiskThrottled}, rec.modes())

	// Throttled sizing is halved (on top of the reduced scale factor).
	size, err := c.SizePosition(domain.Opportunity{PositionSize: 100})
	require.NoError(t, err)
	state := c.State()
	assert.InDelta(t, 100*state.ScaleFactor*0.5, size, 1e-9)
	assert.Less(t, size, 50.0)

	c.RecordOutcome(succeeded(1))
	assert.Equal(t, domain.RiskThrottled, c.Mode())
	c.RecordOutcome(succeeded(1))
	assert.Equal(t, domain.RiskNormal, c.Mode())
}

func TestAbortedAttemptsDoNotCount(t *testing.T) {
	c, _, _ := newController(t, baseConfig())
	for i := 0; i < 10; i++ {
		c.RecordOutcome(domain.ExecutionAttempt{Outcome: domain.OutcomeAborted})
	}
	state := c.State()
	assert.Equal(t, domain.RiskNormal, state.Mode)
	assert.Zero(t, state.TradesToday)
	assert.Zero(t, state.ConsecutiveFailures)
}

func TestHaltOnDailyLoss(t *testing.T) {
	c, clk, rec := newController(t, baseConfig())

	c.RecordOutcome(succeeded(5))
	c.RecordOutcome(failed(30))
	assert.Equal(t, domain.RiskNormal, c.Mode())
	c.RecordOutcome(failed(25)) // today = -50
	assert.Equal(t, domain.RiskHalted, c.Mode())

	_, err := c.SizePosition(domain.Opportunity{PositionSize: 10})
	assert.ErrorIs(t, err, domain.ErrHalted)
	assert.ErrorIs(t, c.Reserve(solUSDC, 10), domain.ErrHalted)

	// The next UTC day lifts a daily-limit halt.
	clk.Advance(13 * time.Hour)
	_, err = c.SizePosition(domain.Opportunity{PositionSize: 10})
	require.NoError(t, err)
	assert.Equal(t, domain.RiskNormal, c.Mode())
	assert.Zero(t, c.State().TodayProfit)
	assert.Equal(t, []domain.RiskMode{domain.RiskHalted, domain.RiskNormal}, rec.modes())
}

func TestHaltOnDailyTradeCap(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxTradesPerDay = 2
	c, _, _ := newController(t, cfg)
	c.RecordOutcome(succeeded(1))
	c.RecordOutcome(succeeded(1))
	assert.Equal(t, domain.RiskHalted, c.Mode())
}

func TestOperatorHaltSurvivesDailyReset(t *testing.T) {
	c, _, _ := newController(t, baseConfig())
	c.Halt("maintenance")
	c.ResetDaily()
	state := c.State()
	assert.Equal(t, domain.RiskHalted, state.Mode)
	assert.Equal(t, "maintenance", state.HaltReason)

	c.Reset()
	assert.Equal(t, domain.RiskNormal, c.Mode())
}

func TestCircuitBreakerCooldown(t *testing.T) {
	cfg := baseConfig()
	cfg.HaltCooldown = 10 * time.Minute
	c, clk, _ := newController(t, cfg)

	for i := 0; i < 6; i++ {
		c.RecordOutcome(failed(0.1))
	}
	state := c.State()
	require.Equal(t, domain.RiskHalted, state.Mode)
	assert.True(t, state.CircuitBreaker)

	clk.Advance(5 * time.Minute)
	assert.Equal(t, domain.RiskHalted, c.Mode())
	clk.Advance(5 * time.Minute)
	assert.Equal(t, domain.RiskNormal, c.Mode())
	assert.False(t, c.State().CircuitBreaker)
}

func TestAdaptiveScaling(t *testing.T) {
	c, _, _ := newController(t, baseConfig())

	for i := 0; i < 50; i++ {
		c.RecordOutcome(succeeded(0.01))
	}
	assert.InDelta(t, 1.10, c.State().ScaleFactor, 1e-9, "growth is capped per day")
	size, err := c.SizePosition(domain.Opportunity{PositionSize: 150})
	require.NoError(t, err)
	assert.Equal(t, 100.0, size, "scaling never lifts size past the ceiling")

	c.Reset()
	for i := 0; i < 50; i++ {
		c.RecordOutcome(failed(0))
		c.Reset()
	}
	assert.InDelta(t, minScale, c.State().ScaleFactor, 1e-9)
}

func TestReserveRespectsGlobalBudget(t *testing.T) {
	c, _, _ := newController(t, baseConfig())
	require.NoError(t, c.Reserve(solUSDC, 100))
	require.NoError(t, c.Reserve(domain.NewTokenPair("ETH", "USDC"), 100))
	require.NoError(t, c.Reserve(solUSDC, 100))
	assert.ErrorIs(t, c.Reserve(solUSDC, 1), domain.ErrExposureLimit)

	c.Release(solUSDC, 100)
	assert.InDelta(t, 200, c.State().Exposure, 1e-9)
	assert.InDelta(t, 100, c.ExposureByPair()[solUSDC], 1e-9)
}

func TestExposureNeverExceedsCeilingUnderContention(t *testing.T) {
	c, _, _ := newController(t, baseConfig())
	ceiling := c.State().MaxExposure

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		peak    float64
		granted int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Reserve(solUSDC, 40); err != nil {
				return
			}
			exp := c.State().Exposure
			mu.Lock()
			granted++
			if exp > peak {
				peak = exp
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			c.Release(solUSDC, 40)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, ceiling)
	assert.Positive(t, granted)
	assert.Zero(t, c.State().Exposure)
}

func TestAddCapitalNeverLiftsConfiguredCeiling(t *testing.T) {
	c, _, _ := newController(t, baseConfig())
	c.AddCapital(500)
	assert.InDelta(t, 100, c.MaxPositionSize(), 1e-9)
	assert.InDelta(t, 300, c.State().MaxExposure, 1e-9)

	size, err := c.SizePosition(domain.Opportunity{PositionSize: 150})
	require.NoError(t, err)
	assert.Equal(t, 100.0, size)
	assert.ErrorIs(t, c.Reserve(solUSDC, 301), domain.ErrExposureLimit)
}

func TestAddCapitalShrinksCeilingWithCapital(t *testing.T) {
	c, _, _ := newController(t, baseConfig())
	c.AddCapital(-500) // base 1000 -> 500
	assert.InDelta(t, 50, c.MaxPositionSize(), 1e-9)
	assert.InDelta(t, 150, c.State().MaxExposure, 1e-9)

	size, err := c.SizePosition(domain.Opportunity{PositionSize: 150})
	require.NoError(t, err)
	assert.Equal(t, 50.0, size)

	c.AddCapital(1000)
	assert.InDelta(t, 100, c.MaxPositionSize(), 1e-9)
}

func TestBreakerCooldownKeepsDailyLossHalt(t *testing.T) {
	cfg := baseConfig()
	cfg.FailureThreshold = 1
	cfg.MaxDailyLoss = 10
	cfg.HaltCooldown = time.Minute
	c, clk, _ := newController(t, cfg)

	c.RecordOutcome(failed(6))
	c.RecordOutcome(failed(6)) // breaker trips and today = -12
	state := c.State()
	require.Equal(t, domain.RiskHalted, state.Mode)
	assert.Contains(t, state.HaltReason, "daily loss")

	clk.Advance(2 * time.Minute)
	assert.Equal(t, domain.RiskHalted, c.Mode())
	_, err := c.SizePosition(domain.Opportunity{PositionSize: 50})
	assert.ErrorIs(t, err, domain.ErrHalted)
	assert.ErrorIs(t, c.Reserve(solUSDC, 10), domain.ErrHalted)

	// Only the UTC rollover lifts it.
	clk.Advance(12 * time.Hour)
	assert.Equal(t, domain.RiskNormal, c.Mode())
}

func TestResetKeepsHaltWhileDailyLossBreached(t *testing.T) {
	c, clk, _ := newController(t, baseConfig())
	c.RecordOutcome(failed(60))
	require.Equal(t, domain.RiskHalted, c.Mode())

	c.Reset()
	assert.Equal(t, domain.RiskHalted, c.Mode())
	_, err := c.SizePosition(domain.Opportunity{PositionSize: 10})
	assert.ErrorIs(t, err, domain.ErrHalted)

	clk.Advance(13 * time.Hour)
	_, err = c.SizePosition(domain.Opportunity{PositionSize: 10})
	require.NoError(t, err)
}
