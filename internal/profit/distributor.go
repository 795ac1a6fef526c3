// Package profit splits realized profit between reinvestment, withdrawal
// and reserve.
package profit

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Config is the split policy. Percentages must sum to 100.
type Config struct {
	AutoReinvest       bool
	ReinvestPercentage float64
	WithdrawPercentage float64
	ReservePercentage  float64
	MinDistribution    float64
}

// Split is one distribution.
type Split struct {
	Amount    float64 `json:"amount"`
	Reinvest  float64 `json:"reinvest"`
	Withdraw  float64 `json:"withdraw"`
	Reserve   float64 `json:"reserve"`
	Carried   float64 `json:"carried"` // pending, below the minimum
	Reinvests bool    `json:"reinvests"`
}

// Totals are the running sums since start.
type Totals struct {
	Reinvested float64 `json:"reinvested"`
	Withdrawn  float64 `json:"withdrawn"`
	Reserved   float64 `json:"reserved"`
	Pending    float64 `json:"pending"`
}

// CapitalSink receives the reinvested share.
type CapitalSink interface {
	AddCapital(amount float64)
}

// Distributor accumulates profit and splits it once the pending amount
// reaches the minimum.
type Distributor struct {
	cfg     Config
	capital CapitalSink
	logger  *slog.Logger

	mu      sync.Mutex
	pending float64
	totals  Totals
}

// NewDistributor validates cfg. capital may be nil.
func NewDistributor(cfg Config, capital CapitalSink, logger *slog.Logger) (*Distributor, error) {
	if cfg.ReinvestPercentage < 0 || cfg.WithdrawPercentage < 0 || cfg.ReservePercentage < 0 {
		return nil, fmt.Errorf("profit: %w: negative percentage", domain.ErrInvalidConfig)
	}
	sum := cfg.ReinvestPercentage + cfg.WithdrawPercentage + cfg.ReservePercentage
	if math.Abs(sum-100) > 0.01 {
		return nil, fmt.Errorf("profit: %w: percentages sum to %.2f, want 100", domain.ErrInvalidConfig, sum)
	}
	return &Distributor{
		cfg:     cfg,
		capital: capital,
		logger:  logger.With(slog.String("component", "profit")),
	}, nil
}

// Distribute adds profit to the pending pool and, once the pool reaches the
// minimum, splits all of it. Non-positive amounts are ignored.
func (d *Distributor) Distribute(profit float64) Split {
	d.mu.Lock()
	if profit > 0 {
		d.pending += profit
	}
	if d.pending <= 0 || d.pending < d.cfg.MinDistribution {
		s := Split{Carried: d.pending}
		d.totals.Pending = d.pending
		d.mu.Unlock()
		return s
	}

	amount := d.pending
	d.pending = 0
	s := Split{
		Amount:    amount,
		Reinvest:  amount * d.cfg.ReinvestPercentage / 100,
		Withdraw:  amount * d.cfg.WithdrawPercentage / 100,
		Reserve:   amount * d.cfg.ReservePercentage / 100,
		Reinvests: d.cfg.AutoReinvest,
	}
	d.totals.Reinvested += s.Reinvest
	d.totals.Withdrawn += s.Withdraw
	d.totals.Reserved += s.Reserve
	d.totals.Pending = 0
	d.mu.Unlock()

	if d.cfg.AutoReinvest && d.capital != nil && s.Reinvest > 0 {
		d.capital.AddCapital(s.Reinvest)
	}
	d.logger.Debug("profit distributed",
		slog.Float64("amount", amount),
		slog.Float64("reinvest", s.Reinvest),
		slog.Float64("withdraw", s.Withdraw),
		slog.Float64("reserve", s.Reserve),
	)
	return s
}

// Totals returns the running sums.
func (d *Distributor) Totals() Totals {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totals
}
