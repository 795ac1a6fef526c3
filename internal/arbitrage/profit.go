// Package arbitrage detects cross-exchange spreads that stay profitable after
// every fee and runs the periodic detection loop.
package arbitrage

import (
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/flashloan"
)

// LoanPricer prices a flash loan for a given amount.
type LoanPricer interface {
	Quote(amount float64) (flashloan.LoanQuote, error)
}

// Params is the detector configuration. Percent fields are in percent
// (0.5 means 0.5%).
type Params struct {
	MinProfitPct      float64
	SlippageTolerance float64
	TradingFeePct     float64 // charged on each of the two swaps
	NetworkFee        float64 // absolute, per unit
	RequestedSize     float64
	UseFlashLoans     bool
	Loans             LoanPricer
	Staleness         time.Duration
}

// GrossSpread returns (sell - buy) / buy as a fraction.
func GrossSpread(buy, sell float64) float64 {
	if buy <= 0 {
		return 0
	}
	return (sell - buy) / buy
}

// ClearsMinSpread reports whether a fractional spread is positive and meets
// the minimum of p, which is in percent. Detection and pre-submit checks
// both go through it so they never disagree at the boundary.
func ClearsMinSpread(spread float64, p Params) bool {
	return spread > 0 && spread >= p.MinProfitPct/100
}

// EstimateFees prices every cost of trading size. The loan fee is zero when
// flash loans are disabled.
func EstimateFees(size float64, p Params) (domain.Fees, string, error) {
	fees := domain.Fees{
		Trading:  size * p.TradingFeePct / 100 * 2,
		Network:  p.NetworkFee,
		Slippage: size * p.SlippageTolerance / 100,
	}
	var provider string
	if p.UseFlashLoans && p.Loans != nil {
		lq, err := p.Loans.Quote(size)
		if err != nil {
			return domain.Fees{}, "", err
		}
		fees.FlashLoan = lq.Fee
		provider = lq.Provider
	}
	return fees, provider, nil
}

// NetProfit is size * spread minus every fee.
func NetProfit(size, spread float64, fees domain.Fees) float64 {
	return size*spread - fees.Total()
}
