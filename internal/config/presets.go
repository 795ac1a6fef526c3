package config

import "github.com/alanyoungcy/flasharb/internal/domain"

// riskPreset is the parameter bundle behind a risk level.
type riskPreset struct {
	perTradeFraction    float64 // of base capital
	minProfitPercentage float64
	slippageTolerance   float64
	maxConcurrentTrades int
	maxTradesPerDay     int
	dailyLossPct        float64 // of base capital
}

var riskPresets = map[domain.RiskLevel]riskPreset{
	domain.RiskConservative: {0.1, 0.5, 0.3, 2, 20, 5},
	domain.RiskModerate:     {0.2, 0.3, 0.5, 5, 50, 10},
	domain.RiskAggressive:   {0.3, 0.2, 1.0, 10, 100, 15},
	// Custom starts from the moderate bundle; anything set explicitly wins.
	domain.RiskCustom: {0.2, 0.3, 0.5, 5, 50, 10},
}

// ApplyRiskPreset fills every preset-backed field that is still zero from the
// bundle of the configured risk level. Explicit values are never overwritten.
// An unknown level is left for Validate to report.
func (c *Config) ApplyRiskPreset() {
	lvl, err := domain.ParseRiskLevel(c.Risk.Level)
	if err != nil {
		return
	}
	p := riskPresets[lvl]

	if c.Risk.MaxPositionSize == 0 {
		c.Risk.MaxPositionSize = c.Risk.BaseCapital * p.perTradeFraction
	}
	if c.Risk.MaxConcurrentTrades == 0 {
		c.Risk.MaxConcurrentTrades = p.maxConcurrentTrades
	}
	if c.Risk.MaxTradesPerDay == 0 {
		c.Risk.MaxTradesPerDay = p.maxTradesPerDay
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = c.Risk.BaseCapital * p.dailyLossPct / 100
	}
	if c.Trading.MinProfitPercentage == 0 {
		c.Trading.MinProfitPercentage = p.minProfitPercentage
	}
	if c.Trading.SlippageTolerance == 0 {
		c.Trading.SlippageTolerance = p.slippageTolerance
	}
}
