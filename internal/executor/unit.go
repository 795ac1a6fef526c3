package executor

import (
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/flashloan"
)

// UnitParams are the knobs BuildUnit needs beyond the opportunity.
type UnitParams struct {
	SlippageTolerance float64 // percent
	TradingFeePct     float64 // percent, per swap
	Deadline          time.Time
}

// BuildUnit lays out the all-or-nothing instruction sequence for one
// attempt: borrow, buy on the cheap venue, sell on the dear venue, repay.
// A nil loan means own capital is used and the borrow/repay steps are left
// out. Each swap carries a minimum output derived from the slippage
// tolerance; the sell leg spends exactly the buy leg's guaranteed output.
func BuildUnit(id string, opp domain.Opportunity, size float64, loan *flashloan.LoanQuote, p UnitParams) domain.Unit {
	base, quote := opp.Pair.Base, opp.Pair.Quote
	keep := (1 - p.TradingFeePct/100) * (1 - p.SlippageTolerance/100)

	buyMin := size / opp.BuyPrice * keep
	sellMin := buyMin * opp.SellPrice * keep

	steps := make([]domain.Step, 0, 4)
	if loan != nil {
		steps = append(steps, domain.Step{
			Kind:     domain.StepBorrow,
			Exchange: loan.Provider,
			TokenIn:  quote,
			AmountIn: loan.Amount,
		})
	}
	steps = append(steps,
		domain.Step{
			Kind:         domain.StepSwap,
			Exchange:     opp.BuyExchange,
			TokenIn:      quote,
			TokenOut:     base,
			AmountIn:     size,
			MinAmountOut: buyMin,
		},
		domain.Step{
			Kind:         domain.StepSwap,
			Exchange:     opp.SellExchange,
			TokenIn:      base,
			TokenOut:     quote,
			AmountIn:     buyMin,
			MinAmountOut: sellMin,
		},
	)
	if loan != nil {
		steps = append(steps, domain.Step{
			Kind:     domain.StepRepay,
			Exchange: loan.Provider,
			TokenIn:  quote,
			AmountIn: loan.Repayment(),
		})
	}

	return domain.Unit{
		ID:       id,
		Pair:     opp.Pair,
		Steps:    steps,
		Deadline: p.Deadline,
	}
}
