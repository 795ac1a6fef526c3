package arbitrage

import (
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Detect returns the most profitable opportunity across every ordered
// (buy, sell) exchange combination in quotes, or false if none clears both
// the spread threshold and zero net profit. It is pure: the result depends
// only on its arguments.
//
// Ties on net profit go to the deeper route, then to the faster one.
func Detect(quotes []domain.Quote, p Params) (domain.Opportunity, bool) {
	var (
		best  domain.Opportunity
		found bool
	)
	for _, buy := range quotes {
		for _, sell := range quotes {
			if buy.Exchange == sell.Exchange || buy.Pair != sell.Pair {
				continue
			}
			spread := GrossSpread(buy.Ask, sell.Bid)
			if !ClearsMinSpread(spread, p) {
				continue
			}

			depth := minDepth(buy.Depth, sell.Depth)
			size := p.RequestedSize
			if depth > 0 && depth < size {
				size = depth
			}
			if size <= 0 {
				continue
			}

			fees, provider, err := EstimateFees(size, p)
			if err != nil {
				continue
			}
			net := NetProfit(size, spread, fees)
			if net <= 0 {
				continue
			}

			cand := domain.Opportunity{
				Pair:           buy.Pair,
				BuyExchange:    buy.Exchange,
				SellExchange:   sell.Exchange,
				BuyPrice:       buy.Ask,
				SellPrice:      sell.Bid,
				GrossSpreadPct: spread * 100,
				Fees:           fees,
				NetProfit:      net,
				PositionSize:   size,
				LoanProvider:   provider,
				Depth:          depth,
				Latency:        maxDuration(buy.Latency, sell.Latency),
				DetectedAt:     latest(buy.Timestamp, sell.Timestamp),
				ExpiresAt:      earliest(buy.Timestamp, sell.Timestamp).Add(p.Staleness),
			}
			if !found || better(cand, best) {
				best = cand
				found = true
			}
		}
	}
	return best, found
}

// better orders candidates by net profit, depth, latency, then route name so
// the result is deterministic.
func better(a, b domain.Opportunity) bool {
	if a.NetProfit != b.NetProfit {
		return a.NetProfit > b.NetProfit
	}
	if a.Depth != b.Depth {
		return a.Depth > b.Depth
	}
	if a.Latency != b.Latency {
		return a.Latency < b.Latency
	}
	return a.Route() < b.Route()
}

func minDepth(a, b float64) float64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
