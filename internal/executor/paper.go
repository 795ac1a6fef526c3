package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// PaperSubmitter settles units against the live aggregated quotes without
// touching a chain. Every step is replayed on a scratch balance sheet and
// the result is committed only if all of them pass, so a rejected unit
// leaves no trace.
type PaperSubmitter struct {
	quotes        domain.QuoteLookup
	tradingFeePct float64
	networkFee    float64
	latency       time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu       sync.Mutex
	balances map[string]float64 // cumulative realized per token
	settled  map[string]domain.Receipt
}

// NewPaperSubmitter creates a paper submitter. networkFee is charged on
// every confirmed unit; a rejected unit reverts and costs nothing.
func NewPaperSubmitter(quotes domain.QuoteLookup, tradingFeePct, networkFee float64, logger *slog.Logger) *PaperSubmitter {
	return &PaperSubmitter{
		quotes:        quotes,
		tradingFeePct: tradingFeePct,
		networkFee:    networkFee,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "paper_submitter")),
		balances:      make(map[string]float64),
		settled:       make(map[string]domain.Receipt),
	}
}

// SetLatency adds an artificial confirmation delay.
func (p *PaperSubmitter) SetLatency(d time.Duration) {
	p.latency = d
}

// Balances returns the cumulative realized amounts per token.
func (p *PaperSubmitter) Balances() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out
}

// Submit implements domain.Submitter. Resubmitting a settled unit ID
// returns the original receipt.
func (p *PaperSubmitter) Submit(ctx context.Context, unit domain.Unit) (domain.Receipt, error) {
	if p.latency > 0 {
		select {
		case <-ctx.Done():
			return domain.Receipt{}, fmt.Errorf("paper: %w: %v", domain.ErrConfirmationTimeout, ctx.Err())
		case <-time.After(p.latency):
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, fmt.Errorf("paper: %w: %v", domain.ErrConfirmationTimeout, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.settled[unit.ID]; ok {
		return r, nil
	}
	if !unit.Deadline.IsZero() && p.now().After(unit.Deadline) {
		return domain.Receipt{}, fmt.Errorf("paper: unit %s: %w: deadline passed", unit.ID, domain.ErrStateChanged)
	}

	delta, reason, err := p.replay(unit)
	if err != nil {
		return domain.Receipt{}, err
	}
	if reason != "" {
		// A rejected unit reverts as a whole and moves no balance.
		r := domain.Receipt{Confirmed: false, Reason: reason}
		p.settled[unit.ID] = r
		p.logger.Debug("unit rejected", slog.String("unit_id", unit.ID), slog.String("reason", reason))
		return r, nil
	}

	delta[unit.Pair.Quote] -= p.networkFee
	for token, v := range delta {
		p.balances[token] += v
	}

	profit := delta[unit.Pair.Quote]
	if leftover := delta[unit.Pair.Base]; leftover != 0 {
		if q, ok := p.quotes.Quote(lastSwapVenue(unit), unit.Pair); ok {
			profit += leftover * q.Bid
		}
	}
	r := domain.Receipt{
		Confirmed: true,
		TxID:      "paper-" + uuid.NewString(),
		Realized:  delta,
		Profit:    profit,
	}
	p.settled[unit.ID] = r
	return r, nil
}

// replay runs the steps on a scratch sheet. It returns the net change per
// token, or a rejection reason. A missing quote means market state moved
// under the unit and is reported as domain.ErrStateChanged.
func (p *PaperSubmitter) replay(unit domain.Unit) (map[string]float64, string, error) {
	sheet := make(map[string]float64)
	funded := make(map[string]float64) // own capital pulled in

	spend := func(token string, amount float64) {
		if sheet[token] < amount {
			funded[token] += amount - sheet[token]
			sheet[token] = amount
		}
		sheet[token] -= amount
	}

	borrowed := false
	for i, st := range unit.Steps {
		switch st.Kind {
		case domain.StepBorrow:
			borrowed = true
			sheet[st.TokenIn] += st.AmountIn
		case domain.StepSwap:
			q, ok := p.quotes.Quote(st.Exchange, unit.Pair)
			if !ok {
				return nil, "", fmt.Errorf("paper: step %d: %w: no fresh quote on %s", i, domain.ErrStateChanged, st.Exchange)
			}
			if borrowed && sheet[st.TokenIn] < st.AmountIn-1e-9 {
				return nil, fmt.Sprintf("step %d: insufficient %s", i, st.TokenIn), nil
			}
			var out float64
			if st.TokenOut == unit.Pair.Base {
				out = st.AmountIn / q.Ask
			} else {
				out = st.AmountIn * q.Bid
			}
			out *= 1 - p.tradingFeePct/100
			if out < st.MinAmountOut {
				return nil, fmt.Sprintf("step %d: output %.6f below minimum %.6f on %s", i, out, st.MinAmountOut, st.Exchange), nil
			}
			spend(st.TokenIn, st.AmountIn)
			sheet[st.TokenOut] += out
		case domain.StepRepay:
			if sheet[st.TokenIn] < st.AmountIn-1e-9 {
				return nil, fmt.Sprintf("step %d: cannot repay %.6f %s", i, st.AmountIn, st.TokenIn), nil
			}
			sheet[st.TokenIn] -= st.AmountIn
		default:
			return nil, "", fmt.Errorf("paper: step %d: unknown kind %q", i, st.Kind)
		}
	}

	for token, v := range funded {
		sheet[token] -= v
	}
	return sheet, "", nil
}

func lastSwapVenue(unit domain.Unit) string {
	for i := len(unit.Steps) - 1; i >= 0; i-- {
		if unit.Steps[i].Kind == domain.StepSwap {
			return unit.Steps[i].Exchange
		}
	}
	return ""
}
