// Package flashloan knows the supported flash-loan providers and prices loans.
package flashloan

import (
	"errors"
	"fmt"
	"sort"
)

// Provider identifiers.
const (
	Solend           = "solend"
	FlashProtocol    = "flash_protocol"
	FlashLoanMastery = "flash_loan_mastery"
	Custom           = "custom"
	Cheapest         = "cheapest"
)

// ErrLoanTooLarge is returned when the requested amount exceeds the ceiling.
var ErrLoanTooLarge = errors.New("flashloan: amount exceeds max loan amount")

// defaultFees are percentages, e.g. 0.3 means 0.3% of the borrowed amount.
var defaultFees = map[string]float64{
	Solend:           0.3,
	FlashProtocol:    0.2,
	FlashLoanMastery: 0.25,
}

// LoanQuote prices one loan.
type LoanQuote struct {
	Provider string  `json:"provider"`
	Amount   float64 `json:"amount"`
	FeePct   float64 `json:"fee_pct"`
	Fee      float64 `json:"fee"`
}

// Repayment is the amount owed at the end of the unit.
func (q LoanQuote) Repayment() float64 {
	return q.Amount + q.Fee
}

// Book prices loans against the configured provider.
type Book struct {
	provider  string
	fees      map[string]float64
	maxAmount float64
}

// NewBook builds a Book. provider may be a concrete provider or "cheapest";
// customFeePct is only used by the custom provider.
func NewBook(provider string, customFeePct, maxAmount float64) (*Book, error) {
	fees := make(map[string]float64, len(defaultFees)+1)
	for k, v := range defaultFees {
		fees[k] = v
	}
	if customFeePct > 0 {
		fees[Custom] = customFeePct
	}

	switch provider {
	case Cheapest:
	case Custom:
		if customFeePct <= 0 {
			return nil, fmt.Errorf("flashloan: custom provider needs a positive fee")
		}
	default:
		if _, ok := fees[provider]; !ok {
			return nil, fmt.Errorf("flashloan: unknown provider %q", provider)
		}
	}
	if maxAmount <= 0 {
		return nil, fmt.Errorf("flashloan: max loan amount must be positive")
	}
	return &Book{provider: provider, fees: fees, maxAmount: maxAmount}, nil
}

// Fee returns amount * pct / 100 for the given provider.
func Fee(amount, pct float64) float64 {
	return amount * pct / 100
}

// Quote prices a loan of amount with the configured provider.
func (b *Book) Quote(amount float64) (LoanQuote, error) {
	if amount <= 0 {
		return LoanQuote{}, fmt.Errorf("flashloan: amount must be positive, got %v", amount)
	}
	if amount > b.maxAmount {
		return LoanQuote{}, fmt.Errorf("%w: %.2f > %.2f", ErrLoanTooLarge, amount, b.maxAmount)
	}

	name := b.provider
	if name == Cheapest {
		name = b.cheapest()
	}
	pct := b.fees[name]
	return LoanQuote{
		Provider: name,
		Amount:   amount,
		FeePct:   pct,
		Fee:      Fee(amount, pct),
	}, nil
}

// Providers lists the priced providers ordered by fee, cheapest first.
func (b *Book) Providers() []LoanQuote {
	out := make([]LoanQuote, 0, len(b.fees))
	for name, pct := range b.fees {
		out = append(out, LoanQuote{Provider: name, FeePct: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FeePct != out[j].FeePct {
			return out[i].FeePct < out[j].FeePct
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

func (b *Book) cheapest() string {
	return b.Providers()[0].Provider
}
