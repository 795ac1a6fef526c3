package domain

import "time"

// Fees breaks down every cost charged against an opportunity, in quote units.
type Fees struct {
	Trading   float64 `json:"trading"`
	FlashLoan float64 `json:"flash_loan"`
	Network   float64 `json:"network"`
	Slippage  float64 `json:"slippage"`
}

// Total sums all fee components.
func (f Fees) Total() float64 {
	return f.Trading + f.FlashLoan + f.Network + f.Slippage
}

// Opportunity is a detected cross-exchange price differential. It lives for a
// single detection cycle unless the coordinator picks it up.
type Opportunity struct {
	ID             string        `json:"id"`
	Pair           TokenPair     `json:"pair"`
	BuyExchange    string        `json:"buy_exchange"`
	SellExchange   string        `json:"sell_exchange"`
	BuyPrice       float64       `json:"buy_price"`
	SellPrice      float64       `json:"sell_price"`
	GrossSpreadPct float64       `json:"gross_spread_pct"` // percent, e.g. 1.11
	Fees           Fees          `json:"fees"`
	NetProfit      float64       `json:"net_profit"`
	PositionSize   float64       `json:"position_size"`
	LoanProvider   string        `json:"loan_provider,omitempty"`
	Depth          float64       `json:"depth"`
	Latency        time.Duration `json:"latency"`
	DetectedAt     time.Time     `json:"detected_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
}

// Expired reports whether any quote backing the opportunity has gone stale.
func (o Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// Route identifies the buy/sell direction for dedup and locking.
func (o Opportunity) Route() string {
	return o.Pair.String() + ":" + o.BuyExchange + ">" + o.SellExchange
}
