package domain

import (
	"fmt"
	"strings"
	"time"
)

// TokenPair is an ordered (base, quote) symbol pair such as SOL/USDC.
type TokenPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// NewTokenPair normalises symbols to upper case.
func NewTokenPair(base, quote string) TokenPair {
	return TokenPair{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParsePair parses "BASE/QUOTE" (a "-" separator is also accepted so the
// key can travel in URL paths).
func ParsePair(s string) (TokenPair, error) {
	sep := "/"
	if !strings.Contains(s, sep) {
		sep = "-"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return TokenPair{}, fmt.Errorf("domain: invalid token pair %q", s)
	}
	if strings.EqualFold(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])) {
		return TokenPair{}, fmt.Errorf("domain: token pair %q has identical legs", s)
	}
	return NewTokenPair(parts[0], parts[1]), nil
}

// String returns the canonical key.
func (p TokenPair) String() string {
	return p.Base + "/" + p.Quote
}

// Quote is a single exchange's view of a pair at a point in time. Newer
// quotes replace older ones; a Quote is never mutated after creation.
type Quote struct {
	Exchange  string        `json:"exchange"`
	Pair      TokenPair     `json:"pair"`
	Bid       float64       `json:"bid"`
	Ask       float64       `json:"ask"`
	Depth     float64       `json:"depth"`   // liquidity available near the top of book, quote units
	Latency   time.Duration `json:"latency"` // observed round trip of the fetch
	Timestamp time.Time     `json:"timestamp"`
}

// Mid returns the midpoint of bid and ask.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Fresh reports whether the quote is within maxAge of now.
func (q Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(q.Timestamp) <= maxAge
}

// Valid reports whether the quote carries usable prices.
func (q Quote) Valid() bool {
	return q.Exchange != "" && q.Bid > 0 && q.Ask > 0
}
