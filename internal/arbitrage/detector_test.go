package arbitrage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/flashloan"
)

var pairX = domain.NewTokenPair("X", "USDC")

func q(exchange string, price, depth float64) domain.Quote {
	return domain.Quote{
		Exchange:  exchange,
		Pair:      pairX,
		Bid:       price,
		Ask:       price,
		Depth:     depth,
		Timestamp: time.Unix(1700000000, 0),
	}
}

func testParams(t *testing.T) Params {
	t.Helper()
	book, err := flashloan.NewBook(flashloan.Solend, 0, 1_000_000)
	require.NoError(t, err)
	return Params{
		MinProfitPct:      0.5,
		SlippageTolerance: 0.1,
		TradingFeePct:     0.05,
		NetworkFee:        0.01,
		RequestedSize:     100,
		UseFlashLoans:     true,
		Loans:             book,
		Staleness:         3 * time.Second,
	}
}

func TestDetectEmitsAboveThreshold(t *testing.T) {
	p := testParams(t)
	opp, ok := Detect([]domain.Quote{q("DEX1", 22.50, 0), q("DEX2", 22.75, 0)}, p)
	require.True(t, ok)

	assert.Equal(t, "DEX1", opp.BuyExchange)
	assert.Equal(t, "DEX2", opp.SellExchange)
	assert.InDelta(t, 1.111, opp.GrossSpreadPct, 0.001)
	assert.Equal(t, 100.0, opp.PositionSize)
	assert.Equal(t, flashloan.Solend, opp.LoanProvider)
	assert.InDelta(t, 0.3, opp.Fees.FlashLoan, 1e-9)
	assert.InDelta(t, 0.1, opp.Fees.Trading, 1e-9)
	assert.InDelta(t, 0.1, opp.Fees.Slippage, 1e-9)
	assert.InDelta(t, 100*(0.25/22.5)-0.51, opp.NetProfit, 1e-9)
	assert.Equal(t, time.Unix(1700000003, 0), opp.ExpiresAt)
}

func TestDetectSkipsBelowThreshold(t *testing.T) {
	_, ok := Detect([]domain.Quote{q("DEX1", 22.50, 0), q("DEX2", 22.51, 0)}, testParams(t))
	assert.False(t, ok)
}

func TestDetectRequiresPositiveNet(t *testing.T) {
	p := testParams(t)
	p.NetworkFee = 5 // swamps the 1.11 gross
	_, ok := Detect([]domain.Quote{q("DEX1", 22.50, 0), q("DEX2", 22.75, 0)}, p)
	assert.False(t, ok)
}

func TestDetectIgnoresSameExchange(t *testing.T) {
	crossed := domain.Quote{Exchange: "DEX1", Pair: pairX, Bid: 23, Ask: 22, Timestamp: time.Now()}
	_, ok := Detect([]domain.Quote{crossed}, testParams(t))
	assert.False(t, ok)
}

func TestDetectPicksWidestRoute(t *testing.T) {
	quotes := []domain.Quote{q("A", 22.60, 0), q("B", 22.50, 0), q("C", 22.90, 0)}
	opp, ok := Detect(quotes, testParams(t))
	require.True(t, ok)
	assert.Equal(t, "B", opp.BuyExchange)
	assert.Equal(t, "C", opp.SellExchange)
}

func TestDetectTieBreaksOnDepthThenLatency(t *testing.T) {
	p := testParams(t)
	p.RequestedSize = 50

	// Two sell venues at the same price: deeper one wins.
	quotes := []domain.Quote{q("BUY", 22.50, 1000), q("S1", 22.75, 200), q("S2", 22.75, 800)}
	opp, ok := Detect(quotes, p)
	require.True(t, ok)
	assert.Equal(t, "S2", opp.SellExchange)

	// Same depth: lower latency wins.
	s1 := q("S1", 22.75, 800)
	s1.Latency = 40 * time.Millisecond
	s2 := q("S2", 22.75, 800)
	s2.Latency = 90 * time.Millisecond
	opp, ok = Detect([]domain.Quote{q("BUY", 22.50, 1000), s1, s2}, p)
	require.True(t, ok)
	assert.Equal(t, "S1", opp.SellExchange)
}

func TestDetectCapsSizeAtDepth(t *testing.T) {
	opp, ok := Detect([]domain.Quote{q("DEX1", 22.50, 60), q("DEX2", 22.75, 500)}, testParams(t))
	require.True(t, ok)
	assert.Equal(t, 60.0, opp.PositionSize)
}

func TestDetectIsPure(t *testing.T) {
	quotes := []domain.Quote{q("DEX1", 22.50, 0), q("DEX2", 22.75, 0)}
	p := testParams(t)
	a, _ := Detect(quotes, p)
	b, _ := Detect(quotes, p)
	assert.Equal(t, a, b)
}

// Every emitted opportunity clears both thresholds.
func TestDetectNeverEmitsFalsePositives(t *testing.T) {
	p := testParams(t)
	for buy := 20.0; buy <= 21.0; buy += 0.05 {
		for sell := 20.0; sell <= 21.5; sell += 0.05 {
			opp, ok := Detect([]domain.Quote{q("A", buy, 0), q("B", sell, 0)}, p)
			if !ok {
				continue
			}
			assert.Greater(t, opp.NetProfit, 0.0)
			assert.GreaterOrEqual(t, opp.GrossSpreadPct, p.MinProfitPct)
		}
	}
}

type stubQuotes struct {
	quotes  []domain.Quote
	updates chan domain.TokenPair
}

func (s *stubQuotes) CurrentQuotes(domain.TokenPair) []domain.Quote { return s.quotes }
func (s *stubQuotes) Updates() <-chan domain.TokenPair               { return s.updates }

type recordingPublisher struct {
	kinds []domain.EventKind
}

func (r *recordingPublisher) Publish(kind domain.EventKind, _ string, _ any) {
	r.kinds = append(r.kinds, kind)
}

func TestLoopScanEmits(t *testing.T) {
	out := make(chan domain.Opportunity, 4)
	pub := &recordingPublisher{}
	loop := NewLoop(LoopConfig{
		Quotes:   &stubQuotes{quotes: []domain.Quote{q("DEX1", 22.50, 0), q("DEX2", 22.75, 0)}},
		Pairs:    []domain.TokenPair{pairX},
		Params:   testParams(t),
		Interval: time.Second,
		Workers:  1,
		Out:      out,
		Events:   pub,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	loop.Scan(context.Background())

	require.Len(t, out, 1)
	opp := <-out
	assert.NotEmpty(t, opp.ID)
	assert.Equal(t, []domain.EventKind{domain.EventOpportunityDetected}, pub.kinds)
}

func TestClearsMinSpread(t *testing.T) {
	p := Params{MinProfitPct: 0.5}
	assert.True(t, ClearsMinSpread(0.005, p))
	assert.True(t, ClearsMinSpread(0.01, p))
	assert.False(t, ClearsMinSpread(0.0049, p))

	p.MinProfitPct = 0
	assert.False(t, ClearsMinSpread(0, p))
	assert.False(t, ClearsMinSpread(-0.01, p))
}

func TestDetectThresholdIsInclusive(t *testing.T) {
	p := testParams(t)
	p.UseFlashLoans = false
	p.SlippageTolerance = 0
	opp, ok := Detect([]domain.Quote{q("DEX1", 100, 0), q("DEX2", 100.5, 0)}, p)
	require.True(t, ok)
	assert.True(t, ClearsMinSpread(GrossSpread(opp.BuyPrice, opp.SellPrice), p))
}
