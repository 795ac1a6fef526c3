package arbitrage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// QuoteSource is the detector's view of the price feed.
type QuoteSource interface {
	CurrentQuotes(pair domain.TokenPair) []domain.Quote
	Updates() <-chan domain.TokenPair
}

// Loop runs Detect for every active pair on each tick and whenever a pair's
// quotes change, and hands opportunities to the coordinator.
type Loop struct {
	quotes   QuoteSource
	pairs    []domain.TokenPair
	interval time.Duration
	workers  int
	out      chan<- domain.Opportunity
	events   domain.EventPublisher
	logger   *slog.Logger

	mu     sync.RWMutex
	params Params
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	Quotes   QuoteSource
	Pairs    []domain.TokenPair
	Params   Params
	Interval time.Duration
	Workers  int
	Out      chan<- domain.Opportunity
	Events   domain.EventPublisher
	Logger   *slog.Logger
}

// NewLoop creates a detection loop.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Loop{
		quotes:   cfg.Quotes,
		pairs:    cfg.Pairs,
		params:   cfg.Params,
		interval: cfg.Interval,
		workers:  cfg.Workers,
		out:      cfg.Out,
		events:   cfg.Events,
		logger:   cfg.Logger.With(slog.String("component", "arb_detector")),
	}
}

// SetRequestedSize changes the size used for profit estimates (e.g. when
// reinvested profit grows the position ceiling).
func (l *Loop) SetRequestedSize(size float64) {
	l.mu.Lock()
	l.params.RequestedSize = size
	l.mu.Unlock()
}

// Params returns the current detector parameters.
func (l *Loop) Params() Params {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.params
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("detector started",
		slog.Int("pairs", len(l.pairs)),
		slog.Duration("interval", l.interval),
	)
	defer l.logger.Info("detector stopped")

	active := make(map[domain.TokenPair]bool, len(l.pairs))
	for _, p := range l.pairs {
		active[p] = true
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Scan(ctx)
		case pair := <-l.quotes.Updates():
			if active[pair] {
				l.scanPair(ctx, pair)
			}
		}
	}
}

// Scan runs one detection pass over every active pair on a bounded pool.
func (l *Loop) Scan(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for _, pair := range l.pairs {
		g.Go(func() error {
			l.scanPair(gctx, pair)
			return nil
		})
	}
	_ = g.Wait()
}

func (l *Loop) scanPair(ctx context.Context, pair domain.TokenPair) {
	quotes := l.quotes.CurrentQuotes(pair)
	if len(quotes) < 2 {
		return
	}
	opp, ok := Detect(quotes, l.Params())
	if !ok {
		metrics.SpreadPct.WithLabelValues(pair.String()).Set(bestSpreadPct(quotes))
		return
	}
	opp.ID = uuid.NewString()
	metrics.SpreadPct.WithLabelValues(pair.String()).Set(opp.GrossSpreadPct)
	metrics.OpportunitiesDetected.WithLabelValues(pair.String()).Inc()

	l.logger.Debug("opportunity detected",
		slog.String("pair", pair.String()),
		slog.String("buy", opp.BuyExchange),
		slog.String("sell", opp.SellExchange),
		slog.Float64("spread_pct", opp.GrossSpreadPct),
		slog.Float64("net_profit", opp.NetProfit),
	)
	if l.events != nil {
		l.events.Publish(domain.EventOpportunityDetected, pair.String(), opp)
	}

	select {
	case l.out <- opp:
	case <-ctx.Done():
	default:
		l.logger.Debug("coordinator queue full, opportunity dropped", slog.String("pair", pair.String()))
	}
}

// bestSpreadPct is the widest cross-exchange gross spread, for metrics only.
func bestSpreadPct(quotes []domain.Quote) float64 {
	best := 0.0
	for _, b := range quotes {
		for _, s := range quotes {
			if b.Exchange == s.Exchange {
				continue
			}
			if sp := GrossSpread(b.Ask, s.Bid) * 100; sp > best {
				best = sp
			}
		}
	}
	return best
}
