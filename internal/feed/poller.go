package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// Poller fetches one (exchange, pair) quote at a fixed interval and feeds it to
// the aggregator. On failure it backs off exponentially; other pollers are not
// affected.
type Poller struct {
	source     domain.PriceSource
	agg        *Aggregator
	exchange   string
	pair       domain.TokenPair
	interval   time.Duration
	maxBackoff time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

// PollerConfig holds the timing knobs shared by every poller.
type PollerConfig struct {
	Interval   time.Duration
	MaxBackoff time.Duration
	Timeout    time.Duration
}

// NewPoller creates a Poller.
func NewPoller(source domain.PriceSource, agg *Aggregator, exchange string, pair domain.TokenPair, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = cfg.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	return &Poller{
		source:     source,
		agg:        agg,
		exchange:   exchange,
		pair:       pair,
		interval:   cfg.Interval,
		maxBackoff: cfg.MaxBackoff,
		timeout:    cfg.Timeout,
		logger: logger.With(
			slog.String("component", "feed_poller"),
			slog.String("exchange", exchange),
			slog.String("pair", pair.String()),
		),
	}
}

// Run polls until ctx is cancelled. Feed errors are never returned.
func (p *Poller) Run(ctx context.Context) error {
	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			delay := Backoff(p.interval, failures, p.maxBackoff)
			metrics.FeedErrors.WithLabelValues(p.exchange).Inc()
			p.logger.Warn("quote fetch failed",
				slog.String("error", err.Error()),
				slog.Int("failures", failures),
				slog.Duration("retry_in", delay),
			)
			timer.Reset(delay)
			continue
		}

		if failures > 0 {
			p.logger.Info("feed recovered", slog.Int("after_failures", failures))
			failures = 0
		}
		timer.Reset(p.interval)
	}
}

func (p *Poller) poll(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	q, err := p.source.FetchQuote(fetchCtx, p.exchange, p.pair)
	elapsed := time.Since(start)
	metrics.FeedLatency.WithLabelValues(p.exchange).Observe(elapsed.Seconds())
	if err != nil {
		if errors.Is(err, domain.ErrFeedUnavailable) {
			return err
		}
		return errors.Join(domain.ErrFeedUnavailable, err)
	}

	q.Exchange = p.exchange
	q.Pair = p.pair
	if q.Latency == 0 {
		q.Latency = elapsed
	}
	p.agg.UpdateQuote(q)
	return nil
}

// Backoff returns base doubled once per consecutive failure, capped at max.
func Backoff(base time.Duration, failures int, max time.Duration) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// RunPollers runs every poller until ctx is cancelled.
func RunPollers(ctx context.Context, pollers []*Poller) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pollers {
		g.Go(func() error { return p.Run(gctx) })
	}
	return g.Wait()
}
