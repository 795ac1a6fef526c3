// Package feed maintains the freshest quote per (exchange, pair) and runs the
// pollers that keep it current.
package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// maxClockSkew bounds how far ahead of the local clock a quote timestamp may
// be. Later timestamps would outrank every real update until the clock
// caught up.
const maxClockSkew = 2 * time.Second

type quoteKey struct {
	exchange string
	pair     domain.TokenPair
}

// Aggregator keeps the latest quote for every (exchange, pair). Updates are
// commutative: the newest timestamp wins regardless of arrival order.
type Aggregator struct {
	mu        sync.RWMutex
	quotes    map[quoteKey]domain.Quote
	staleness time.Duration
	now       func() time.Time

	cache   domain.QuoteCache
	updates chan domain.TokenPair
	logger  *slog.Logger
}

// NewAggregator creates an Aggregator that hides quotes older than staleness.
func NewAggregator(staleness time.Duration, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		quotes:    make(map[quoteKey]domain.Quote),
		staleness: staleness,
		now:       time.Now,
		updates:   make(chan domain.TokenPair, 256),
		logger:    logger.With(slog.String("component", "feed_aggregator")),
	}
}

// SetCache mirrors every accepted quote into c. Mirror failures are logged and
// never affect the in-process view.
func (a *Aggregator) SetCache(c domain.QuoteCache) {
	a.cache = c
}

// Updates signals pairs whose quotes changed. Signals are dropped when the
// consumer falls behind; the periodic detection tick covers the gap.
func (a *Aggregator) Updates() <-chan domain.TokenPair {
	return a.updates
}

// Staleness returns the configured freshness bound.
func (a *Aggregator) Staleness() time.Duration {
	return a.staleness
}

// UpdateQuote replaces the stored quote for (q.Exchange, q.Pair). A quote older
// than the stored one, or dated beyond the allowed clock skew, is ignored and
// false is returned.
func (a *Aggregator) UpdateQuote(q domain.Quote) bool {
	if !q.Valid() {
		metrics.QuotesRejected.WithLabelValues(q.Exchange, "invalid").Inc()
		a.logger.Debug("invalid quote dropped",
			slog.String("exchange", q.Exchange),
			slog.String("pair", q.Pair.String()),
		)
		return false
	}
	now := a.now()
	if q.Timestamp.IsZero() {
		q.Timestamp = now
	}
	if q.Timestamp.After(now.Add(maxClockSkew)) {
		metrics.QuotesRejected.WithLabelValues(q.Exchange, "future_dated").Inc()
		a.logger.Debug("future-dated quote dropped",
			slog.String("exchange", q.Exchange),
			slog.String("pair", q.Pair.String()),
			slog.Time("received", q.Timestamp),
		)
		return false
	}

	key := quoteKey{exchange: q.Exchange, pair: q.Pair}
	a.mu.Lock()
	prev, ok := a.quotes[key]
	if ok && q.Timestamp.Before(prev.Timestamp) {
		a.mu.Unlock()
		metrics.QuotesRejected.WithLabelValues(q.Exchange, "out_of_order").Inc()
		a.logger.Debug("out-of-order quote dropped",
			slog.String("exchange", q.Exchange),
			slog.String("pair", q.Pair.String()),
			slog.Time("stored", prev.Timestamp),
			slog.Time("received", q.Timestamp),
		)
		return false
	}
	a.quotes[key] = q
	a.mu.Unlock()

	metrics.QuotesAccepted.WithLabelValues(q.Exchange).Inc()

	select {
	case a.updates <- q.Pair:
	default:
	}

	if a.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		if err := a.cache.SetQuote(ctx, q); err != nil {
			a.logger.Warn("quote mirror failed",
				slog.String("exchange", q.Exchange),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
	return true
}

// CurrentQuotes returns the freshest quote of every exchange for pair, sorted
// by exchange name. Stale entries are excluded.
func (a *Aggregator) CurrentQuotes(pair domain.TokenPair) []domain.Quote {
	now := a.now()
	a.mu.RLock()
	out := make([]domain.Quote, 0, 4)
	for k, q := range a.quotes {
		if k.pair == pair && q.Fresh(now, a.staleness) {
			out = append(out, q)
		}
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}

// Quote returns the stored quote for (exchange, pair) if it is still fresh.
func (a *Aggregator) Quote(exchange string, pair domain.TokenPair) (domain.Quote, bool) {
	a.mu.RLock()
	q, ok := a.quotes[quoteKey{exchange: exchange, pair: pair}]
	a.mu.RUnlock()
	if !ok || !q.Fresh(a.now(), a.staleness) {
		return domain.Quote{}, false
	}
	return q, true
}
