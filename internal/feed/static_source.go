package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// StaticSource serves configured mid prices with a fixed spread. It backs the
// paper mode and tests; prices can be moved at runtime with SetPrice.
type StaticSource struct {
	mu        sync.RWMutex
	prices    map[domain.TokenPair]float64
	spreadBps float64
	depth     float64
	now       func() time.Time
}

// NewStaticSource builds a source from "BASE/QUOTE" -> mid price.
func NewStaticSource(prices map[string]float64, spreadBps, depth float64) (*StaticSource, error) {
	s := &StaticSource{
		prices:    make(map[domain.TokenPair]float64, len(prices)),
		spreadBps: spreadBps,
		depth:     depth,
		now:       time.Now,
	}
	for k, v := range prices {
		pair, err := domain.ParsePair(k)
		if err != nil {
			return nil, fmt.Errorf("feed/static: %w", err)
		}
		s.prices[pair] = v
	}
	return s, nil
}

// SetPrice moves the mid price for pair.
func (s *StaticSource) SetPrice(pair domain.TokenPair, mid float64) {
	s.mu.Lock()
	s.prices[pair] = mid
	s.mu.Unlock()
}

// FetchQuote implements domain.PriceSource.
func (s *StaticSource) FetchQuote(_ context.Context, exchange string, pair domain.TokenPair) (domain.Quote, error) {
	s.mu.RLock()
	mid, ok := s.prices[pair]
	s.mu.RUnlock()
	if !ok {
		return domain.Quote{}, fmt.Errorf("feed/static: %s: no price for %s: %w", exchange, pair, domain.ErrFeedUnavailable)
	}

	half := mid * s.spreadBps / 20_000
	return domain.Quote{
		Exchange:  exchange,
		Pair:      pair,
		Bid:       mid - half,
		Ask:       mid + half,
		Depth:     s.depth,
		Timestamp: s.now(),
	}, nil
}
