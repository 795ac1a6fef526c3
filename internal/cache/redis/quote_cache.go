package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// QuoteCache implements domain.QuoteCache with one hash per
// (exchange, pair) holding bid, ask, depth and ts (Unix nanoseconds). Keys
// expire after ttl so a dead feed does not leave quotes behind.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache. ttl <= 0 disables expiry.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(exchange string, pair domain.TokenPair) string {
	return keyPrefix + "quote:" + exchange + ":" + pair.String()
}

// SetQuote stores q.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Exchange, q.Pair)
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"bid":        strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask":        strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"depth":      strconv.FormatFloat(q.Depth, 'f', -1, 64),
		"latency_ns": strconv.FormatInt(int64(q.Latency), 10),
		"ts":         strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	})
	if qc.ttl > 0 {
		pipe.PExpire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// GetQuote returns the cached quote or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, exchange string, pair domain.TokenPair) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(exchange, pair)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s %s: %w", exchange, pair, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, fmt.Errorf("quote %s %s: %w", exchange, pair, domain.ErrNotFound)
	}
	return decodeQuote(exchange, pair, vals)
}

// GetQuotes fetches the quotes of several exchanges in one pipeline.
// Missing or malformed entries are left out.
func (qc *QuoteCache) GetQuotes(ctx context.Context, pair domain.TokenPair, exchanges []string) ([]domain.Quote, error) {
	if len(exchanges) == 0 {
		return nil, nil
	}
	pipe := qc.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(exchanges))
	for i, ex := range exchanges {
		cmds[i] = pipe.HGetAll(ctx, quoteKey(ex, pair))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes %s: %w", pair, err)
	}

	out := make([]domain.Quote, 0, len(exchanges))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := decodeQuote(exchanges[i], pair, vals)
		if err != nil {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func decodeQuote(exchange string, pair domain.TokenPair, vals map[string]string) (domain.Quote, error) {
	q := domain.Quote{Exchange: exchange, Pair: pair}
	floats := []struct {
		field string
		dst   *float64
	}{
		{"bid", &q.Bid},
		{"ask", &q.Ask},
		{"depth", &q.Depth},
	}
	for _, f := range floats {
		v, err := strconv.ParseFloat(vals[f.field], 64)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("redis: parse %s of %s %s: %w", f.field, exchange, pair, err)
		}
		*f.dst = v
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts of %s %s: %w", exchange, pair, err)
	}
	q.Timestamp = time.Unix(0, ts)
	if lat, err := strconv.ParseInt(vals["latency_ns"], 10, 64); err == nil {
		q.Latency = time.Duration(lat)
	}
	return q, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
