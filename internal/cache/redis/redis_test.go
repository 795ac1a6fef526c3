package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func setupRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

var solUSDC = domain.NewTokenPair("SOL", "USDC")

func TestQuoteCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedis(t)
	qc := NewQuoteCache(c, 10*time.Second)

	ts := time.Unix(1700000000, 123456789)
	in := domain.Quote{Exchange: "orca", Pair: solUSDC, Bid: 22.49, Ask: 22.51, Depth: 500, Latency: 40 * time.Millisecond, Timestamp: ts}
	require.NoError(t, qc.SetQuote(ctx, in))
	require.NoError(t, qc.SetQuote(ctx, domain.Quote{Exchange: "raydium", Pair: solUSDC, Bid: 22.7, Ask: 22.75, Timestamp: ts}))

	got, err := qc.GetQuote(ctx, "orca", solUSDC)
	require.NoError(t, err)
	assert.Equal(t, in.Bid, got.Bid)
	assert.Equal(t, in.Ask, got.Ask)
	assert.Equal(t, in.Depth, got.Depth)
	assert.Equal(t, in.Latency, got.Latency)
	assert.True(t, ts.Equal(got.Timestamp))

	quotes, err := qc.GetQuotes(ctx, solUSDC, []string{"orca", "missing", "raydium"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "raydium", quotes[1].Exchange)

	_, err = qc.GetQuote(ctx, "missing", solUSDC)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mr.FastForward(11 * time.Second)
	_, err = qc.GetQuote(ctx, "orca", solUSDC)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedis(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "pair:SOL/USDC", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "pair:SOL/USDC", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	token, err := lm.Holder(ctx, "pair:SOL/USDC")
	require.NoError(t, err)
	ok, err := lm.Extend(ctx, "pair:SOL/USDC", token, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = lm.Extend(ctx, "pair:SOL/USDC", "someone-else", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	unlock()
	assert.False(t, mr.Exists(lockKey("pair:SOL/USDC")))

	// An expired holder cannot release the next owner's lock.
	stale, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	fresh, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	stale()
	assert.True(t, mr.Exists(lockKey("k")))
	fresh()
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	c, _ := setupRedis(t)
	rl := NewRateLimiter(c)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "api:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "api:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "api:5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	now = now.Add(61 * time.Second)
	ok, err = rl.Allow(ctx, "api:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBusStreamsAndPubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := setupRedis(t)
	sb := NewSignalBus(c, 100)

	sub, err := sb.Subscribe(ctx, "events:*")
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, "events:risk.transition", []byte(`{"to":"HALTED"}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"to":"HALTED"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no pubsub message")
	}

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, sb.StreamAppend(ctx, "arbbot:events", []byte(p)))
	}
	msgs, err := sb.StreamRead(ctx, "arbbot:events", "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", string(msgs[0].Payload))

	rest, err := sb.StreamRead(ctx, "arbbot:events", msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", string(rest[0].Payload))
}
