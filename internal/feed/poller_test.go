package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(base, tt.failures, time.Second), "failures=%d", tt.failures)
	}
}

type flakySource struct {
	calls atomic.Int32
	fail  bool
	price float64
}

func (s *flakySource) FetchQuote(_ context.Context, exchange string, pair domain.TokenPair) (domain.Quote, error) {
	s.calls.Add(1)
	if s.fail {
		return domain.Quote{}, errors.New("connection refused")
	}
	return domain.Quote{Exchange: exchange, Pair: pair, Bid: s.price, Ask: s.price, Timestamp: time.Now()}, nil
}

func TestPollersIsolateFailingExchange(t *testing.T) {
	agg := NewAggregator(time.Second, testLogger())
	good := &flakySource{price: 22.5}
	bad := &flakySource{fail: true}
	cfg := PollerConfig{Interval: 10 * time.Millisecond, MaxBackoff: 40 * time.Millisecond, Timeout: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := RunPollers(ctx, []*Poller{
		NewPoller(good, agg, "dex1", solUSDC, cfg, testLogger()),
		NewPoller(bad, agg, "dex2", solUSDC, cfg, testLogger()),
	})
	require.NoError(t, err)

	quotes := agg.CurrentQuotes(solUSDC)
	require.Len(t, quotes, 1)
	assert.Equal(t, "dex1", quotes[0].Exchange)
	assert.Greater(t, good.calls.Load(), bad.calls.Load(), "failing feed must back off")
}

func TestHTTPSourceFetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "SOL", r.URL.Query().Get("base"))
		assert.Equal(t, "USDC", r.URL.Query().Get("quote"))
		json.NewEncoder(w).Encode(quoteResponse{Bid: 22.49, Ask: 22.51, Depth: 5000, Timestamp: 1700000000000})
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second)
	q, err := src.FetchQuote(context.Background(), "jupiter", solUSDC)
	require.NoError(t, err)
	assert.Equal(t, "jupiter", q.Exchange)
	assert.Equal(t, 22.49, q.Bid)
	assert.Equal(t, 22.51, q.Ask)
	assert.Equal(t, 5000.0, q.Depth)
	assert.Equal(t, time.UnixMilli(1700000000000), q.Timestamp)
}

func TestHTTPSourceStatusErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second)
	_, err := src.FetchQuote(context.Background(), "jupiter", solUSDC)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	status.Store(http.StatusBadGateway)
	_, err = src.FetchQuote(context.Background(), "jupiter", solUSDC)
	assert.ErrorIs(t, err, domain.ErrFeedUnavailable)
}

func TestStaticSourceSpread(t *testing.T) {
	src, err := NewStaticSource(map[string]float64{"SOL/USDC": 100}, 20, 1000)
	require.NoError(t, err)

	q, err := src.FetchQuote(context.Background(), "dex1", solUSDC)
	require.NoError(t, err)
	assert.InDelta(t, 99.9, q.Bid, 1e-9)
	assert.InDelta(t, 100.1, q.Ask, 1e-9)

	_, err = src.FetchQuote(context.Background(), "dex1", domain.NewTokenPair("RAY", "USDC"))
	assert.ErrorIs(t, err, domain.ErrFeedUnavailable)
}

func TestWSFeedStreamsIntoAggregator(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.Type != "subscribe" || len(cmd.Pairs) != 1 {
			return
		}
		conn.WriteJSON(wsQuote{Pair: cmd.Pairs[0], Bid: 22.74, Ask: 22.76, Depth: 900, Timestamp: time.Now().UnixMilli()})
		// Hold the connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	agg := NewAggregator(5*time.Second, testLogger())
	wsURL := "ws" + srv.URL[len("http"):]
	feed := NewWSFeed(wsURL, "orca", []domain.TokenPair{solUSDC}, agg, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := agg.Quote("orca", solUSDC)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ws feed did not stop")
	}
}
