package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// wsCommand is sent after connecting to select the streamed pairs.
type wsCommand struct {
	Type  string   `json:"type"`
	Pairs []string `json:"pairs"`
}

// wsQuote is one streamed quote frame.
type wsQuote struct {
	Pair      string  `json:"pair"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Depth     float64 `json:"depth"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// WSFeed streams quotes for one exchange over a WebSocket and pushes them
// straight into the aggregator. It reconnects with exponential backoff.
type WSFeed struct {
	wsURL      string
	exchange   string
	pairs      []domain.TokenPair
	agg        *Aggregator
	baseDelay  time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
	closeOnce  sync.Once
	done       chan struct{}
}

// NewWSFeed creates a feed that will subscribe to the given pairs.
func NewWSFeed(wsURL, exchange string, pairs []domain.TokenPair, agg *Aggregator, maxBackoff time.Duration, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:      wsURL,
		exchange:   exchange,
		pairs:      pairs,
		agg:        agg,
		baseDelay:  time.Second,
		maxBackoff: maxBackoff,
		logger: logger.With(
			slog.String("component", "feed_ws"),
			slog.String("exchange", exchange),
		),
		done: make(chan struct{}),
	}
}

// Run connects, subscribes, and streams until ctx is cancelled or Close is
// called. Disconnects are retried; they are never returned as errors.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.pairs) == 0 {
		f.logger.Info("no pairs to subscribe, exiting")
		return nil
	}
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.done:
			return nil
		default:
		}

		streamed, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if streamed {
			failures = 0
		}
		failures++
		delay := Backoff(f.baseDelay, failures, f.maxBackoff)
		f.logger.Warn("ws disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
	}
}

// runConnection reports whether at least one quote was received.
func (f *WSFeed) runConnection(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("feed/ws: connect: %w", err)
	}
	defer conn.Close()

	names := make([]string, len(f.pairs))
	for i, p := range f.pairs {
		names[i] = p.String()
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(wsCommand{Type: "subscribe", Pairs: names}); err != nil {
		return false, fmt.Errorf("feed/ws: subscribe: %w", err)
	}
	f.logger.Info("ws subscribed", slog.Int("pairs", len(names)))

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(connCtx, conn)
	go func() {
		select {
		case <-connCtx.Done():
		case <-f.done:
		}
		conn.Close()
	}()

	streamed := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return streamed, fmt.Errorf("feed/ws: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var msg wsQuote
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Debug("ws frame ignored", slog.String("error", err.Error()))
			continue
		}
		pair, err := domain.ParsePair(msg.Pair)
		if err != nil {
			continue
		}
		ts := time.Now()
		if msg.Timestamp > 0 {
			ts = time.UnixMilli(msg.Timestamp)
		}
		f.agg.UpdateQuote(domain.Quote{
			Exchange:  f.exchange,
			Pair:      pair,
			Bid:       msg.Bid,
			Ask:       msg.Ask,
			Depth:     msg.Depth,
			Timestamp: ts,
		})
		streamed = true
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// Close stops the feed.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
