// Package service holds the bot lifecycle and the statistics surfaced by the
// HTTP API.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/ledger"
)

// Summarizer is the part of the ledger the bot reads.
type Summarizer interface {
	Summarize(ctx context.Context, window time.Duration) (ledger.Summary, error)
}

// BotConfig describes what the bot trades, for status reporting.
type BotConfig struct {
	Mode      string
	Pairs     []string
	Exchanges []string
}

// transitions lists the legal status changes per action.
var transitions = map[string]map[domain.BotStatus]domain.BotStatus{
	"start":  {domain.BotStopped: domain.BotRunning, domain.BotError: domain.BotRunning},
	"stop":   {domain.BotRunning: domain.BotStopped, domain.BotPaused: domain.BotStopped, domain.BotError: domain.BotStopped},
	"pause":  {domain.BotRunning: domain.BotPaused},
	"resume": {domain.BotPaused: domain.BotRunning},
}

// Bot tracks the lifecycle of the trading loop. A paused or stopped bot
// keeps its feeds running but the coordinator drops every opportunity.
type Bot struct {
	cfg    BotConfig
	ledger Summarizer
	events domain.EventPublisher
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	status    domain.BotStatus
	startedAt time.Time
	lastError string

	detected atomic.Int64
	skipped  atomic.Int64
}

// NewBot creates a stopped bot. audit may be nil.
func NewBot(cfg BotConfig, ledger Summarizer, events domain.EventPublisher, audit domain.AuditStore, logger *slog.Logger) *Bot {
	return &Bot{
		cfg:    cfg,
		ledger: ledger,
		events: events,
		audit:  audit,
		logger: logger.With(slog.String("component", "bot")),
		now:    time.Now,
		status: domain.BotStopped,
	}
}

// Start moves a stopped (or errored) bot to running.
func (b *Bot) Start(ctx context.Context) error { return b.apply(ctx, "start", "") }

// Stop halts trading.
func (b *Bot) Stop(ctx context.Context) error { return b.apply(ctx, "stop", "") }

// Pause stops taking opportunities while feeds keep running.
func (b *Bot) Pause(ctx context.Context) error { return b.apply(ctx, "pause", "") }

// Resume continues a paused bot.
func (b *Bot) Resume(ctx context.Context) error { return b.apply(ctx, "resume", "") }

// Do runs a named action ("start", "stop", "pause" or "resume").
func (b *Bot) Do(ctx context.Context, action string) error {
	if _, ok := transitions[action]; !ok {
		return fmt.Errorf("bot: unknown action %q: %w", action, domain.ErrNotFound)
	}
	return b.apply(ctx, action, "")
}

// Fail records a fatal loop error and moves to the error status.
func (b *Bot) Fail(ctx context.Context, err error) {
	b.mu.Lock()
	from := b.status
	b.status = domain.BotError
	b.lastError = err.Error()
	b.mu.Unlock()
	b.logger.Error("bot failed", slog.String("error", err.Error()))
	b.announce(ctx, from, domain.BotError, err.Error())
}

func (b *Bot) apply(ctx context.Context, action, reason string) error {
	b.mu.Lock()
	from := b.status
	to, ok := transitions[action][from]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("bot: cannot %s while %s: %w", action, from, domain.ErrInvalidState)
	}
	b.status = to
	switch action {
	case "start":
		b.startedAt = b.now()
		b.lastError = ""
	case "stop":
		b.startedAt = time.Time{}
	}
	b.mu.Unlock()

	b.logger.Info("bot status changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	b.announce(ctx, from, to, reason)
	return nil
}

func (b *Bot) announce(ctx context.Context, from, to domain.BotStatus, reason string) {
	change := domain.BotStatusChange{From: from, To: to, Reason: reason}
	if b.events != nil {
		b.events.Publish(domain.EventBotStatus, string(to), change)
	}
	if b.audit != nil {
		detail := map[string]any{"from": string(from), "to": string(to)}
		if reason != "" {
			detail["reason"] = reason
		}
		if err := b.audit.Log(ctx, "bot."+string(to), detail); err != nil {
			b.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
}

// Status returns the current status.
func (b *Bot) Status() domain.BotStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Accepting reports whether new opportunities may be executed.
func (b *Bot) Accepting() bool {
	return b.Status() == domain.BotRunning
}

// Stats combines the live counters with the ledger totals.
func (b *Bot) Stats(ctx context.Context) (domain.Statistics, error) {
	st := domain.Statistics{
		OpportunitiesDetected: b.detected.Load(),
		OpportunitiesSkipped:  b.skipped.Load(),
	}
	sum, err := b.ledger.Summarize(ctx, 0)
	if err != nil {
		return st, fmt.Errorf("bot: stats: %w", err)
	}
	st.TradesExecuted = int64(sum.Successes)
	st.TradesFailed = int64(sum.Failures)
	st.TradesAborted = int64(sum.Aborts)
	st.SuccessRate = sum.SuccessRate
	st.AvgExecutionTime = sum.AvgExecution
	st.TotalProfit = sum.TotalProfit
	return st, nil
}

// Snapshot returns everything the status endpoint shows.
func (b *Bot) Snapshot(ctx context.Context) (domain.BotSnapshot, error) {
	stats, err := b.Stats(ctx)
	b.mu.RLock()
	snap := domain.BotSnapshot{
		Status:    b.status,
		Mode:      b.cfg.Mode,
		Pairs:     b.cfg.Pairs,
		Exchanges: b.cfg.Exchanges,
		Stats:     stats,
		LastError: b.lastError,
	}
	if !b.startedAt.IsZero() {
		snap.UptimeSeconds = int64(b.now().Sub(b.startedAt).Seconds())
	}
	b.mu.RUnlock()
	return snap, err
}

// Name implements events.Sink.
func (b *Bot) Name() string { return "bot_stats" }

// Deliver implements events.Sink and counts opportunity events.
func (b *Bot) Deliver(_ context.Context, ev domain.Event) error {
	switch ev.Kind {
	case domain.EventOpportunityDetected:
		b.detected.Add(1)
	case domain.EventOpportunitySkipped:
		b.skipped.Add(1)
	}
	return nil
}
