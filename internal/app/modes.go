package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/events"
	"github.com/alanyoungcy/flasharb/internal/executor"
	"github.com/alanyoungcy/flasharb/internal/feed"
	"github.com/alanyoungcy/flasharb/internal/flashloan"
	"github.com/alanyoungcy/flasharb/internal/ledger"
	"github.com/alanyoungcy/flasharb/internal/metrics"
	"github.com/alanyoungcy/flasharb/internal/profit"
	"github.com/alanyoungcy/flasharb/internal/risk"
	"github.com/alanyoungcy/flasharb/internal/server"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
	"github.com/alanyoungcy/flasharb/internal/service"
)

const (
	eventBuffer     = 1024
	eventRingSize   = 256
	riskTickEvery   = time.Second
	shutdownGrace   = 10 * time.Second
	opportunityBuff = 64
)

// core is the set of components shared by every mode.
type core struct {
	bus    *events.Bus
	ring   *events.Ring
	hub    *ws.Hub
	agg    *feed.Aggregator
	risk   *risk.Controller
	ledger *ledger.Ledger
	bot    *service.Bot
	pairs  []domain.TokenPair
	params arbitrage.Params
}

// buildCore creates the event bus, aggregator, risk controller, ledger and
// bot, and attaches every configured event sink.
func (a *App) buildCore(deps *Dependencies) (*core, error) {
	metrics.Register()

	pairs := make([]domain.TokenPair, 0, len(a.cfg.Trading.Pairs))
	for _, s := range a.cfg.Trading.Pairs {
		p, err := domain.ParsePair(s)
		if err != nil {
			return nil, fmt.Errorf("build core: %w", err)
		}
		pairs = append(pairs, p)
	}

	bus := events.NewBus(eventBuffer, a.logger)

	agg := feed.NewAggregator(a.cfg.Feed.Staleness.Duration, a.logger)
	if a.cfg.Feed.MirrorToRedis && deps.QuoteCache != nil {
		agg.SetCache(deps.QuoteCache)
	}

	level, err := domain.ParseRiskLevel(a.cfg.Risk.Level)
	if err != nil {
		return nil, fmt.Errorf("build core: %w", err)
	}
	rc, err := risk.NewController(risk.Config{
		Level:               level,
		BaseCapital:         a.cfg.Risk.BaseCapital,
		MaxPositionSize:     a.cfg.Risk.MaxPositionSize,
		MinTradeSize:        a.cfg.Risk.MinTradeSize,
		MaxConcurrentTrades: a.cfg.Risk.MaxConcurrentTrades,
		MaxDailyLoss:        a.cfg.Risk.MaxDailyLoss,
		MaxTradesPerDay:     a.cfg.Risk.MaxTradesPerDay,
		UseCircuitBreakers:  a.cfg.Risk.UseCircuitBreakers,
		FailureThreshold:    a.cfg.Risk.FailureThreshold,
		RecoverySuccesses:   a.cfg.Risk.RecoverySuccesses,
		ThrottleMultiplier:  a.cfg.Risk.ThrottleMultiplier,
		HaltCooldown:        a.cfg.Risk.HaltCooldown.Duration,
	}, bus, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build core: risk controller: %w", err)
	}

	led := ledger.New(deps.Attempts, a.logger)

	exchanges := make([]string, 0, len(a.cfg.Feed.Exchanges))
	for _, ex := range a.cfg.Feed.Exchanges {
		exchanges = append(exchanges, ex.Name)
	}
	bot := service.NewBot(service.BotConfig{
		Mode:      a.cfg.Mode,
		Pairs:     a.cfg.Trading.Pairs,
		Exchanges: exchanges,
	}, led, bus, deps.Audit, a.logger)

	params := arbitrage.Params{
		MinProfitPct:      a.cfg.Trading.MinProfitPercentage,
		SlippageTolerance: a.cfg.Trading.SlippageTolerance,
		TradingFeePct:     a.cfg.Trading.TradingFeePct,
		NetworkFee:        a.cfg.Trading.NetworkFee,
		RequestedSize:     rc.MaxPositionSize(),
		UseFlashLoans:     a.cfg.Trading.UseFlashLoans,
		Staleness:         a.cfg.Feed.Staleness.Duration,
	}
	if a.cfg.Trading.UseFlashLoans {
		book, err := flashloan.NewBook(a.cfg.FlashLoan.Provider, a.cfg.FlashLoan.CustomFeePct, a.cfg.FlashLoan.MaxLoanAmount)
		if err != nil {
			return nil, fmt.Errorf("build core: flash loans: %w", err)
		}
		params.Loans = book
	}

	ring := events.NewRing(eventRingSize)
	hub := ws.NewHub(func(ctx context.Context) (any, error) {
		return bot.Snapshot(ctx)
	}, a.cfg.Server.CORSOrigins, a.logger)

	bus.AddSink(bot)
	bus.AddSink(ring)
	bus.AddSink(hub)
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		bus.AddSink(deps.Notifier)
	}
	if deps.SignalBus != nil {
		bus.AddSink(events.NewRedisSink(deps.SignalBus))
	}
	if deps.KafkaSink != nil {
		bus.AddSink(deps.KafkaSink)
	}

	return &core{
		bus:    bus,
		ring:   ring,
		hub:    hub,
		agg:    agg,
		risk:   rc,
		ledger: led,
		bot:    bot,
		pairs:  pairs,
		params: params,
	}, nil
}

// TradeMode runs the full loop: feeds, detection, risk, execution and the
// ledger. The submitter is the paper ledger in paper mode and the signed
// relay in live mode.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.String("mode", a.cfg.Mode))

	c, err := a.buildCore(deps)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	submitter, err := a.buildSubmitter(c)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	var locks executor.PairLocker = executor.NewMemoryLocks()
	if a.cfg.Execution.LockBackend == "redis" && deps.LockManager != nil {
		locks = executor.NewDistributedLocks(deps.LockManager, a.cfg.Execution.LockTTL.Duration)
	}

	opps := make(chan domain.Opportunity, opportunityBuff)
	loop := arbitrage.NewLoop(arbitrage.LoopConfig{
		Quotes:   c.agg,
		Pairs:    c.pairs,
		Params:   c.params,
		Interval: a.cfg.Feed.UpdateInterval(),
		Workers:  a.cfg.Trading.DetectWorkers,
		Out:      opps,
		Events:   c.bus,
		Logger:   a.logger,
	})

	dist, err := profit.NewDistributor(profit.Config{
		AutoReinvest:       a.cfg.Profit.AutoReinvest,
		ReinvestPercentage: a.cfg.Profit.ReinvestPercentage,
		WithdrawPercentage: a.cfg.Profit.WithdrawPercentage,
		ReservePercentage:  a.cfg.Profit.ReservePercentage,
		MinDistribution:    a.cfg.Profit.MinDistribution,
	}, &capitalRouter{risk: c.risk, loop: loop}, a.logger)
	if err != nil {
		return fmt.Errorf("trade mode: profit distributor: %w", err)
	}

	coord := executor.NewCoordinator(executor.Config{
		Workers:             a.cfg.Risk.MaxConcurrentTrades,
		MaxAttempts:         a.cfg.Execution.MaxAttempts,
		RetryBackoff:        a.cfg.Execution.RetryBackoff.Duration,
		ConfirmationTimeout: a.cfg.Execution.ConfirmationTimeout.Duration,
		DedupTTL:            a.cfg.Execution.DedupTTL.Duration,
		Params:              c.params,
	}, executor.Deps{
		Risk:      c.risk,
		Quotes:    c.agg,
		Submitter: submitter,
		Ledger:    c.ledger,
		Locks:     locks,
		Events:    c.bus,
		Profit:    dist,
		Gate:      c.bot,
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	a.startCore(ctx, g, c)
	a.startFeeds(ctx, g, c.agg, c.pairs)
	g.Go(func() error { return a.supervise(ctx, c.bot, "detector", loop.Run) })
	g.Go(func() error {
		return a.supervise(ctx, c.bot, "coordinator", func(ctx context.Context) error {
			return coord.Run(ctx, opps)
		})
	})
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, c)

	if err := c.bot.Start(ctx); err != nil {
		return fmt.Errorf("trade mode: start bot: %w", err)
	}

	return g.Wait()
}

// MonitorMode runs feeds and detection only. Opportunities are published
// as events and then dropped.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	c, err := a.buildCore(deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	opps := make(chan domain.Opportunity, opportunityBuff)
	loop := arbitrage.NewLoop(arbitrage.LoopConfig{
		Quotes:   c.agg,
		Pairs:    c.pairs,
		Params:   c.params,
		Interval: a.cfg.Feed.UpdateInterval(),
		Workers:  a.cfg.Trading.DetectWorkers,
		Out:      opps,
		Events:   c.bus,
		Logger:   a.logger,
	})

	g, ctx := errgroup.WithContext(ctx)

	a.startCore(ctx, g, c)
	a.startFeeds(ctx, g, c.agg, c.pairs)
	g.Go(func() error { return a.supervise(ctx, c.bot, "detector", loop.Run) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case opp := <-opps:
				a.logger.DebugContext(ctx, "opportunity observed",
					slog.String("id", opp.ID),
					slog.String("route", opp.Route()),
					slog.Float64("net_profit", opp.NetProfit),
				)
			}
		}
	})
	a.startHTTPServer(ctx, g, deps, c)

	return g.Wait()
}

// ServerMode serves the HTTP surface over the stored ledger without
// trading. The archiver runs when enabled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	c, err := a.buildCore(deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	a.startCore(ctx, g, c)
	a.startArchiver(ctx, g, deps)
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false, but server mode always runs the HTTP server")
	}
	a.runHTTPServer(ctx, g, deps, c)

	return g.Wait()
}

// startCore runs the event bus, the risk controller clock and the ws hub.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, c *core) {
	g.Go(func() error { return c.bus.Run(ctx) })
	g.Go(func() error { return c.risk.Run(ctx, riskTickEvery) })
	g.Go(func() error { return c.hub.Run(ctx) })
}

// startFeeds starts one poller per (exchange, pair) for polled sources and
// one streaming connection per websocket exchange.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, agg *feed.Aggregator, pairs []domain.TokenPair) {
	pollCfg := feed.PollerConfig{
		Interval:   a.cfg.Feed.UpdateInterval(),
		MaxBackoff: a.cfg.Feed.MaxBackoff.Duration,
		Timeout:    a.cfg.Feed.RequestTimeout.Duration,
	}

	var pollers []*feed.Poller
	for _, ex := range a.cfg.Feed.Exchanges {
		var source domain.PriceSource
		switch ex.Kind {
		case "ws":
			f := feed.NewWSFeed(ex.URL, ex.Name, pairs, agg, a.cfg.Feed.MaxBackoff.Duration, a.logger)
			g.Go(func() error { return f.Run(ctx) })
			continue
		case "static":
			s, err := feed.NewStaticSource(ex.Prices, ex.SpreadBps, ex.Depth)
			if err != nil {
				a.logger.ErrorContext(ctx, "skipping static exchange",
					slog.String("exchange", ex.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			source = s
		default:
			source = feed.NewHTTPSource(ex.URL, a.cfg.Feed.RequestTimeout.Duration)
		}
		for _, p := range pairs {
			pollers = append(pollers, feed.NewPoller(source, agg, ex.Name, p, pollCfg, a.logger))
		}
	}

	if len(pollers) > 0 {
		g.Go(func() error { return feed.RunPollers(ctx, pollers) })
	}
}

// supervise runs fn and moves the bot to the error state when it fails.
func (a *App) supervise(ctx context.Context, bot *service.Bot, name string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err != nil && ctx.Err() == nil {
		bot.Fail(context.WithoutCancel(ctx), fmt.Errorf("%s: %w", name, err))
	}
	return err
}

// buildSubmitter picks the paper ledger or the signed relay.
func (a *App) buildSubmitter(c *core) (domain.Submitter, error) {
	if a.cfg.Execution.Submitter != "relay" {
		return executor.NewPaperSubmitter(c.agg, a.cfg.Trading.TradingFeePct, a.cfg.Trading.NetworkFee, a.logger), nil
	}

	key, err := crypto.KeySource{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	}.Resolve()
	if err != nil {
		return nil, fmt.Errorf("build submitter: %w", err)
	}
	signer, err := crypto.NewSigner(key, a.cfg.Execution.ChainID)
	if err != nil {
		return nil, fmt.Errorf("build submitter: create signer: %w", err)
	}
	a.logger.Info("relay submitter ready",
		slog.String("address", signer.Address().Hex()),
		slog.String("relay", a.cfg.Execution.RelayURL),
	)
	return executor.NewRelaySubmitter(a.cfg.Execution.RelayURL, signer, crypto.RelayAuth{
		Key:    a.cfg.Execution.RelayAPIKey,
		Secret: a.cfg.Execution.RelaySecret,
	}), nil
}

// startArchiver moves ledger months older than the retention period to
// object storage once per archive interval.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Ledger.ArchiveRetentionDays) * 24 * time.Hour
	every := a.cfg.Ledger.ArchiveInterval.Duration
	if every <= 0 {
		every = 24 * time.Hour
	}

	g.Go(func() error {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			a.archiveExpired(ctx, deps, retention)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
}

// archiveExpired archives the previous calendar month once every attempt in
// it is older than the retention period.
func (a *App) archiveExpired(ctx context.Context, deps *Dependencies, retention time.Duration) {
	now := time.Now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if now.Sub(thisMonth) < retention {
		return
	}
	prev := thisMonth.AddDate(0, -1, 0)
	n, err := deps.Archiver.ArchiveMonth(ctx, prev)
	if err != nil {
		a.logger.ErrorContext(ctx, "ledger archive failed",
			slog.String("month", prev.Format("2006-01")),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "ledger month archived",
			slog.String("month", prev.Format("2006-01")),
			slog.Int64("attempts", n),
		)
	}
}

// startHTTPServer runs the API when server.enabled is set.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	if !a.cfg.Server.Enabled {
		return
	}
	a.runHTTPServer(ctx, g, deps, c)
}

func (a *App) runHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	srv := server.NewServer(server.Config{
		Addr:        fmt.Sprintf(":%d", a.cfg.Server.Port),
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Bot:     handler.NewBotHandler(c.bot, a.logger),
		Risk:    handler.NewRiskHandler(c.risk, a.logger),
		Ledger:  handler.NewLedgerHandler(c.ledger, a.logger),
		Quotes:  handler.NewQuotesHandler(c.agg),
		Events:  handler.NewEventsHandler(c.ring),
		Metrics: metrics.Handler(),
	}, c.hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return srv.Run(ctx, shutdownGrace) })
}

// capitalRouter adds reinvested profit to the risk controller's capital and
// lets the detector size estimates from the new position limit.
type capitalRouter struct {
	risk *risk.Controller
	loop *arbitrage.Loop
}

func (r *capitalRouter) AddCapital(amount float64) {
	r.risk.AddCapital(amount)
	r.loop.SetRequestedSize(r.risk.MaxPositionSize())
}
