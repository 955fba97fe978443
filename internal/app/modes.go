package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/coinsignal/internal/domain"
	"github.com/alanyoungcy/coinsignal/internal/feed"
	"github.com/alanyoungcy/coinsignal/internal/notify"
	"github.com/alanyoungcy/coinsignal/internal/predictor"
	"github.com/alanyoungcy/coinsignal/internal/pricesource"
	"github.com/alanyoungcy/coinsignal/internal/server"
	"github.com/alanyoungcy/coinsignal/internal/server/handler"
	"github.com/alanyoungcy/coinsignal/internal/server/ws"
	"github.com/alanyoungcy/coinsignal/internal/service"
)

// components holds what one mode runs. Fields a mode does not use stay nil.
type components struct {
	prices      *pricesource.Adapter
	broadcaster domain.Broadcaster
	feed        *feed.BinanceFeed
	hub         *ws.Hub
	alerts      *service.AlertService
	positions   *service.PositionService
	reversal    *service.ReversalDetector
	monitor     *service.Monitor
	server      *server.Server
}

// runMode builds the components of mode and runs them until ctx is cancelled.
//
//	full     feed + hub + REST + monitor + prediction listener
//	stream   feed + hub + REST
//	monitor  monitor + prediction listener, events published on the bus
//	server   hub + REST, events relayed from the bus
func (a *App) runMode(ctx context.Context, mode string, deps *Dependencies) error {
	c, err := a.build(ctx, mode, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if c.hub != nil {
		g.Go(func() error { return c.hub.Run(ctx) })
	}
	if c.feed != nil {
		a.subscribeStartupSymbols(ctx, c, deps)
		g.Go(func() error { return c.feed.Run(ctx) })
	}
	if c.server != nil {
		g.Go(func() error { return c.server.Run(ctx) })
	}
	if c.monitor != nil {
		g.Go(func() error { return c.monitor.Run(ctx) })
		if deps.SignalBus != nil {
			g.Go(func() error { return c.reversal.Listen(ctx, deps.SignalBus) })
		}
	}

	a.logger.InfoContext(ctx, "app: mode running",
		slog.String("mode", mode),
		slog.Bool("feed", c.feed != nil),
		slog.Bool("hub", c.hub != nil),
		slog.Bool("server", c.server != nil),
		slog.Bool("monitor", c.monitor != nil),
	)
	return g.Wait()
}

func (a *App) build(ctx context.Context, mode string, deps *Dependencies) (*components, error) {
	cfg := a.cfg
	withFeed := mode == ModeFull || mode == ModeStream
	withHub := mode != ModeMonitor
	withMonitor := mode == ModeFull || mode == ModeMonitor

	prices, err := buildPriceAdapter(cfg, deps, a.logger)
	if err != nil {
		return nil, err
	}
	c := &components{prices: prices}

	// The broadcaster delivers through the hub, which is created after the
	// feed it subscribes symbols on.
	var (
		registry  *ws.Registry
		transport *hubTransport
	)
	switch {
	case withHub:
		registry = ws.NewRegistry()
		transport = &hubTransport{}
		c.broadcaster = ws.NewBroadcaster(registry, transport, a.logger)
	case deps.SignalBus != nil:
		c.broadcaster = ws.NewBusPublisher(deps.SignalBus, ws.DefaultRelayChannel, a.logger)
	default:
		a.logger.WarnContext(ctx, "app: no hub and no signal bus, consumer events are dropped")
		c.broadcaster = discardBroadcaster{}
	}

	if withFeed {
		c.feed = feed.NewBinanceFeed(feed.Config{
			WsHost:               cfg.Binance.WsHost,
			MaxReconnectAttempts: cfg.Feed.MaxReconnectAttempts,
			ReconnectDelay:       cfg.Feed.ReconnectDelay.Duration,
			CandleTimeout:        cfg.Feed.CandleTimeout.Duration,
			DefaultTimeframe:     cfg.Feed.DefaultTimeframe,
		}, c.broadcaster, prices, a.logger,
			feed.WithStatusHook(feedStatusHook(deps.Notifier, a.logger)),
		)
	}

	var subscriber service.SymbolSubscriber
	if c.feed != nil {
		subscriber = c.feed
	}
	c.alerts = service.NewAlertService(deps.Alerts, c.broadcaster, deps.Notifier, deps.SignalBus, deps.Archiver, a.logger)
	c.positions = service.NewPositionService(deps.Positions, subscriber, c.broadcaster, deps.Archiver, a.logger)
	c.reversal = service.NewReversalDetector(deps.Signals, c.alerts, c.broadcaster, a.logger)

	if withMonitor {
		mcfg := service.MonitorConfig{
			Interval: cfg.Monitor.Interval.Duration,
			Epsilon:  cfg.Monitor.PnLEpsilon,
		}
		if cfg.Monitor.UseLock && deps.LockManager != nil {
			mcfg.Lock = deps.LockManager
		}
		c.monitor = service.NewMonitor(deps.Positions, prices, c.alerts, c.broadcaster, mcfg, a.logger)
	}

	if withHub {
		hcfg := ws.HubConfig{
			Queries: service.Queries{Positions: c.positions, Alerts: c.alerts},
			Pinned:  cfg.Feed.Symbols,
			Bus:     deps.SignalBus,
		}
		if c.feed != nil {
			f := c.feed
			hcfg.Feed = f
			hcfg.Status = func() any { return f.Snapshot() }
		}
		c.hub = ws.NewHub(registry, a.logger, hcfg)
		transport.hub = c.hub
	}

	if withHub && cfg.Server.Enabled {
		c.server = a.buildServer(mode, c, deps)
	}
	return c, nil
}

func (a *App) buildServer(mode string, c *components, deps *Dependencies) *server.Server {
	var feedStatus func() any
	if c.feed != nil {
		f := c.feed
		feedStatus = func() any { return f.Snapshot() }
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Positions: handler.NewPositionHandler(c.positions, a.logger),
		Alerts:    handler.NewAlertHandler(c.alerts, a.logger),
		Signals: handler.NewSignalHandler(c.reversal, deps.Signals,
			predictor.NewClient(a.cfg.Predictor.URL, a.cfg.Predictor.Timeout.Duration), a.logger),
		Prices: handler.NewPriceHandler(c.prices, a.logger),
		Status: handler.NewStatusHandler(mode, feedStatus, c.hub.Status),
	}

	return server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.ApiKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, c.hub, deps.RateLimiter, a.logger)
}

// subscribeStartupSymbols puts the configured symbols and every ACTIVE
// position's symbol on the feed. Startup symbols also refresh the shared
// price cache from the stream.
func (a *App) subscribeStartupSymbols(ctx context.Context, c *components, deps *Dependencies) {
	var onTicker feed.TickerHandler
	if deps.PriceCache != nil {
		onTicker = cacheTicker(deps.PriceCache)
	}
	for _, sym := range a.cfg.Feed.Symbols {
		c.feed.SubscribeSymbol(sym, a.cfg.Feed.DefaultTimeframe, onTicker)
	}

	active, err := c.positions.ActivePositions(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "app: load active positions failed", slog.String("error", err.Error()))
		return
	}
	for _, p := range active {
		c.feed.SubscribeSymbol(p.Symbol, p.Timeframe, nil)
	}
}

// cacheTicker stores every streamed price as a quote in the shared cache.
func cacheTicker(cache domain.PriceCache) feed.TickerHandler {
	return func(ctx context.Context, t domain.Ticker) error {
		return cache.SetQuote(ctx, domain.Quote{
			Symbol:    t.Symbol,
			Price:     t.Price,
			Source:    t.Source,
			FetchedAt: t.Timestamp,
		})
	}
}

// feedStatusHook notifies operators once the feed gives up reconnecting.
func feedStatusHook(n *notify.Notifier, logger *slog.Logger) func(context.Context, feed.StatusEvent) {
	return func(ctx context.Context, ev feed.StatusEvent) {
		if ev.Status != feed.StatusFailed {
			return
		}
		if err := n.Notify(ctx, notify.EventFeedFatal, "Upstream feed failed", ev.Message); err != nil {
			logger.WarnContext(ctx, "app: feed failure notification failed", slog.String("error", err.Error()))
		}
	}
}

// hubTransport forwards to the hub once it exists.
type hubTransport struct {
	hub *ws.Hub
}

func (t *hubTransport) Send(consumerID string, msg []byte) error {
	if t.hub == nil {
		return nil
	}
	return t.hub.Send(consumerID, msg)
}

func (t *hubTransport) ConsumerIDs() []string {
	if t.hub == nil {
		return nil
	}
	return t.hub.ConsumerIDs()
}

type discardBroadcaster struct{}

func (discardBroadcaster) BroadcastSymbol(context.Context, string, string, any) {}
func (discardBroadcaster) BroadcastAll(context.Context, string, any)            {}
