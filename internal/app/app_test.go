package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinsignal/internal/config"
	"github.com/alanyoungcy/coinsignal/internal/domain"
	"github.com/alanyoungcy/coinsignal/internal/feed"
	"github.com/alanyoungcy/coinsignal/internal/notify"
	"github.com/alanyoungcy/coinsignal/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func offlineConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Prices.Sources = []string{"synthetic"}
	cfg.Server.Port = 0
	return &cfg
}

func TestWire_InMemoryFallback(t *testing.T) {
	cfg := offlineConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.PositionStore{}, deps.Positions)
	assert.IsType(t, &memory.AlertStore{}, deps.Alerts)
	assert.Nil(t, deps.PriceCache)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.HealthChecks)
	assert.False(t, deps.Notifier.Enabled())
}

func TestBuildPriceAdapter(t *testing.T) {
	cfg := offlineConfig()
	deps := &Dependencies{}

	a, err := buildPriceAdapter(cfg, deps, testLogger())
	require.NoError(t, err)
	q, err := a.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "synthetic", q.Source)
	assert.Greater(t, q.Price, 0.0)

	cfg.Prices.Sources = []string{"kraken"}
	_, err = buildPriceAdapter(cfg, deps, testLogger())
	assert.Error(t, err)

	cfg.Prices.Sources = nil
	_, err = buildPriceAdapter(cfg, deps, testLogger())
	assert.Error(t, err)
}

type countingSender struct {
	calls atomic.Int32
}

func (s *countingSender) Send(context.Context, string, string) error {
	s.calls.Add(1)
	return nil
}

func (s *countingSender) Name() string { return "counting" }

func TestFeedStatusHook(t *testing.T) {
	sender := &countingSender{}
	n := notify.NewNotifier([]notify.Sender{sender}, []string{notify.EventFeedFatal}, testLogger())
	hook := feedStatusHook(n, testLogger())

	hook(context.Background(), feed.StatusEvent{Status: "reconnecting"})
	assert.EqualValues(t, 0, sender.calls.Load())

	hook(context.Background(), feed.StatusEvent{Status: feed.StatusFailed, Message: "gave up"})
	assert.EqualValues(t, 1, sender.calls.Load())
}

type memCache struct {
	quotes map[string]domain.Quote
}

func (m *memCache) SetQuote(_ context.Context, q domain.Quote) error {
	m.quotes[q.Symbol] = q
	return nil
}

func (m *memCache) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	q, ok := m.quotes[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func (m *memCache) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := map[string]domain.Quote{}
	for _, s := range symbols {
		if q, err := m.GetQuote(ctx, s); err == nil {
			out[s] = q
		}
	}
	return out, nil
}

func TestCacheTicker(t *testing.T) {
	c := &memCache{quotes: map[string]domain.Quote{}}
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cacheTicker(c)(context.Background(), domain.Ticker{
		Symbol: "BTCUSDT", Price: 45000, Source: "binance", Timestamp: ts,
	}))
	assert.Equal(t, domain.Quote{Symbol: "BTCUSDT", Price: 45000, Source: "binance", FetchedAt: ts}, c.quotes["BTCUSDT"])
}

func TestRun_MonitorModeStopsOnCancel(t *testing.T) {
	cfg := offlineConfig()
	cfg.Mode = ModeMonitor

	a := New(cfg, testLogger())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := a.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestRun_UnknownMode(t *testing.T) {
	cfg := offlineConfig()
	cfg.Mode = "trade"
	a := New(cfg, testLogger())
	defer a.Close()
	assert.Error(t, a.Run(context.Background()))
}

func TestBuild_ServerMode(t *testing.T) {
	cfg := offlineConfig()
	a := New(cfg, testLogger())
	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	c, err := a.build(context.Background(), ModeServer, deps)
	require.NoError(t, err)
	assert.Nil(t, c.feed)
	assert.Nil(t, c.monitor)
	require.NotNil(t, c.hub)
	require.NotNil(t, c.server)

	h := c.hub.Status()
	assert.Equal(t, 0, h["consumers"])
}
