package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinsignal/internal/domain"
	"github.com/alanyoungcy/coinsignal/internal/server"
	"github.com/alanyoungcy/coinsignal/internal/server/handler"
	"github.com/alanyoungcy/coinsignal/internal/service"
	"github.com/alanyoungcy/coinsignal/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) BroadcastSymbol(_ context.Context, _, event string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) BroadcastAll(_ context.Context, event string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == event {
			n++
		}
	}
	return n
}

func (b *recordingBroadcaster) has(event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakePrices struct{}

func (fakePrices) GetPrice(_ context.Context, symbol string) (domain.Quote, error) {
	if symbol == "NOPEUSDT" {
		return domain.Quote{}, domain.ErrAllSourcesExhausted
	}
	return domain.Quote{Symbol: symbol, Price: 100, Source: "test", FetchedAt: time.Now()}, nil
}

func (fakePrices) History(_ context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	out := make([]domain.Candle, 0, limit)
	for i := 0; i < limit && i < 3; i++ {
		out = append(out, domain.Candle{Symbol: symbol, Timeframe: timeframe, Close: float64(100 + i)})
	}
	return out, nil
}

type fakePredictor struct {
	next domain.Prediction
}

func (f *fakePredictor) Predict(context.Context, string, string) (domain.Prediction, error) {
	return f.next, nil
}

type fixture struct {
	srv       *httptest.Server
	bcast     *recordingBroadcaster
	predictor *fakePredictor
	db        *memory.DB
}

func newFixture(t *testing.T, cfg server.Config) *fixture {
	t.Helper()
	logger := testLogger()
	db := memory.New()
	bcast := &recordingBroadcaster{}

	alerts := service.NewAlertService(db.Alerts(), bcast, nil, nil, nil, logger)
	positions := service.NewPositionService(db.Positions(), nil, bcast, nil, logger)
	reversal := service.NewReversalDetector(db.Signals(), alerts, bcast, logger)
	pred := &fakePredictor{next: domain.Prediction{Prediction: 1, Price: 50000, Accuracy: 0.7}}

	h := server.NewHandler(cfg, server.Handlers{
		Health:    handler.NewHealthHandler(nil, logger),
		Positions: handler.NewPositionHandler(positions, logger),
		Alerts:    handler.NewAlertHandler(alerts, logger),
		Signals:   handler.NewSignalHandler(reversal, db.Signals(), pred, logger),
		Prices:    handler.NewPriceHandler(fakePrices{}, logger),
		Status: handler.NewStatusHandler("full",
			func() any { return map[string]any{"state": "connected"} },
			func() map[string]any { return map[string]any{"consumers": 0} },
		),
	}, nil, nil, logger)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, bcast: bcast, predictor: pred, db: db}
}

func (f *fixture) do(t *testing.T, method, path string, body any, hdr ...string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	require.NoError(t, err)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, server.Config{})
	resp, body := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestPositions_CreateListDelete(t *testing.T) {
	f := newFixture(t, server.Config{})

	resp, created := f.do(t, http.MethodPost, "/api/positions", map[string]any{
		"symbol":        "btc/usdt",
		"timeframe":     "1h",
		"position_type": "long",
		"entry_price":   100,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "BTCUSDT", created["symbol"])
	assert.Equal(t, "LONG", created["position_type"])
	assert.Equal(t, "ACTIVE", created["status"])
	assert.True(t, f.bcast.has(domain.EventPositionUpdate))
	id := created["id"].(string)

	resp, list := f.do(t, http.MethodGet, "/api/positions?status=active", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, list["positions"], 1)

	resp, _ = f.do(t, http.MethodDelete, "/api/positions/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/positions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPositions_Validation(t *testing.T) {
	f := newFixture(t, server.Config{})

	resp, _ := f.do(t, http.MethodPost, "/api/positions", map[string]any{
		"symbol": "BTCUSDT", "position_type": "SIDEWAYS", "entry_price": 100,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/positions", map[string]any{
		"symbol": "BTCUSDT", "position_type": "LONG", "entry_price": 0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/positions?status=OPEN", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPositions_ClearAll(t *testing.T) {
	f := newFixture(t, server.Config{})
	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodPost, "/api/positions", map[string]any{
			"symbol": "ETHUSDT", "position_type": "SHORT", "entry_price": 2000,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodDelete, "/api/positions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["deleted"])
	assert.True(t, f.bcast.has(domain.EventClearAll))
}

func TestSignals_ReversalCreatesAlert(t *testing.T) {
	f := newFixture(t, server.Config{})

	resp, body := f.do(t, http.MethodPost, "/api/signals", map[string]any{
		"symbol": "BTCUSDT", "timeframe": "1h", "prediction": 1, "price": 100, "accuracy": 0.6,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Nil(t, body["reversal"])

	resp, body = f.do(t, http.MethodPost, "/api/signals", map[string]any{
		"symbol": "BTCUSDT", "timeframe": "1h", "prediction": 0, "price": 99, "accuracy": 0.6,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rev, ok := body["reversal"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "LONG", rev["previous_signal"])
	assert.Equal(t, "SHORT", rev["new_signal"])
	assert.True(t, f.bcast.has(domain.EventSignalReversal))

	resp, body = f.do(t, http.MethodGet, "/api/alerts?unread=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	alerts := body["alerts"].([]any)
	require.Len(t, alerts, 1)
	first := alerts[0].(map[string]any)
	assert.Equal(t, "REVERSAL", first["alert_type"])

	resp, _ = f.do(t, http.MethodPost, "/api/alerts/"+first["id"].(string)+"/read", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, "/api/alerts?unread=true", nil)
	assert.Empty(t, body["alerts"])

	resp, body = f.do(t, http.MethodGet, "/api/signals?symbol=btcusdt&timeframe=1h", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["signals"], 2)

	resp, body = f.do(t, http.MethodDelete, "/api/alerts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["deleted"])
	assert.True(t, f.bcast.has(domain.EventClearAlertAll))
}

func TestAlerts_CreateAndSuppressDuplicate(t *testing.T) {
	f := newFixture(t, server.Config{})
	alert := map[string]any{
		"position_id": "p1",
		"alert_type":  "profit_target",
		"message":     "BTCUSDT hit +5%",
		"timestamp":   "2024-05-01T12:30:00.250Z",
	}

	resp, body := f.do(t, http.MethodPost, "/api/alerts", alert)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["alert_id"])
	created := body["alert"].(map[string]any)
	assert.Equal(t, "PROFIT_TARGET", created["alert_type"])
	assert.Equal(t, "2024-05-01T12:30:00.25Z", created["triggered_at"])
	assert.Equal(t, 1, f.bcast.count(domain.EventAlert))

	alert["message"] = "again"
	resp, body = f.do(t, http.MethodPost, "/api/alerts", alert)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["suppressed"])
	assert.Equal(t, 1, f.bcast.count(domain.EventAlert))

	_, body = f.do(t, http.MethodGet, "/api/alerts?position_id=p1", nil)
	assert.Len(t, body["alerts"], 1)

	resp, body = f.do(t, http.MethodPost, "/api/alerts", map[string]any{
		"alert_type": "reversal", "message": "manual", "timestamp": "not a time",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Nil(t, body["alert"].(map[string]any)["position_id"])
}

func TestAlerts_CreateValidation(t *testing.T) {
	f := newFixture(t, server.Config{})

	resp, _ := f.do(t, http.MethodPost, "/api/alerts", map[string]any{"alert_type": "PANIC", "message": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/alerts", map[string]any{"alert_type": "LOSS_LIMIT", "message": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/alerts", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignals_MissingPrediction(t *testing.T) {
	f := newFixture(t, server.Config{})
	resp, _ := f.do(t, http.MethodPost, "/api/signals", map[string]any{"symbol": "BTCUSDT"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/signals", map[string]any{"symbol": "BTCUSDT", "prediction": 2})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPredict(t *testing.T) {
	f := newFixture(t, server.Config{})
	resp, body := f.do(t, http.MethodPost, "/api/predict", map[string]any{"symbol": "BTC/USDT", "timeframe": "4h"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sig := body["signal"].(map[string]any)
	assert.Equal(t, "BTCUSDT", sig["symbol"])
	assert.Equal(t, "4h", sig["timeframe"])
	assert.EqualValues(t, 1, sig["prediction"])
	assert.NotEmpty(t, sig["id"])
}

func TestPrices(t *testing.T) {
	f := newFixture(t, server.Config{})

	resp, body := f.do(t, http.MethodGet, "/api/prices/btcusdt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BTCUSDT", body["symbol"])
	assert.EqualValues(t, 100, body["price"])

	resp, _ = f.do(t, http.MethodGet, "/api/prices/NOPEUSDT", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/prices/ETHUSDT/history?timeframe=1h&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["candles"], 2)
	assert.Equal(t, "1h", body["timeframe"])
}

func TestStreamStatus(t *testing.T) {
	f := newFixture(t, server.Config{})
	resp, body := f.do(t, http.MethodGet, "/api/stream/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "full", body["mode"])
	assert.Equal(t, "connected", body["upstream"].(map[string]any)["state"])
}

func TestAuth(t *testing.T) {
	f := newFixture(t, server.Config{APIKey: "secret"})

	resp, _ := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/positions", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/positions", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/positions", nil, "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/positions?api_key=secret", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type denyAfter struct {
	mu    sync.Mutex
	count int
	max   int
}

func (d *denyAfter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	return d.count <= d.max, nil
}

func TestRateLimit(t *testing.T) {
	logger := testLogger()
	h := server.NewHandler(server.Config{RateLimitPerMinute: 1}, server.Handlers{
		Health: handler.NewHealthHandler(nil, logger),
	}, nil, &denyAfter{max: 1}, logger)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, server.Config{CORSOrigins: []string{"https://dash.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/positions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://dash.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "DELETE"))
}
