package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinsignal/internal/domain"
	"github.com/alanyoungcy/coinsignal/internal/store/memory"
)

func newDetector(db *memory.DB, bc *recordingBroadcaster, bus domain.SignalBus) *ReversalDetector {
	alerts := NewAlertService(db.Alerts(), bc, nil, bus, nil, testLogger())
	return NewReversalDetector(db.Signals(), alerts, bc, testLogger())
}

func TestReversalDetector_FlipRaisesAlert(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	bc := &recordingBroadcaster{}
	bus := &fakeBus{}
	d := newDetector(db, bc, bus)

	rev, err := d.OnPrediction(ctx, domain.SignalRecord{Symbol: "btc/usdt", Timeframe: "1h", Prediction: 1, Price: 45000})
	require.NoError(t, err)
	assert.Nil(t, rev, "first prediction has nothing to compare with")

	rev, err = d.OnPrediction(ctx, domain.SignalRecord{Symbol: "BTCUSDT", Timeframe: "1h", Prediction: 1})
	require.NoError(t, err)
	assert.Nil(t, rev)

	rev, err = d.OnPrediction(ctx, domain.SignalRecord{Symbol: "BTCUSDT", Timeframe: "1h", Prediction: 0, Price: 44000})
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, "LONG", rev.PreviousSignal)
	assert.Equal(t, "SHORT", rev.NewSignal)

	alerts, err := db.Alerts().List(ctx, domain.AlertFilter{Type: domain.AlertTypeReversal})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Nil(t, alerts[0].PositionID)
	assert.Equal(t, rev.AlertID, alerts[0].ID)

	assert.Equal(t, 1, bc.count(domain.EventSignalReversal))
	assert.Equal(t, 1, bc.count(domain.EventAlert))
	assert.Equal(t, 1, bus.count(ChannelAlerts))
}

func TestReversalDetector_PairsAreIndependent(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	bc := &recordingBroadcaster{}
	d := newDetector(db, bc, nil)

	_, err := d.OnPrediction(ctx, domain.SignalRecord{Symbol: "BTCUSDT", Timeframe: "1h", Prediction: 1})
	require.NoError(t, err)
	rev, err := d.OnPrediction(ctx, domain.SignalRecord{Symbol: "BTCUSDT", Timeframe: "4h", Prediction: 0})
	require.NoError(t, err)
	assert.Nil(t, rev)
	rev, err = d.OnPrediction(ctx, domain.SignalRecord{Symbol: "ETHUSDT", Timeframe: "1h", Prediction: 0})
	require.NoError(t, err)
	assert.Nil(t, rev)
	assert.Zero(t, bc.count(domain.EventSignalReversal))
}

func TestReversalDetector_RejectsBadInput(t *testing.T) {
	d := newDetector(memory.New(), &recordingBroadcaster{}, nil)
	_, err := d.OnPrediction(context.Background(), domain.SignalRecord{Symbol: "", Prediction: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = d.OnPrediction(context.Background(), domain.SignalRecord{Symbol: "BTCUSDT", Prediction: 2})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReversalDetector_ListenConsumesBus(t *testing.T) {
	db := memory.New()
	bc := &recordingBroadcaster{}
	bus := &fakeBus{ch: make(chan []byte, 4)}
	d := newDetector(db, bc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Listen(ctx, bus) }()

	for _, pred := range []int{1, 0} {
		raw, _ := json.Marshal(map[string]any{"symbol": "SOLUSDT", "timeframe": "15m", "prediction": pred, "price": 100})
		bus.ch <- raw
	}
	bus.ch <- []byte("garbage")

	require.Eventually(t, func() bool { return bc.count(domain.EventSignalReversal) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
