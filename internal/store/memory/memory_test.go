package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

func strPtr(s string) *string { return &s }

func activePosition(id string) domain.Position {
	return domain.Position{
		ID:           id,
		Symbol:       "BTCUSDT",
		Timeframe:    "1h",
		Direction:    domain.DirectionLong,
		EntryPrice:   100,
		EntryTime:    time.Now().UTC(),
		Status:       domain.PositionStatusActive,
		ProfitTarget: 2,
		LossLimit:    1,
	}
}

func TestPositionStore_ApplyEvaluationIsConditional(t *testing.T) {
	ctx := context.Background()
	db := New()
	positions := db.Positions()
	require.NoError(t, positions.Create(ctx, activePosition("p1")))

	p, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)

	price, pnl := 102.5, 2.5
	p.CurrentPrice, p.CurrentPnLPercent = &price, &pnl
	p.Status = domain.PositionStatusClosed
	alert := &domain.Alert{ID: "a1", PositionID: strPtr("p1"), Type: domain.AlertTypeProfitTarget, Message: "hit"}

	created, err := positions.ApplyEvaluation(ctx, p, alert)
	require.NoError(t, err)
	assert.True(t, created)

	stored, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, 102.5, *stored.CurrentPrice)

	// The same stale snapshot can no longer be applied.
	_, err = positions.ApplyEvaluation(ctx, p, &domain.Alert{ID: "a2", PositionID: strPtr("p1"), Type: domain.AlertTypeProfitTarget})
	assert.ErrorIs(t, err, domain.ErrConflict)

	alerts, err := db.Alerts().List(ctx, domain.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestPositionStore_ApplyEvaluationMissing(t *testing.T) {
	_, err := New().Positions().ApplyEvaluation(context.Background(), activePosition("gone"), nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestAlertStore_DeduplicatesThresholdAlerts(t *testing.T) {
	ctx := context.Background()
	alerts := New().Alerts()

	tests := []struct {
		alert   domain.Alert
		created bool
	}{
		{domain.Alert{ID: "a1", PositionID: strPtr("p1"), Type: domain.AlertTypeLossLimit}, true},
		{domain.Alert{ID: "a2", PositionID: strPtr("p1"), Type: domain.AlertTypeLossLimit}, false},
		{domain.Alert{ID: "a3", PositionID: strPtr("p1"), Type: domain.AlertTypeProfitTarget}, true},
		{domain.Alert{ID: "r1", Type: domain.AlertTypeReversal}, true},
		{domain.Alert{ID: "r2", Type: domain.AlertTypeReversal}, true},
	}
	for _, tt := range tests {
		created, err := alerts.Create(ctx, tt.alert)
		require.NoError(t, err)
		assert.Equal(t, tt.created, created, tt.alert.ID)
	}

	_, err := alerts.Create(ctx, domain.Alert{ID: "r1", Type: domain.AlertTypeReversal})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	all, err := alerts.List(ctx, domain.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = alerts.GetByID(ctx, "a2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAlertStore_ConcurrentApplyCreatesOneAlert(t *testing.T) {
	ctx := context.Background()
	db := New()
	positions := db.Positions()
	require.NoError(t, positions.Create(ctx, activePosition("p1")))
	snapshot, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := snapshot
			p.Status = domain.PositionStatusClosed
			ok, err := positions.ApplyEvaluation(ctx, p, &domain.Alert{
				ID:         string(rune('a' + i)),
				PositionID: strPtr("p1"),
				Type:       domain.AlertTypeProfitTarget,
			})
			if err == nil && ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	all, err := db.Alerts().List(ctx, domain.AlertFilter{PositionID: "p1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAlertStore_ListFiltersAndMarkRead(t *testing.T) {
	ctx := context.Background()
	alerts := New().Alerts()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		_, err := alerts.Create(ctx, domain.Alert{
			ID: id, Type: domain.AlertTypeReversal, TriggeredAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	require.NoError(t, alerts.MarkRead(ctx, "c"))
	assert.ErrorIs(t, alerts.MarkRead(ctx, "zzz"), domain.ErrNotFound)

	unread, err := alerts.List(ctx, domain.AlertFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, "b", unread[0].ID)

	latest, err := alerts.List(ctx, domain.AlertFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "c", latest[0].ID)

	cleared, err := alerts.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Len(t, cleared, 3)
	rest, _ := alerts.List(ctx, domain.AlertFilter{})
	assert.Empty(t, rest)
}

func TestPositionStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	db := New()
	positions := db.Positions()

	p1 := activePosition("p1")
	p2 := activePosition("p2")
	p2.Symbol = "ETHUSDT"
	p2.Status = domain.PositionStatusClosed
	require.NoError(t, positions.Create(ctx, p1))
	require.NoError(t, positions.Create(ctx, p2))
	assert.ErrorIs(t, positions.Create(ctx, p1), domain.ErrAlreadyExists)

	active, err := positions.List(ctx, domain.PositionFilter{Status: domain.PositionStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p1", active[0].ID)

	eth, err := positions.List(ctx, domain.PositionFilter{Symbol: "eth/usdt"})
	require.NoError(t, err)
	require.Len(t, eth, 1)

	_, err = db.Alerts().Create(ctx, domain.Alert{ID: "a1", PositionID: strPtr("p1"), Type: domain.AlertTypeProfitTarget})
	require.NoError(t, err)
	require.NoError(t, positions.Delete(ctx, "p1"))
	assert.ErrorIs(t, positions.Delete(ctx, "p1"), domain.ErrNotFound)

	a, err := db.Alerts().GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, a.PositionID)

	removed, err := positions.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Len(t, removed, 1)
}

func TestSignalStore_RecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	signals := New().Signals()
	for i, pred := range []int{1, 0, 1} {
		require.NoError(t, signals.Append(ctx, domain.SignalRecord{
			ID: string(rune('a' + i)), Symbol: "BTCUSDT", Timeframe: "1h", Prediction: pred,
		}))
	}
	require.NoError(t, signals.Append(ctx, domain.SignalRecord{ID: "x", Symbol: "BTCUSDT", Timeframe: "4h"}))

	recent, err := signals.Recent(ctx, "btc/usdt", "1h", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)
}
