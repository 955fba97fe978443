package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinsignal/internal/domain"
	"github.com/alanyoungcy/coinsignal/internal/store/memory"
)

type recordingSubscriber struct {
	mu   sync.Mutex
	subs map[string]string
}

func (r *recordingSubscriber) SubscribeSymbol(symbol, timeframe string, _ func(context.Context, domain.Ticker) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs == nil {
		r.subs = map[string]string{}
	}
	r.subs[symbol] = timeframe
}

func TestPositionService_TrackValidatesAndDefaults(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	sub := &recordingSubscriber{}
	bc := &recordingBroadcaster{}
	svc := NewPositionService(db.Positions(), sub, bc, nil, testLogger())

	pos, err := svc.Track(ctx, TrackRequest{Symbol: "eth-usdt", Timeframe: "4h", Direction: "long", EntryPrice: 3000})
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", pos.Symbol)
	assert.Equal(t, domain.DirectionLong, pos.Direction)
	assert.Equal(t, domain.DefaultProfitTarget, pos.ProfitTarget)
	assert.Equal(t, domain.DefaultLossLimit, pos.LossLimit)
	assert.Equal(t, domain.PositionStatusActive, pos.Status)
	assert.Equal(t, "4h", sub.subs["ETHUSDT"])
	assert.Equal(t, 1, bc.count(domain.EventPositionUpdate))

	cases := []TrackRequest{
		{Symbol: "", Direction: "LONG", EntryPrice: 1},
		{Symbol: "BTCUSDT", Direction: "SIDEWAYS", EntryPrice: 1},
		{Symbol: "BTCUSDT", Direction: "SHORT", EntryPrice: 0},
		{Symbol: "BTCUSDT", Direction: "SHORT", EntryPrice: 1, LossLimit: -1},
	}
	for _, tc := range cases {
		_, err := svc.Track(ctx, tc)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "%+v", tc)
	}

	active, err := svc.ActivePositions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestPositionService_ClearAllArchivesAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	bc := &recordingBroadcaster{}
	arch := &fakeArchiver{}
	svc := NewPositionService(db.Positions(), nil, bc, arch, testLogger())

	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		_, err := svc.Track(ctx, TrackRequest{Symbol: sym, Direction: domain.DirectionShort, EntryPrice: 10})
		require.NoError(t, err)
	}

	res, err := svc.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, "archive/positions/test.json", res.ArchivePath)
	assert.Len(t, arch.positions, 2)
	assert.Equal(t, 1, bc.count(domain.EventClearAll))

	left, err := svc.List(ctx, domain.PositionFilter{})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPositionService_ArchiveFailureStillClears(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := NewPositionService(db.Positions(), nil, &recordingBroadcaster{}, &fakeArchiver{err: errors.New("s3 down")}, testLogger())
	_, err := svc.Track(ctx, TrackRequest{Symbol: "BTCUSDT", Direction: domain.DirectionLong, EntryPrice: 10})
	require.NoError(t, err)

	res, err := svc.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Empty(t, res.ArchivePath)
}

func TestPositionService_DeleteUnknown(t *testing.T) {
	svc := NewPositionService(memory.New().Positions(), nil, &recordingBroadcaster{}, nil, testLogger())
	assert.ErrorIs(t, svc.Delete(context.Background(), "nope"), domain.ErrNotFound)
}

func TestAlertService_ClearAndMarkRead(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	bc := &recordingBroadcaster{}
	arch := &fakeArchiver{}
	svc := NewAlertService(db.Alerts(), bc, nil, nil, arch, testLogger())

	a, created, err := svc.Record(ctx, domain.Alert{Type: domain.AlertTypeReversal, Message: "flip"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.TriggeredAt.IsZero())

	require.NoError(t, svc.MarkRead(ctx, a.ID))
	assert.ErrorIs(t, svc.MarkRead(ctx, "missing"), domain.ErrNotFound)

	unread, err := svc.List(ctx, domain.AlertFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)

	res, err := svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Len(t, arch.alerts, 1)
	assert.Equal(t, 1, bc.count(domain.EventClearAlertAll))

	q := Queries{Positions: NewPositionService(db.Positions(), nil, bc, nil, testLogger()), Alerts: svc}
	recent, err := q.RecentAlerts(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestAlertService_RecordSuppressesDuplicateThreshold(t *testing.T) {
	ctx := context.Background()
	bc := &recordingBroadcaster{}
	svc := NewAlertService(memory.New().Alerts(), bc, nil, nil, nil, testLogger())
	pid := "p1"

	first, created, err := svc.Record(ctx, domain.Alert{PositionID: &pid, Type: domain.AlertTypeProfitTarget, Message: "hit"})
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = svc.Record(ctx, domain.Alert{PositionID: &pid, Type: domain.AlertTypeProfitTarget, Message: "again"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, bc.count(domain.EventAlert))

	all, err := svc.List(ctx, domain.AlertFilter{PositionID: pid})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, first.ID, all[0].ID)
}

func TestAlertService_RecordValidates(t *testing.T) {
	svc := NewAlertService(memory.New().Alerts(), &recordingBroadcaster{}, nil, nil, nil, testLogger())

	_, _, err := svc.Record(context.Background(), domain.Alert{Type: "PANIC"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = svc.Record(context.Background(), domain.Alert{Type: domain.AlertTypeLossLimit})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
