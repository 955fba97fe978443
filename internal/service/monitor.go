package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

const monitorLockKey = "coinsignal:monitor"

// PriceGetter returns the current price of a symbol.
type PriceGetter interface {
	GetPrice(ctx context.Context, symbol string) (domain.Quote, error)
}

// MonitorConfig holds the monitor tunables.
type MonitorConfig struct {
	Interval time.Duration
	// Epsilon is the PnL change, in percentage points, below which an
	// unchanged-status evaluation is not broadcast.
	Epsilon float64
	// Lock, when set, lets only one replica run a cycle at a time.
	Lock domain.LockManager
	// LockTTL bounds how long a crashed replica can hold the lock. It
	// defaults to twice Interval so a slow cycle keeps it until it ends.
	LockTTL time.Duration
}

// CycleStats summarizes one monitor pass.
type CycleStats struct {
	Evaluated   int
	Closed      int
	Alerts      int
	Skipped     int
	LockSkipped bool
}

// Monitor periodically re-prices every ACTIVE position, closes positions
// that cross a threshold and raises one alert per crossing.
type Monitor struct {
	positions   domain.PositionStore
	prices      PriceGetter
	alerts      *AlertService
	broadcaster domain.Broadcaster
	cfg         MonitorConfig
	epsilon     decimal.Decimal
	logger      *slog.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(
	positions domain.PositionStore,
	prices PriceGetter,
	alerts *AlertService,
	broadcaster domain.Broadcaster,
	cfg MonitorConfig,
	logger *slog.Logger,
) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Epsilon < 0 {
		cfg.Epsilon = 0
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	return &Monitor{
		positions:   positions,
		prices:      prices,
		alerts:      alerts,
		broadcaster: broadcaster,
		cfg:         cfg,
		epsilon:     decimal.NewFromFloat(cfg.Epsilon),
		logger:      logger.With(slog.String("component", "monitor")),
	}
}

// Run evaluates positions every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "monitor: started", slog.Duration("interval", m.cfg.Interval))
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.RunCycle(ctx); err != nil && ctx.Err() == nil {
				m.logger.ErrorContext(ctx, "monitor: cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunCycle performs one pass over the ACTIVE positions.
func (m *Monitor) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	if m.cfg.Lock != nil {
		unlock, err := m.cfg.Lock.Acquire(ctx, monitorLockKey, m.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			stats.LockSkipped = true
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("monitor: acquire lock: %w", err)
		}
		defer unlock()
	}

	active, err := m.positions.List(ctx, domain.PositionFilter{Status: domain.PositionStatusActive})
	if err != nil {
		return stats, fmt.Errorf("monitor: list active positions: %w", err)
	}

	for _, p := range active {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		m.evaluate(ctx, p.ID, &stats)
	}

	if stats.Evaluated > 0 || stats.Skipped > 0 {
		m.logger.DebugContext(ctx, "monitor: cycle done",
			slog.Int("evaluated", stats.Evaluated),
			slog.Int("closed", stats.Closed),
			slog.Int("alerts", stats.Alerts),
			slog.Int("skipped", stats.Skipped),
		)
	}
	return stats, nil
}

func (m *Monitor) evaluate(ctx context.Context, id string, stats *CycleStats) {
	log := m.logger.With(slog.String("position_id", id))

	// Re-read so a position deleted or closed since the listing is left alone.
	pos, err := m.positions.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.WarnContext(ctx, "monitor: reload position", slog.String("error", err.Error()))
		}
		stats.Skipped++
		return
	}
	if !pos.Active() {
		stats.Skipped++
		return
	}

	quote, err := m.prices.GetPrice(ctx, pos.Symbol)
	if err != nil {
		log.WarnContext(ctx, "monitor: no price",
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
		stats.Skipped++
		return
	}

	pnl := domain.PnLPercent(pos.Direction, pos.EntryPrice, quote.Price)
	next := pos
	price := quote.Price
	pnlF := pnl.Round(4).InexactFloat64()
	next.CurrentPrice = &price
	next.CurrentPnLPercent = &pnlF

	var alert *domain.Alert
	if typ, hit := domain.Breach(pnl, pos.ProfitTarget, pos.LossLimit); hit {
		next.Status = domain.PositionStatusClosed
		posID := pos.ID
		alert = &domain.Alert{
			ID:          uuid.NewString(),
			PositionID:  &posID,
			Type:        typ,
			Message:     thresholdMessage(pos, typ, pnl),
			TriggeredAt: time.Now().UTC(),
		}
	}

	created, err := m.positions.ApplyEvaluation(ctx, next, alert)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			log.DebugContext(ctx, "monitor: position changed underneath, skipping")
		} else {
			log.WarnContext(ctx, "monitor: persist evaluation", slog.String("error", err.Error()))
		}
		stats.Skipped++
		return
	}
	next.Version++
	stats.Evaluated++
	if next.Status != pos.Status {
		stats.Closed++
	}

	if created {
		stats.Alerts++
		m.alerts.Announce(ctx, *alert)
	}

	if m.changed(pos, next, pnl) {
		m.broadcaster.BroadcastAll(ctx, domain.EventPositionUpdate, next)
	}
}

// changed reports whether next differs enough from the stored prev to be
// pushed to consumers.
func (m *Monitor) changed(prev, next domain.Position, pnl decimal.Decimal) bool {
	if prev.Status != next.Status || prev.CurrentPnLPercent == nil {
		return true
	}
	delta := pnl.Sub(decimal.NewFromFloat(*prev.CurrentPnLPercent)).Abs()
	return delta.GreaterThan(m.epsilon)
}

func thresholdMessage(p domain.Position, typ domain.AlertType, pnl decimal.Decimal) string {
	switch typ {
	case domain.AlertTypeProfitTarget:
		return fmt.Sprintf("Profit target reached! Position %s, %s %s: profit %s%%",
			p.ID, p.Symbol, p.Timeframe, pnl.StringFixed(2))
	default:
		return fmt.Sprintf("Loss limit reached! Position %s, %s %s: loss %s%%",
			p.ID, p.Symbol, p.Timeframe, pnl.StringFixed(2))
	}
}
