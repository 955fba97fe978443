package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// ChannelAlerts carries every created alert to other processes.
const ChannelAlerts = "signals:alerts"

// AlertNotifier delivers alerts to operators outside the app.
type AlertNotifier interface {
	Alert(ctx context.Context, a domain.Alert) error
}

// ClearResult reports a bulk deletion.
type ClearResult struct {
	Deleted     int    `json:"deleted"`
	ArchivePath string `json:"archive_path,omitempty"`
}

// AlertService records alerts and announces them to consumers, operator
// channels and the signal bus. notifier, bus and archiver may be nil.
type AlertService struct {
	alerts      domain.AlertStore
	broadcaster domain.Broadcaster
	notifier    AlertNotifier
	bus         domain.SignalBus
	archiver    domain.Archiver
	logger      *slog.Logger
}

// NewAlertService creates an AlertService.
func NewAlertService(
	alerts domain.AlertStore,
	broadcaster domain.Broadcaster,
	notifier AlertNotifier,
	bus domain.SignalBus,
	archiver domain.Archiver,
	logger *slog.Logger,
) *AlertService {
	return &AlertService{
		alerts:      alerts,
		broadcaster: broadcaster,
		notifier:    notifier,
		bus:         bus,
		archiver:    archiver,
		logger:      logger.With(slog.String("component", "alert_service")),
	}
}

// Record validates a, stores it and announces it. created is false when a
// PROFIT_TARGET or LOSS_LIMIT alert already exists for the position; the
// duplicate is neither stored nor announced.
func (s *AlertService) Record(ctx context.Context, a domain.Alert) (alert domain.Alert, created bool, err error) {
	if !a.Type.Valid() {
		return domain.Alert{}, false, fmt.Errorf("alert_service: alert type %q: %w", a.Type, domain.ErrInvalidInput)
	}
	if a.Type.Deduplicated() && (a.PositionID == nil || *a.PositionID == "") {
		return domain.Alert{}, false, fmt.Errorf("alert_service: %s alert needs a position: %w", a.Type, domain.ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.TriggeredAt.IsZero() {
		a.TriggeredAt = time.Now().UTC()
	}
	created, err = s.alerts.Create(ctx, a)
	if err != nil {
		return domain.Alert{}, false, fmt.Errorf("alert_service: create alert: %w", err)
	}
	if !created {
		s.logger.InfoContext(ctx, "alert_service: duplicate alert suppressed",
			slog.String("position_id", *a.PositionID),
			slog.String("type", string(a.Type)),
		)
		return a, false, nil
	}
	s.Announce(ctx, a)
	return a, true, nil
}

// Announce pushes an already stored alert to every consumer, the operator
// channels and the bus. Delivery failures are logged only.
func (s *AlertService) Announce(ctx context.Context, a domain.Alert) {
	s.broadcaster.BroadcastAll(ctx, domain.EventAlert, a)

	if s.notifier != nil {
		if err := s.notifier.Alert(ctx, a); err != nil {
			s.logger.WarnContext(ctx, "alert_service: notify failed",
				slog.String("alert_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		payload, _ := json.Marshal(a)
		if err := s.bus.Publish(ctx, ChannelAlerts, payload); err != nil {
			s.logger.WarnContext(ctx, "alert_service: publish failed",
				slog.String("alert_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "alert_service: alert raised",
		slog.String("alert_id", a.ID),
		slog.String("type", string(a.Type)),
	)
}

// List returns alerts matching f.
func (s *AlertService) List(ctx context.Context, f domain.AlertFilter) ([]domain.Alert, error) {
	out, err := s.alerts.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("alert_service: list: %w", err)
	}
	return out, nil
}

// RecentAlerts returns the latest limit alerts.
func (s *AlertService) RecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	return s.List(ctx, domain.AlertFilter{Limit: limit})
}

// MarkRead flags one alert as read.
func (s *AlertService) MarkRead(ctx context.Context, id string) error {
	if err := s.alerts.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("alert_service: mark read %q: %w", id, err)
	}
	return nil
}

// Clear deletes every alert, archives the deleted rows when an archiver is
// configured and tells consumers.
func (s *AlertService) Clear(ctx context.Context) (ClearResult, error) {
	deleted, err := s.alerts.DeleteAll(ctx)
	if err != nil {
		return ClearResult{}, fmt.Errorf("alert_service: clear: %w", err)
	}
	res := ClearResult{Deleted: len(deleted)}

	if s.archiver != nil && len(deleted) > 0 {
		path, err := s.archiver.ArchiveAlerts(ctx, deleted)
		if err != nil {
			s.logger.ErrorContext(ctx, "alert_service: archive failed",
				slog.Int("count", len(deleted)),
				slog.String("error", err.Error()),
			)
		} else {
			res.ArchivePath = path
		}
	}

	s.broadcaster.BroadcastAll(ctx, domain.EventClearAlertAll, map[string]any{
		"message": "All alerts cleared",
		"deleted": res.Deleted,
	})
	return res, nil
}
