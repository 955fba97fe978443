package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// SymbolSubscriber adds symbols to the upstream stream.
type SymbolSubscriber interface {
	SubscribeSymbol(symbol, timeframe string, handler func(context.Context, domain.Ticker) error)
}

// TrackRequest describes a position to start monitoring.
type TrackRequest struct {
	Symbol       string           `json:"symbol"`
	Timeframe    string           `json:"timeframe"`
	Direction    domain.Direction `json:"position_type"`
	EntryPrice   float64          `json:"entry_price"`
	EntryTime    *time.Time       `json:"entry_time,omitempty"`
	ProfitTarget float64          `json:"profit_target"`
	LossLimit    float64          `json:"loss_limit"`
}

// PositionService manages the tracked positions the monitor evaluates.
type PositionService struct {
	positions   domain.PositionStore
	subscriber  SymbolSubscriber
	broadcaster domain.Broadcaster
	archiver    domain.Archiver
	logger      *slog.Logger
}

// NewPositionService creates a PositionService. subscriber and archiver may
// be nil.
func NewPositionService(
	positions domain.PositionStore,
	subscriber SymbolSubscriber,
	broadcaster domain.Broadcaster,
	archiver domain.Archiver,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions:   positions,
		subscriber:  subscriber,
		broadcaster: broadcaster,
		archiver:    archiver,
		logger:      logger.With(slog.String("component", "position_service")),
	}
}

// Track validates req, stores a new ACTIVE position and makes sure its
// symbol is on the upstream stream.
func (s *PositionService) Track(ctx context.Context, req TrackRequest) (domain.Position, error) {
	sym := domain.NormalizeSymbol(req.Symbol)
	if sym == "" {
		return domain.Position{}, fmt.Errorf("position_service: symbol is required: %w", domain.ErrInvalidInput)
	}
	dir := domain.Direction(strings.ToUpper(strings.TrimSpace(string(req.Direction))))
	if !dir.Valid() {
		return domain.Position{}, fmt.Errorf("position_service: position_type %q: %w", req.Direction, domain.ErrInvalidInput)
	}
	if req.EntryPrice <= 0 {
		return domain.Position{}, fmt.Errorf("position_service: entry_price must be > 0: %w", domain.ErrInvalidInput)
	}
	if req.ProfitTarget < 0 || req.LossLimit < 0 {
		return domain.Position{}, fmt.Errorf("position_service: thresholds must not be negative: %w", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	pos := domain.Position{
		ID:           uuid.NewString(),
		Symbol:       sym,
		Timeframe:    domain.NormalizeTimeframe(req.Timeframe),
		Direction:    dir,
		EntryPrice:   req.EntryPrice,
		EntryTime:    now,
		Status:       domain.PositionStatusActive,
		ProfitTarget: req.ProfitTarget,
		LossLimit:    req.LossLimit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.EntryTime != nil && !req.EntryTime.IsZero() {
		pos.EntryTime = req.EntryTime.UTC()
	}
	if pos.ProfitTarget == 0 {
		pos.ProfitTarget = domain.DefaultProfitTarget
	}
	if pos.LossLimit == 0 {
		pos.LossLimit = domain.DefaultLossLimit
	}

	if err := s.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create position: %w", err)
	}
	if s.subscriber != nil {
		s.subscriber.SubscribeSymbol(pos.Symbol, pos.Timeframe, nil)
	}
	s.broadcaster.BroadcastAll(ctx, domain.EventPositionUpdate, pos)

	s.logger.InfoContext(ctx, "position_service: tracking position",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry_price", pos.EntryPrice),
	)
	return pos, nil
}

// Get returns one position.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %q: %w", id, err)
	}
	return pos, nil
}

// List returns positions matching f.
func (s *PositionService) List(ctx context.Context, f domain.PositionFilter) ([]domain.Position, error) {
	out, err := s.positions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("position_service: list: %w", err)
	}
	return out, nil
}

// ActivePositions returns every position still being monitored.
func (s *PositionService) ActivePositions(ctx context.Context) ([]domain.Position, error) {
	return s.List(ctx, domain.PositionFilter{Status: domain.PositionStatusActive})
}

// Delete stops tracking a position.
func (s *PositionService) Delete(ctx context.Context, id string) error {
	if err := s.positions.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("position_service: delete %q: %w", id, err)
	}
	s.logger.InfoContext(ctx, "position_service: position deleted", slog.String("position_id", id))
	return nil
}

// ClearAll deletes every position, archives the deleted rows when an
// archiver is configured and tells consumers.
func (s *PositionService) ClearAll(ctx context.Context) (ClearResult, error) {
	deleted, err := s.positions.DeleteAll(ctx)
	if err != nil {
		return ClearResult{}, fmt.Errorf("position_service: clear: %w", err)
	}
	res := ClearResult{Deleted: len(deleted)}

	if s.archiver != nil && len(deleted) > 0 {
		path, err := s.archiver.ArchivePositions(ctx, deleted)
		if err != nil {
			s.logger.ErrorContext(ctx, "position_service: archive failed",
				slog.Int("count", len(deleted)),
				slog.String("error", err.Error()),
			)
		} else {
			res.ArchivePath = path
		}
	}

	s.broadcaster.BroadcastAll(ctx, domain.EventClearAll, map[string]any{
		"message": "All positions cleared",
		"deleted": res.Deleted,
	})
	return res, nil
}

// Queries answers consumer read commands from the two services.
type Queries struct {
	Positions *PositionService
	Alerts    *AlertService
}

func (q Queries) ActivePositions(ctx context.Context) ([]domain.Position, error) {
	return q.Positions.ActivePositions(ctx)
}

func (q Queries) RecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	return q.Alerts.RecentAlerts(ctx, limit)
}
