package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/coinsignal/internal/domain"
	"github.com/alanyoungcy/coinsignal/internal/service"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Track(ctx context.Context, req service.TrackRequest) (domain.Position, error)
	List(ctx context.Context, f domain.PositionFilter) ([]domain.Position, error)
	Delete(ctx context.Context, id string) error
	ClearAll(ctx context.Context) (service.ClearResult, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "position"),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns tracked positions, newest first.
// GET /api/positions?status=ACTIVE&symbol=BTCUSDT&timeframe=1h&limit=100
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.PositionFilter{
		Status:    domain.PositionStatus(strings.ToUpper(q.Get("status"))),
		Symbol:    q.Get("symbol"),
		Timeframe: q.Get("timeframe"),
		Limit:     parseLimit(r, 100, 1000),
	}
	if f.Status != "" && f.Status != domain.PositionStatusActive && f.Status != domain.PositionStatusClosed {
		writeError(w, http.StatusBadRequest, "status must be ACTIVE or CLOSED")
		return
	}

	positions, err := h.positions.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// CreatePosition starts tracking a new position.
// POST /api/positions
func (h *PositionHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req service.TrackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pos, err := h.positions.Track(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "create position", err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// DeletePosition stops tracking one position.
// DELETE /api/positions/{id}
func (h *PositionHandler) DeletePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.positions.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		writeServiceError(w, r, h.logger, "delete position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Position deleted successfully"})
}

// ClearPositions deletes every position.
// DELETE /api/positions
func (h *PositionHandler) ClearPositions(w http.ResponseWriter, r *http.Request) {
	res, err := h.positions.ClearAll(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "clear positions", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
