package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/coinsignal/internal/domain"
	"github.com/alanyoungcy/coinsignal/internal/service"
)

// AlertService defines the methods that the alert handler requires.
type AlertService interface {
	Record(ctx context.Context, a domain.Alert) (domain.Alert, bool, error)
	List(ctx context.Context, f domain.AlertFilter) ([]domain.Alert, error)
	MarkRead(ctx context.Context, id string) error
	Clear(ctx context.Context) (service.ClearResult, error)
}

// AlertHandler serves alert endpoints.
type AlertHandler struct {
	alerts AlertService
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(alerts AlertService, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, logger: logHandler(logger, "alert")}
}

type listAlertsResponse struct {
	Alerts []domain.Alert `json:"alerts"`
}

// ListAlerts returns alerts, newest first.
// GET /api/alerts?unread=true&limit=50&type=REVERSAL&position_id=...
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.AlertFilter{
		PositionID: q.Get("position_id"),
		Type:       domain.AlertType(strings.ToUpper(q.Get("type"))),
		Limit:      parseLimit(r, 50, 500),
	}
	if v := q.Get("unread"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unread must be a boolean")
			return
		}
		f.UnreadOnly = unread
	}

	alerts, err := h.alerts.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, "list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, listAlertsResponse{Alerts: alerts})
}

type createAlertRequest struct {
	PositionID *string `json:"position_id"`
	AlertType  string  `json:"alert_type"`
	Message    string  `json:"message"`
	Timestamp  string  `json:"timestamp"`
}

type createAlertResponse struct {
	AlertID    string        `json:"alert_id,omitempty"`
	Alert      *domain.Alert `json:"alert,omitempty"`
	Suppressed bool          `json:"suppressed"`
	Message    string        `json:"message,omitempty"`
}

// CreateAlert stores an externally raised alert and pushes it to consumers
// and the notification channels. A repeated PROFIT_TARGET or LOSS_LIMIT
// alert for the same position is answered with 200 and suppressed=true.
// POST /api/alerts
func (h *AlertHandler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PositionID != nil && strings.TrimSpace(*req.PositionID) == "" {
		req.PositionID = nil
	}

	alert, created, err := h.alerts.Record(r.Context(), domain.Alert{
		PositionID:  req.PositionID,
		Type:        domain.AlertType(strings.ToUpper(strings.TrimSpace(req.AlertType))),
		Message:     req.Message,
		TriggeredAt: parseAlertTime(req.Timestamp, time.Now().UTC()),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create alert", err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, createAlertResponse{
			Suppressed: true,
			Message:    "duplicate alert suppressed",
		})
		return
	}
	writeJSON(w, http.StatusCreated, createAlertResponse{AlertID: alert.ID, Alert: &alert})
}

// parseAlertTime accepts RFC 3339 timestamps and zone-less ISO timestamps,
// which are read as UTC. Anything else falls back to now.
func parseAlertTime(s string, now time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return now
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC); err == nil {
		return t
	}
	return now
}

// MarkRead flags one alert as read.
// POST /api/alerts/{id}/read
func (h *AlertHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.MarkRead(r.Context(), pathParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, "mark alert read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Alert marked as read"})
}

// ClearAlerts deletes every alert.
// DELETE /api/alerts
func (h *AlertHandler) ClearAlerts(w http.ResponseWriter, r *http.Request) {
	res, err := h.alerts.Clear(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "clear alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
