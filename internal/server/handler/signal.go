package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coinsignal/internal/domain"
	"github.com/alanyoungcy/coinsignal/internal/predictor"
	"github.com/alanyoungcy/coinsignal/internal/service"
)

// SignalRecorder stores a prediction and reports a reversal.
type SignalRecorder interface {
	OnPrediction(ctx context.Context, rec domain.SignalRecord) (*service.Reversal, error)
}

// SignalHistory reads stored predictions.
type SignalHistory interface {
	Recent(ctx context.Context, symbol, timeframe string, n int) ([]domain.SignalRecord, error)
}

// Predictor asks the external model for a direction.
type Predictor interface {
	Predict(ctx context.Context, symbol, timeframe string) (domain.Prediction, error)
}

// SignalHandler serves prediction endpoints.
type SignalHandler struct {
	recorder  SignalRecorder
	history   SignalHistory
	predictor Predictor
	logger    *slog.Logger
}

// NewSignalHandler creates a SignalHandler. predictor may be nil.
func NewSignalHandler(recorder SignalRecorder, history SignalHistory, p Predictor, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{
		recorder:  recorder,
		history:   history,
		predictor: p,
		logger:    logHandler(logger, "signal"),
	}
}

type recordSignalRequest struct {
	Symbol     string  `json:"symbol"`
	Timeframe  string  `json:"timeframe"`
	Prediction *int    `json:"prediction"`
	Price      float64 `json:"price"`
	Accuracy   float64 `json:"accuracy"`
}

type signalResponse struct {
	Signal   domain.SignalRecord `json:"signal"`
	Reversal *service.Reversal   `json:"reversal"`
}

// RecordSignal stores a prediction produced elsewhere.
// POST /api/signals
func (h *SignalHandler) RecordSignal(w http.ResponseWriter, r *http.Request) {
	var req recordSignalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prediction == nil {
		writeError(w, http.StatusBadRequest, "prediction is required")
		return
	}

	rec := domain.SignalRecord{
		Symbol:     req.Symbol,
		Timeframe:  req.Timeframe,
		Prediction: *req.Prediction,
		Price:      req.Price,
		Accuracy:   req.Accuracy,
	}
	h.record(w, r, rec)
}

type predictRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// Predict calls the external model and records its answer.
// POST /api/predict
func (h *SignalHandler) Predict(w http.ResponseWriter, r *http.Request) {
	if h.predictor == nil {
		writeError(w, http.StatusServiceUnavailable, "predictor not configured")
		return
	}
	var req predictRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sym := domain.NormalizeSymbol(req.Symbol)
	if sym == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	tf := domain.NormalizeTimeframe(req.Timeframe)

	p, err := h.predictor.Predict(r.Context(), sym, tf)
	if err != nil {
		if errors.Is(err, predictor.ErrDisabled) {
			writeError(w, http.StatusServiceUnavailable, "predictor not configured")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: predict failed",
			slog.String("symbol", sym),
			slog.String("timeframe", tf),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "prediction failed")
		return
	}

	h.record(w, r, domain.SignalRecord{
		Symbol:     sym,
		Timeframe:  tf,
		Prediction: p.Prediction,
		Price:      p.Price,
		Accuracy:   p.Accuracy,
	})
}

func (h *SignalHandler) record(w http.ResponseWriter, r *http.Request, rec domain.SignalRecord) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()

	rev, err := h.recorder.OnPrediction(r.Context(), rec)
	if err != nil {
		writeServiceError(w, r, h.logger, "record signal", err)
		return
	}
	rec.Symbol = domain.NormalizeSymbol(rec.Symbol)
	rec.Timeframe = domain.NormalizeTimeframe(rec.Timeframe)
	writeJSON(w, http.StatusCreated, signalResponse{Signal: rec, Reversal: rev})
}

// ListSignals returns recent predictions for one symbol and timeframe.
// GET /api/signals?symbol=BTCUSDT&timeframe=1h&limit=20
func (h *SignalHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sym := domain.NormalizeSymbol(q.Get("symbol"))
	if sym == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}
	recs, err := h.history.Recent(r.Context(), sym, domain.NormalizeTimeframe(q.Get("timeframe")), parseLimit(r, 20, 500))
	if err != nil {
		writeServiceError(w, r, h.logger, "list signals", err)
		return
	}
	if recs == nil {
		recs = []domain.SignalRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": recs})
}
