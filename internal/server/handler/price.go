package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// PriceReader defines the price lookups the handler requires.
type PriceReader interface {
	GetPrice(ctx context.Context, symbol string) (domain.Quote, error)
	History(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)
}

// PriceHandler serves spot prices and candle history.
type PriceHandler struct {
	prices PriceReader
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceReader, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logHandler(logger, "price")}
}

// GetPrice returns the current quote for a symbol.
// GET /api/prices/{symbol}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	sym := domain.NormalizeSymbol(pathParam(r, "symbol"))
	if sym == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	q, err := h.prices.GetPrice(r.Context(), sym)
	if err != nil {
		writeServiceError(w, r, h.logger, "get price", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetHistory returns recent candles, oldest first.
// GET /api/prices/{symbol}/history?timeframe=1h&limit=100
func (h *PriceHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sym := domain.NormalizeSymbol(pathParam(r, "symbol"))
	if sym == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	tf := domain.NormalizeTimeframe(r.URL.Query().Get("timeframe"))

	candles, err := h.prices.History(r.Context(), sym, tf, parseLimit(r, 100, 1000))
	if err != nil {
		writeServiceError(w, r, h.logger, "get history", err)
		return
	}
	if candles == nil {
		candles = []domain.Candle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    sym,
		"timeframe": tf,
		"candles":   candles,
	})
}
