package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// ChannelPredictions is where external producers publish model outputs.
const ChannelPredictions = "signals:predictions"

// Reversal describes a direction flip between two consecutive predictions.
type Reversal struct {
	Symbol         string  `json:"symbol"`
	Timeframe      string  `json:"timeframe"`
	PreviousSignal string  `json:"previous_signal"`
	NewSignal      string  `json:"new_signal"`
	Price          float64 `json:"price"`
	Accuracy       float64 `json:"accuracy"`
	AlertID        string  `json:"alert_id"`
}

// ReversalDetector stores predictions and raises a REVERSAL alert whenever a
// prediction disagrees with the previous one for the same symbol and
// timeframe.
type ReversalDetector struct {
	signals     domain.SignalStore
	alerts      *AlertService
	broadcaster domain.Broadcaster
	logger      *slog.Logger

	// mu orders read-previous/append so concurrent predictions for one pair
	// are compared against each other.
	mu sync.Mutex
}

// NewReversalDetector creates a ReversalDetector.
func NewReversalDetector(signals domain.SignalStore, alerts *AlertService, broadcaster domain.Broadcaster, logger *slog.Logger) *ReversalDetector {
	return &ReversalDetector{
		signals:     signals,
		alerts:      alerts,
		broadcaster: broadcaster,
		logger:      logger.With(slog.String("component", "reversal_detector")),
	}
}

// OnPrediction records rec and returns the reversal it caused, if any.
func (d *ReversalDetector) OnPrediction(ctx context.Context, rec domain.SignalRecord) (*Reversal, error) {
	rec.Symbol = domain.NormalizeSymbol(rec.Symbol)
	rec.Timeframe = domain.NormalizeTimeframe(rec.Timeframe)
	if rec.Symbol == "" {
		return nil, fmt.Errorf("reversal: symbol is required: %w", domain.ErrInvalidInput)
	}
	if rec.Prediction != 0 && rec.Prediction != 1 {
		return nil, fmt.Errorf("reversal: prediction must be 0 or 1: %w", domain.ErrInvalidInput)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	d.mu.Lock()
	prev, err := d.signals.Recent(ctx, rec.Symbol, rec.Timeframe, 1)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("reversal: load previous signal: %w", err)
	}
	err = d.signals.Append(ctx, rec)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("reversal: append signal: %w", err)
	}

	if len(prev) == 0 || prev[0].Prediction == rec.Prediction {
		return nil, nil
	}

	rev := &Reversal{
		Symbol:         rec.Symbol,
		Timeframe:      rec.Timeframe,
		PreviousSignal: string(prev[0].Direction()),
		NewSignal:      string(rec.Direction()),
		Price:          rec.Price,
		Accuracy:       rec.Accuracy,
	}
	alert, _, err := d.alerts.Record(ctx, domain.Alert{
		Type: domain.AlertTypeReversal,
		Message: fmt.Sprintf("Signal reversal! %s %s: %s -> %s",
			rev.Symbol, rev.Timeframe, rev.PreviousSignal, rev.NewSignal),
	})
	if err != nil {
		return nil, fmt.Errorf("reversal: record alert: %w", err)
	}
	rev.AlertID = alert.ID

	d.broadcaster.BroadcastAll(ctx, domain.EventSignalReversal, rev)
	d.logger.InfoContext(ctx, "reversal: signal flipped",
		slog.String("symbol", rev.Symbol),
		slog.String("timeframe", rev.Timeframe),
		slog.String("from", rev.PreviousSignal),
		slog.String("to", rev.NewSignal),
	)
	return rev, nil
}

// predictionMessage is the bus payload on ChannelPredictions.
type predictionMessage struct {
	Symbol     string  `json:"symbol"`
	Timeframe  string  `json:"timeframe"`
	Prediction int     `json:"prediction"`
	Price      float64 `json:"price"`
	Accuracy   float64 `json:"accuracy"`
}

// Listen consumes predictions from bus until ctx is cancelled.
func (d *ReversalDetector) Listen(ctx context.Context, bus domain.SignalBus) error {
	msgs, err := bus.Subscribe(ctx, ChannelPredictions)
	if err != nil {
		return fmt.Errorf("reversal: subscribe %s: %w", ChannelPredictions, err)
	}
	d.logger.InfoContext(ctx, "reversal: listening", slog.String("channel", ChannelPredictions))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var msg predictionMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				d.logger.WarnContext(ctx, "reversal: malformed prediction", slog.String("error", err.Error()))
				continue
			}
			_, err := d.OnPrediction(ctx, domain.SignalRecord{
				Symbol:     msg.Symbol,
				Timeframe:  msg.Timeframe,
				Prediction: msg.Prediction,
				Price:      msg.Price,
				Accuracy:   msg.Accuracy,
			})
			if err != nil {
				d.logger.WarnContext(ctx, "reversal: prediction rejected", slog.String("error", err.Error()))
			}
		}
	}
}
