package domain

import "time"

// SignalRecord is one stored prediction for a symbol and timeframe.
// Prediction is 1 for LONG and 0 for SHORT.
type SignalRecord struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Prediction int       `json:"prediction"`
	Price      float64   `json:"price"`
	Accuracy   float64   `json:"accuracy"`
	CreatedAt  time.Time `json:"created_at"`
}

// Direction maps the raw model output onto a trade direction.
func (s SignalRecord) Direction() Direction {
	if s.Prediction == 1 {
		return DirectionLong
	}
	return DirectionShort
}

// Prediction is the output contract of the external model.
type Prediction struct {
	Prediction int     `json:"prediction"`
	Price      float64 `json:"price"`
	Accuracy   float64 `json:"accuracy"`
}
