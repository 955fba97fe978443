package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a tracked trade.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Valid reports whether d is LONG or SHORT.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// PositionStatus tracks whether a position is still monitored.
type PositionStatus string

const (
	PositionStatusActive PositionStatus = "ACTIVE"
	PositionStatusClosed PositionStatus = "CLOSED"
)

const (
	DefaultProfitTarget = 2.0
	DefaultLossLimit    = 1.0
)

// Position is one tracked trade. CurrentPrice and CurrentPnLPercent stay nil
// until the first monitoring cycle prices it.
type Position struct {
	ID                string         `json:"id"`
	Symbol            string         `json:"symbol"`
	Timeframe         string         `json:"timeframe"`
	Direction         Direction      `json:"position_type"`
	EntryPrice        float64        `json:"entry_price"`
	EntryTime         time.Time      `json:"entry_time"`
	CurrentPrice      *float64       `json:"current_price"`
	CurrentPnLPercent *float64       `json:"current_pnl_percent"`
	Status            PositionStatus `json:"status"`
	ProfitTarget      float64        `json:"profit_target"` // percent, > 0
	LossLimit         float64        `json:"loss_limit"`    // percent, > 0
	// Version increments on every monitor write and guards conditional updates.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the position is still being monitored.
func (p Position) Active() bool { return p.Status == PositionStatusActive }

// PositionFilter narrows position list queries. Zero values match everything.
type PositionFilter struct {
	Status    PositionStatus
	Symbol    string
	Timeframe string
	Limit     int
}

// PnLPercent returns the profit or loss of a position opened at entry and
// marked at current, as a percentage of entry.
func PnLPercent(dir Direction, entry, current float64) decimal.Decimal {
	e := decimal.NewFromFloat(entry)
	if e.IsZero() {
		return decimal.Zero
	}
	c := decimal.NewFromFloat(current)
	diff := c.Sub(e)
	if dir == DirectionShort {
		diff = e.Sub(c)
	}
	return diff.Div(e).Mul(decimal.NewFromInt(100))
}

// Breach reports which threshold, if any, pnl crosses. The profit target is
// checked first.
func Breach(pnl decimal.Decimal, profitTarget, lossLimit float64) (AlertType, bool) {
	if pnl.GreaterThanOrEqual(decimal.NewFromFloat(profitTarget)) {
		return AlertTypeProfitTarget, true
	}
	if pnl.LessThanOrEqual(decimal.NewFromFloat(lossLimit).Neg()) {
		return AlertTypeLossLimit, true
	}
	return "", false
}
