package domain

import "time"

// AlertType classifies why an alert fired.
type AlertType string

const (
	AlertTypeReversal     AlertType = "REVERSAL"
	AlertTypeProfitTarget AlertType = "PROFIT_TARGET"
	AlertTypeLossLimit    AlertType = "LOSS_LIMIT"
)

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeReversal, AlertTypeProfitTarget, AlertTypeLossLimit:
		return true
	}
	return false
}

// Deduplicated reports whether at most one alert of this type may exist per
// position.
func (t AlertType) Deduplicated() bool {
	return t == AlertTypeProfitTarget || t == AlertTypeLossLimit
}

// Alert is a one-shot notification. PositionID is nil for reversal alerts.
type Alert struct {
	ID          string    `json:"id"`
	PositionID  *string   `json:"position_id"`
	Type        AlertType `json:"alert_type"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
	IsRead      bool      `json:"is_read"`
}

// AlertFilter narrows alert list queries. Limit <= 0 means no limit.
type AlertFilter struct {
	PositionID string
	Type       AlertType
	UnreadOnly bool
	Limit      int
}
