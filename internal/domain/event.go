package domain

import "context"

// Event names pushed to consumers.
const (
	EventConnected      = "connected"
	EventSubscribed     = "subscribed"
	EventUnsubscribed   = "unsubscribed"
	EventError          = "error"
	EventStatus         = "status"
	EventPriceUpdate    = "price_update"
	EventCandleUpdate   = "candle_update"
	EventPositionUpdate = "position_update"
	EventAlert          = "alert"
	EventSignalReversal = "signal_reversal"
	EventClearAll       = "clear_all"
	EventClearAlertAll  = "clear_alert_all"
	EventUpstreamStatus = "binance_status"
	EventPositionsData  = "positions_data"
	EventAlertsData     = "alerts_data"
)

// Broadcaster delivers events to connected consumers. Delivery is best
// effort and never blocks on a slow consumer.
type Broadcaster interface {
	// BroadcastSymbol reaches only consumers subscribed to symbol.
	BroadcastSymbol(ctx context.Context, symbol, event string, payload any)
	// BroadcastAll reaches every connected consumer.
	BroadcastAll(ctx context.Context, event string, payload any)
}
