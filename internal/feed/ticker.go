package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

const tickerEventType = "24hrTicker"

// streamEnvelope wraps every message on a combined stream.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerEvent is the subset of the 24hr ticker payload we read. Keys that
// differ only by case are all declared so encoding/json matches them exactly.
type tickerEvent struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	PriceChange string `json:"p"`
	ChangePct   string `json:"P"`
	LastPrice   string `json:"c"`
	CloseTime   int64  `json:"C"`
	Volume      string `json:"v"`
}

// decodeTicker parses a raw or combined-stream ticker message. Any error wraps
// domain.ErrMalformedMessage.
func decodeTicker(raw []byte, receivedAt time.Time) (domain.Ticker, error) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Ticker{}, fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
	}
	if len(env.Data) > 0 {
		raw = env.Data
	}

	var ev tickerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.Ticker{}, fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
	}
	if ev.EventType != tickerEventType {
		return domain.Ticker{}, fmt.Errorf("%w: event type %q", domain.ErrMalformedMessage, ev.EventType)
	}
	if ev.Symbol == "" {
		return domain.Ticker{}, fmt.Errorf("%w: missing symbol", domain.ErrMalformedMessage)
	}

	price, err := decimal.NewFromString(ev.LastPrice)
	if err != nil || !price.IsPositive() {
		return domain.Ticker{}, fmt.Errorf("%w: bad last price %q", domain.ErrMalformedMessage, ev.LastPrice)
	}
	change, err := parseOptional(ev.ChangePct)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("%w: bad change %q", domain.ErrMalformedMessage, ev.ChangePct)
	}
	volume, err := parseOptional(ev.Volume)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("%w: bad volume %q", domain.ErrMalformedMessage, ev.Volume)
	}

	return domain.Ticker{
		Symbol:    domain.NormalizeSymbol(ev.Symbol),
		Price:     price.InexactFloat64(),
		Change24h: change.InexactFloat64(),
		Volume:    volume.InexactFloat64(),
		Timestamp: receivedAt.UTC(),
		Source:    "feed",
	}, nil
}

func parseOptional(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
