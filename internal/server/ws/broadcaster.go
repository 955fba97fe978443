package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// Envelope is the frame written to consumers.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	Ts   int64  `json:"ts"`
}

// Encode marshals an event into its wire frame.
func Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Type: event, Data: payload, Ts: time.Now().UnixMilli()})
}

// Transport delivers frames to individual consumers.
type Transport interface {
	// Send enqueues msg for consumerID without blocking.
	Send(consumerID string, msg []byte) error
	ConsumerIDs() []string
}

// Broadcaster relays events to rooms (symbol subscribers) or to everyone.
// It holds no state of its own beyond its collaborators.
type Broadcaster struct {
	registry  *Registry
	transport Transport
	logger    *slog.Logger
}

// NewBroadcaster creates a Broadcaster over registry and transport.
func NewBroadcaster(registry *Registry, transport Transport, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry:  registry,
		transport: transport,
		logger:    logger.With(slog.String("component", "ws_broadcaster")),
	}
}

// BroadcastSymbol sends event to consumers subscribed to symbol.
func (b *Broadcaster) BroadcastSymbol(ctx context.Context, symbol, event string, payload any) {
	ids := b.registry.ConsumersFor(symbol)
	if len(ids) == 0 {
		return
	}
	b.deliver(ctx, ids, event, payload)
}

// BroadcastAll sends event to every connected consumer.
func (b *Broadcaster) BroadcastAll(ctx context.Context, event string, payload any) {
	b.deliver(ctx, b.transport.ConsumerIDs(), event, payload)
}

func (b *Broadcaster) deliver(ctx context.Context, ids []string, event string, payload any) {
	msg, err := Encode(event, payload)
	if err != nil {
		b.logger.ErrorContext(ctx, "ws: encode event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, id := range ids {
		if err := b.transport.Send(id, msg); err != nil {
			b.logger.WarnContext(ctx, "ws: delivery dropped",
				slog.String("consumer", id),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// busEvent carries a broadcast between processes over the signal bus.
type busEvent struct {
	Symbol string          `json:"symbol,omitempty"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

// BusPublisher is a domain.Broadcaster for processes without consumers of
// their own, such as a standalone monitor. Events are published to a bus
// channel and delivered by whichever process runs Relay on it.
type BusPublisher struct {
	bus     domain.SignalBus
	channel string
	logger  *slog.Logger
}

// NewBusPublisher creates a publisher on channel.
func NewBusPublisher(bus domain.SignalBus, channel string, logger *slog.Logger) *BusPublisher {
	return &BusPublisher{
		bus:     bus,
		channel: channel,
		logger:  logger.With(slog.String("component", "ws_bus_publisher")),
	}
}

func (p *BusPublisher) BroadcastSymbol(ctx context.Context, symbol, event string, payload any) {
	p.publish(ctx, domain.NormalizeSymbol(symbol), event, payload)
}

func (p *BusPublisher) BroadcastAll(ctx context.Context, event string, payload any) {
	p.publish(ctx, "", event, payload)
}

func (p *BusPublisher) publish(ctx context.Context, symbol, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.ErrorContext(ctx, "ws: encode bus event", slog.String("error", err.Error()))
		return
	}
	msg, err := json.Marshal(busEvent{Symbol: symbol, Type: event, Data: data})
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, p.channel, msg); err != nil {
		p.logger.WarnContext(ctx, "ws: publish bus event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Relay forwards events published by BusPublisher on channel to to. It
// returns when ctx is cancelled or the subscription ends.
func Relay(ctx context.Context, bus domain.SignalBus, channel string, to domain.Broadcaster, logger *slog.Logger) error {
	msgs, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("ws: relay subscribe %s: %w", channel, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev busEvent
			if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
				logger.WarnContext(ctx, "ws: relay dropped malformed event", slog.String("channel", channel))
				continue
			}
			if ev.Symbol != "" {
				to.BroadcastSymbol(ctx, ev.Symbol, ev.Type, ev.Data)
			} else {
				to.BroadcastAll(ctx, ev.Type, ev.Data)
			}
		}
	}
}
