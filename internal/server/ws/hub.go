// Package ws serves the consumer-facing WebSocket endpoint: it tracks which
// consumers follow which symbols and fans events out to them.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	defaultAlertsLimit = 20
)

var (
	errUnknownConsumer = errors.New("unknown consumer")
	errSlowConsumer    = errors.New("send buffer full")
)

// Consumer commands.
const (
	CmdSubscribe    = "subscribe_symbol"
	CmdUnsubscribe  = "unsubscribe_symbol"
	CmdGetPositions = "get_positions"
	CmdGetAlerts    = "get_alerts"
	CmdGetStatus    = "get_status"
	CmdPing         = "ping"
	replyPong       = "pong"
)

// DefaultRelayChannel carries events between processes.
const DefaultRelayChannel = "coinsignal:events"

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SymbolFeed is the upstream stream the hub adds symbols to on demand.
type SymbolFeed interface {
	SubscribeSymbol(symbol, timeframe string, handler func(context.Context, domain.Ticker) error)
	UnsubscribeSymbol(symbol string)
}

// Queries answers the read-only consumer commands.
type Queries interface {
	ActivePositions(ctx context.Context) ([]domain.Position, error)
	RecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
}

// HubConfig wires the hub's optional collaborators.
type HubConfig struct {
	Feed    SymbolFeed
	Queries Queries
	// Status returns extra fields for get_status replies.
	Status func() any
	// Pinned symbols stay on the upstream feed when their room empties.
	Pinned []string
	// Bus and RelayChannel, when set, deliver events published by other
	// processes through BusPublisher.
	Bus          domain.SignalBus
	RelayChannel string
}

// client represents a single WebSocket connection.
type client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// command is a consumer request. Arguments may be nested under "data" or
// given at the top level.
type command struct {
	Type string      `json:"type"`
	Data commandArgs `json:"data"`
	commandArgs
}

type commandArgs struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Limit     int    `json:"limit"`
}

// Hub owns the connected consumers and implements Transport for the
// Broadcaster.
type Hub struct {
	registry *Registry
	cfg      HubConfig
	pinned   map[string]bool
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client

	// subMu orders registry changes with the upstream feed calls they
	// imply, so a room is never released after a new consumer joined it.
	subMu sync.Mutex

	startedAt time.Time
}

// NewHub creates a hub backed by registry.
func NewHub(registry *Registry, logger *slog.Logger, cfg HubConfig) *Hub {
	pinned := make(map[string]bool, len(cfg.Pinned))
	for _, s := range cfg.Pinned {
		pinned[domain.NormalizeSymbol(s)] = true
	}
	if cfg.RelayChannel == "" {
		cfg.RelayChannel = DefaultRelayChannel
	}
	return &Hub{
		registry:  registry,
		cfg:       cfg,
		pinned:    pinned,
		logger:    logger.With(slog.String("component", "ws_hub")),
		clients:   make(map[string]*client),
		startedAt: time.Now().UTC(),
	}
}

// Run relays bus events (when configured) and blocks until ctx is cancelled,
// then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	if h.cfg.Bus != nil {
		local := NewBroadcaster(h.registry, h, h.logger)
		go func() {
			if err := Relay(ctx, h.cfg.Bus, h.cfg.RelayChannel, local, h.logger); err != nil && !errors.Is(err, context.Canceled) {
				h.logger.Error("ws: relay stopped", slog.String("error", err.Error()))
			}
		}()
	}

	<-ctx.Done()

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.unregister(c)
	}
	return ctx.Err()
}

// Send enqueues msg for consumerID. It never blocks; a full buffer drops the
// message.
func (h *Hub) Send(consumerID string, msg []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[consumerID]
	if !ok {
		return errUnknownConsumer
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSlowConsumer
	}
}

// ConsumerIDs returns every connected consumer.
func (h *Hub) ConsumerIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	return out
}

// ConsumerCount returns the number of connected consumers.
func (h *Hub) ConsumerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client connected",
		slog.String("consumer", c.id),
		slog.Int("total_clients", total),
	)

	c.reply(domain.EventConnected, map[string]any{
		"status":      "success",
		"message":     "Connected to coinsignal stream",
		"consumer_id": c.id,
	})

	go c.writePump()
	go c.readPump()
}

// unregister removes c, closes its send buffer and drops its subscriptions.
// Symbols left without subscribers are released from the upstream feed
// unless pinned.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	total := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.closeOnce.Do(func() { close(c.send) })

	h.subMu.Lock()
	for _, sym := range h.registry.RemoveConsumer(c.id) {
		h.releaseLocked(sym)
	}
	h.subMu.Unlock()
	h.logger.Info("ws: client disconnected",
		slog.String("consumer", c.id),
		slog.Int("total_clients", total),
	)
}

// subscribe adds consumerID to symbol's room and makes sure the upstream
// feed streams it. It reports false when the consumer has already
// disconnected.
func (h *Hub) subscribe(consumerID, symbol, timeframe string) bool {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.RLock()
	_, connected := h.clients[consumerID]
	h.mu.RUnlock()
	if !connected {
		return false
	}

	h.registry.Add(consumerID, symbol)
	h.registry.SetTimeframe(symbol, timeframe)
	if h.cfg.Feed != nil {
		h.cfg.Feed.SubscribeSymbol(symbol, timeframe, nil)
	}
	return true
}

// unsubscribe removes consumerID from symbol's room and releases the symbol
// upstream when the room emptied.
func (h *Hub) unsubscribe(consumerID, symbol string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	if h.registry.Remove(consumerID, symbol) {
		h.releaseLocked(symbol)
	}
}

// releaseLocked drops symbol from the upstream feed unless it is pinned or
// has subscribers again. Callers hold subMu.
func (h *Hub) releaseLocked(symbol string) {
	if h.cfg.Feed == nil || h.pinned[symbol] {
		return
	}
	if len(h.registry.ConsumersFor(symbol)) > 0 {
		return
	}
	h.cfg.Feed.UnsubscribeSymbol(symbol)
}

// Status answers get_status and the stream status endpoint.
func (h *Hub) Status() map[string]any {
	out := map[string]any{
		"consumers":      h.ConsumerCount(),
		"symbols":        h.registry.Counts(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.cfg.Status != nil {
		out["upstream"] = h.cfg.Status()
	}
	return out
}

// readPump reads consumer commands until the connection closes.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("consumer", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil || cmd.Type == "" {
			c.reply(domain.EventError, map[string]string{"message": "invalid command"})
			continue
		}
		c.handle(cmd)
	}
}

func (c *client) handle(cmd command) {
	args := cmd.Data
	if args.Symbol == "" {
		args.Symbol = cmd.Symbol
	}
	if args.Timeframe == "" {
		args.Timeframe = cmd.Timeframe
	}
	if args.Limit == 0 {
		args.Limit = cmd.Limit
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	h := c.hub
	switch strings.ToLower(cmd.Type) {
	case CmdSubscribe:
		sym := domain.NormalizeSymbol(args.Symbol)
		if sym == "" {
			c.reply(domain.EventError, map[string]string{"message": "symbol is required"})
			return
		}
		tf := domain.NormalizeTimeframe(args.Timeframe)
		if !h.subscribe(c.id, sym, tf) {
			return
		}
		c.reply(domain.EventSubscribed, map[string]string{
			"symbol":    sym,
			"timeframe": tf,
			"message":   "Subscribed to " + sym,
		})

	case CmdUnsubscribe:
		sym := domain.NormalizeSymbol(args.Symbol)
		if sym == "" {
			c.reply(domain.EventError, map[string]string{"message": "symbol is required"})
			return
		}
		h.unsubscribe(c.id, sym)
		c.reply(domain.EventUnsubscribed, map[string]string{
			"symbol":  sym,
			"message": "Unsubscribed from " + sym,
		})

	case CmdGetPositions:
		if h.cfg.Queries == nil {
			c.reply(domain.EventPositionsData, []domain.Position{})
			return
		}
		positions, err := h.cfg.Queries.ActivePositions(ctx)
		if err != nil {
			h.logger.Warn("ws: get_positions failed", slog.String("error", err.Error()))
			c.reply(domain.EventError, map[string]string{"message": "failed to load positions"})
			return
		}
		c.reply(domain.EventPositionsData, positions)

	case CmdGetAlerts:
		limit := args.Limit
		if limit <= 0 || limit > 200 {
			limit = defaultAlertsLimit
		}
		if h.cfg.Queries == nil {
			c.reply(domain.EventAlertsData, []domain.Alert{})
			return
		}
		alerts, err := h.cfg.Queries.RecentAlerts(ctx, limit)
		if err != nil {
			h.logger.Warn("ws: get_alerts failed", slog.String("error", err.Error()))
			c.reply(domain.EventError, map[string]string{"message": "failed to load alerts"})
			return
		}
		c.reply(domain.EventAlertsData, alerts)

	case CmdGetStatus:
		st := h.Status()
		st["subscriptions"] = h.registry.SymbolsFor(c.id)
		c.reply(domain.EventStatus, st)

	case CmdPing:
		c.reply(replyPong, nil)

	default:
		c.reply(domain.EventError, map[string]string{"message": "unknown command " + cmd.Type})
	}
}

// reply sends an event to this client only.
func (c *client) reply(event string, payload any) {
	msg, err := Encode(event, payload)
	if err != nil {
		return
	}
	if err := c.hub.Send(c.id, msg); err != nil {
		c.hub.logger.Warn("ws: reply dropped",
			slog.String("consumer", c.id),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// writePump pumps messages from the hub to the WebSocket connection and
// sends periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
