// Package feed maintains the upstream Binance ticker stream and relays each
// ticker to registered handlers and to the consumer broadcaster.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

const (
	// handshakeTimeout bounds a single dial.
	handshakeTimeout = 15 * time.Second

	// readTimeout drops a connection that has been silent this long. Binance
	// pushes every ticker once per second.
	readTimeout = 60 * time.Second

	// writeWait is the time allowed to write a control frame.
	writeWait = 5 * time.Second

	maxMessageSize = 1 << 20

	defaultStream = "btcusdt@ticker"
)

// State is the connection state of the feed.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status values carried by StatusEvent.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusReconnecting = "reconnecting"
	StatusFailed       = "failed"
)

// StatusEvent is broadcast to every consumer whenever the upstream connection
// changes state.
type StatusEvent struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Attempt int      `json:"attempt,omitempty"`
	DelayMs int64    `json:"delay_ms,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

// Snapshot describes the feed for status queries.
type Snapshot struct {
	State    string            `json:"state"`
	Symbols  map[string]string `json:"symbols"`
	Attempts int               `json:"reconnect_attempts"`
	Failed   bool              `json:"failed"`
}

// TickerHandler receives every decoded ticker for the symbol it was
// registered on.
type TickerHandler = func(ctx context.Context, t domain.Ticker) error

// CandleSource supplies the latest bar emitted alongside each ticker.
type CandleSource interface {
	LatestCandle(ctx context.Context, symbol, timeframe string) (domain.Candle, error)
}

// Scheduler runs f after d and returns a function that cancels it.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Config holds the tunables for BinanceFeed.
type Config struct {
	// WsHost is the stream root, e.g. "wss://stream.binance.com:9443".
	WsHost               string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	CandleTimeout        time.Duration
	DefaultTimeframe     string
}

func (c *Config) withDefaults() {
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.CandleTimeout <= 0 {
		c.CandleTimeout = 5 * time.Second
	}
	c.DefaultTimeframe = domain.NormalizeTimeframe(c.DefaultTimeframe)
}

// Option configures a BinanceFeed.
type Option func(*BinanceFeed)

// WithScheduler replaces time.AfterFunc for reconnect timers.
func WithScheduler(s Scheduler) Option {
	return func(f *BinanceFeed) { f.schedule = s }
}

// WithStatusHook registers a callback invoked after every status broadcast.
func WithStatusHook(h func(context.Context, StatusEvent)) Option {
	return func(f *BinanceFeed) { f.onStatus = h }
}

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(f *BinanceFeed) { f.dialer = d }
}

// BinanceFeed owns the single upstream ticker connection. The stream URL is
// derived from the subscribed symbol set, so changing the set while connected
// re-establishes the connection.
type BinanceFeed struct {
	cfg         Config
	dialer      *websocket.Dialer
	broadcaster domain.Broadcaster
	candles     CandleSource
	schedule    Scheduler
	onStatus    func(context.Context, StatusEvent)
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	timeframes map[string]string
	handlers   map[string][]TickerHandler
	conn       *websocket.Conn
	// gen identifies the current connection attempt. Goroutines holding an
	// older gen must not touch shared state.
	gen       uint64
	attempts  int
	exhausted bool
	stopRetry func() bool
	closed    bool
}

// NewBinanceFeed creates a disconnected feed. candles may be nil, in which
// case no candle_update events are produced.
func NewBinanceFeed(cfg Config, broadcaster domain.Broadcaster, candles CandleSource, logger *slog.Logger, opts ...Option) *BinanceFeed {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	f := &BinanceFeed{
		cfg:         cfg,
		dialer:      &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		broadcaster: broadcaster,
		candles:     candles,
		schedule:    afterFunc,
		logger:      logger.With(slog.String("component", "binance_feed")),
		ctx:         ctx,
		cancel:      cancel,
		timeframes:  make(map[string]string),
		handlers:    make(map[string][]TickerHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run connects and blocks until ctx is cancelled, then closes the feed.
func (f *BinanceFeed) Run(ctx context.Context) error {
	f.Connect()
	<-ctx.Done()
	f.Close()
	return ctx.Err()
}

// SubscribeSymbol adds symbol to the stream set with its preferred candle
// timeframe and an optional handler. It resets the reconnect budget.
func (f *BinanceFeed) SubscribeSymbol(symbol, timeframe string, handler TickerHandler) {
	sym := domain.NormalizeSymbol(symbol)
	if sym == "" {
		return
	}
	tf := f.cfg.DefaultTimeframe
	if timeframe != "" {
		tf = domain.NormalizeTimeframe(timeframe)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	_, existed := f.timeframes[sym]
	f.timeframes[sym] = tf
	if handler != nil {
		f.handlers[sym] = append(f.handlers[sym], handler)
	}

	restart := f.exhausted || (!existed && f.state != StateDisconnected)
	f.attempts = 0
	f.exhausted = false
	if restart {
		f.logger.Info("feed: symbol set changed, reconnecting", slog.String("symbol", sym))
		f.connectLocked()
	}
}

// UnsubscribeSymbol removes symbol, its handlers and its timeframe.
func (f *BinanceFeed) UnsubscribeSymbol(symbol string) {
	sym := domain.NormalizeSymbol(symbol)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.timeframes[sym]; !ok || f.closed {
		return
	}
	delete(f.timeframes, sym)
	delete(f.handlers, sym)

	if f.state != StateDisconnected {
		f.logger.Info("feed: symbol removed, reconnecting", slog.String("symbol", sym))
		f.connectLocked()
	}
}

// Connect opens the stream asynchronously and resets the reconnect budget.
func (f *BinanceFeed) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = 0
	f.exhausted = false
	f.connectLocked()
}

// Disconnect closes the active connection. Subscriptions are kept and no
// reconnect is scheduled.
func (f *BinanceFeed) Disconnect() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.cancelRetryLocked()
	f.gen++
	f.closeConnLocked()
	f.state = StateDisconnected
	syms := f.symbolsLocked()
	f.mu.Unlock()

	f.emitStatus(StatusEvent{Status: StatusDisconnected, Message: "disconnected by request", Symbols: syms})
}

// Close disconnects, cancels pending timers and waits for the reader to exit.
func (f *BinanceFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.cancelRetryLocked()
	f.gen++
	f.closeConnLocked()
	f.state = StateDisconnected
	f.mu.Unlock()

	f.cancel()
	f.wg.Wait()
	f.logger.Info("feed: closed")
}

// State returns the current connection state.
func (f *BinanceFeed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Symbols returns the subscribed symbols in sorted order.
func (f *BinanceFeed) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.symbolsLocked()
}

// Snapshot returns the feed state for status endpoints.
func (f *BinanceFeed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	syms := make(map[string]string, len(f.timeframes))
	for s, tf := range f.timeframes {
		syms[s] = tf
	}
	return Snapshot{
		State:    f.state.String(),
		Symbols:  syms,
		Attempts: f.attempts,
		Failed:   f.exhausted,
	}
}

// StreamURL returns the combined-stream URL for the current symbol set.
func (f *BinanceFeed) StreamURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamURLLocked()
}

// --------------------------------------------------------------------------
// Internal methods. Names ending in Locked require f.mu.
// --------------------------------------------------------------------------

func (f *BinanceFeed) connectLocked() {
	if f.closed {
		return
	}
	f.cancelRetryLocked()
	f.closeConnLocked()
	f.gen++
	f.state = StateConnecting

	gen, url := f.gen, f.streamURLLocked()
	f.wg.Add(1)
	go f.run(gen, url)
}

func (f *BinanceFeed) streamURLLocked() string {
	streams := make([]string, 0, len(f.timeframes))
	for _, s := range f.symbolsLocked() {
		streams = append(streams, strings.ToLower(s)+"@ticker")
	}
	if len(streams) == 0 {
		streams = append(streams, defaultStream)
	}
	return strings.TrimRight(f.cfg.WsHost, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

func (f *BinanceFeed) symbolsLocked() []string {
	out := make([]string, 0, len(f.timeframes))
	for s := range f.timeframes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (f *BinanceFeed) closeConnLocked() {
	if f.conn == nil {
		return
	}
	_ = f.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	_ = f.conn.Close()
	f.conn = nil
}

func (f *BinanceFeed) cancelRetryLocked() {
	if f.stopRetry != nil {
		f.stopRetry()
		f.stopRetry = nil
	}
}

// run dials url and, once connected, reads until the connection drops.
func (f *BinanceFeed) run(gen uint64, url string) {
	defer f.wg.Done()

	ctx, cancel := context.WithTimeout(f.ctx, handshakeTimeout)
	conn, _, err := f.dialer.DialContext(ctx, url, nil)
	cancel()
	if err != nil {
		f.handleDrop(gen, fmt.Errorf("feed: dial: %w: %w", domain.ErrUpstreamDisconnected, err))
		return
	}

	f.mu.Lock()
	if gen != f.gen || f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return
	}
	f.conn = conn
	f.state = StateConnected
	f.attempts = 0
	f.exhausted = false
	syms := f.symbolsLocked()
	f.mu.Unlock()

	f.logger.Info("feed: connected", slog.String("url", url), slog.Int("symbols", len(syms)))
	f.emitStatus(StatusEvent{Status: StatusConnected, Message: "connected to upstream", Symbols: syms})

	f.readLoop(gen, conn)
}

func (f *BinanceFeed) readLoop(gen uint64, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.handleDrop(gen, fmt.Errorf("feed: read: %w: %w", domain.ErrUpstreamDisconnected, err))
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		f.handleMessage(msg)
	}
}

// handleDrop moves a live generation to Disconnected and schedules the next
// attempt. Drops from superseded generations are ignored.
func (f *BinanceFeed) handleDrop(gen uint64, cause error) {
	f.mu.Lock()
	if gen != f.gen || f.closed {
		f.mu.Unlock()
		return
	}
	f.closeConnLocked()
	f.state = StateDisconnected

	var ev StatusEvent
	if f.attempts >= f.cfg.MaxReconnectAttempts {
		if f.exhausted {
			f.mu.Unlock()
			return
		}
		f.exhausted = true
		ev = StatusEvent{
			Status:  StatusFailed,
			Message: fmt.Sprintf("giving up after %d reconnect attempts: %v", f.attempts, cause),
			Attempt: f.attempts,
		}
	} else {
		f.attempts++
		delay := f.cfg.ReconnectDelay * time.Duration(f.attempts)
		f.stopRetry = f.schedule(delay, func() { f.retry(gen) })
		ev = StatusEvent{
			Status:  StatusReconnecting,
			Message: cause.Error(),
			Attempt: f.attempts,
			DelayMs: delay.Milliseconds(),
		}
	}
	ev.Symbols = f.symbolsLocked()
	f.mu.Unlock()

	if ev.Status == StatusFailed {
		f.logger.Error("feed: reconnect attempts exhausted",
			slog.Int("attempts", ev.Attempt),
			slog.String("error", cause.Error()),
		)
	} else {
		f.logger.Warn("feed: disconnected, reconnect scheduled",
			slog.Int("attempt", ev.Attempt),
			slog.Int64("delay_ms", ev.DelayMs),
			slog.String("error", cause.Error()),
		)
	}
	f.emitStatus(ev)
}

// retry fires from the reconnect timer. It is a no-op if anything else has
// reconnected or closed the feed since the timer was set.
func (f *BinanceFeed) retry(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || gen != f.gen || f.state != StateDisconnected {
		return
	}
	f.stopRetry = nil
	f.connectLocked()
}

func (f *BinanceFeed) handleMessage(raw []byte) {
	t, err := decodeTicker(raw, time.Now())
	if err != nil {
		f.logger.Debug("feed: dropping message", slog.String("error", err.Error()))
		return
	}

	f.mu.Lock()
	handlers := append([]TickerHandler(nil), f.handlers[t.Symbol]...)
	tf, ok := f.timeframes[t.Symbol]
	f.mu.Unlock()
	if !ok {
		tf = f.cfg.DefaultTimeframe
	}

	for _, h := range handlers {
		f.invoke(h, t)
	}

	if f.broadcaster == nil {
		return
	}
	f.broadcaster.BroadcastSymbol(f.ctx, t.Symbol, domain.EventPriceUpdate, t)

	if f.candles == nil {
		return
	}
	ctx, cancel := context.WithTimeout(f.ctx, f.cfg.CandleTimeout)
	candle, err := f.candles.LatestCandle(ctx, t.Symbol, tf)
	cancel()
	if err != nil {
		f.logger.Debug("feed: candle lookup failed",
			slog.String("symbol", t.Symbol),
			slog.String("timeframe", tf),
			slog.String("error", err.Error()),
		)
		return
	}
	f.broadcaster.BroadcastSymbol(f.ctx, t.Symbol, domain.EventCandleUpdate, candle)
}

// invoke runs one handler, containing its error or panic.
func (f *BinanceFeed) invoke(h TickerHandler, t domain.Ticker) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("feed: ticker handler panicked",
				slog.String("symbol", t.Symbol),
				slog.Any("panic", r),
			)
		}
	}()
	if err := h(f.ctx, t); err != nil {
		f.logger.Warn("feed: ticker handler failed",
			slog.String("symbol", t.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (f *BinanceFeed) emitStatus(ev StatusEvent) {
	if f.broadcaster != nil {
		f.broadcaster.BroadcastAll(f.ctx, domain.EventUpstreamStatus, ev)
	}
	if f.onStatus != nil {
		f.onStatus(f.ctx, ev)
	}
}
