package ws

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// Registry is the in-memory, bidirectional index between connected consumers
// and the symbols they follow. A symbol entry exists only while at least one
// consumer references it.
type Registry struct {
	mu         sync.RWMutex
	byConsumer map[string]map[string]struct{}
	bySymbol   map[string]map[string]struct{}
	timeframes map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConsumer: make(map[string]map[string]struct{}),
		bySymbol:   make(map[string]map[string]struct{}),
		timeframes: make(map[string]string),
	}
}

// Add subscribes consumerID to symbol. It reports whether the symbol had no
// subscribers before this call.
func (r *Registry) Add(consumerID, symbol string) (firstForSymbol bool) {
	sym := domain.NormalizeSymbol(symbol)
	if consumerID == "" || sym == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	syms, ok := r.byConsumer[consumerID]
	if !ok {
		syms = make(map[string]struct{})
		r.byConsumer[consumerID] = syms
	}
	syms[sym] = struct{}{}

	consumers, ok := r.bySymbol[sym]
	if !ok {
		consumers = make(map[string]struct{})
		r.bySymbol[sym] = consumers
	}
	consumers[consumerID] = struct{}{}
	return !ok
}

// Remove unsubscribes consumerID from symbol. It reports whether the symbol
// is now without subscribers, in which case its entry is gone.
func (r *Registry) Remove(consumerID, symbol string) (symbolEmptied bool) {
	sym := domain.NormalizeSymbol(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(consumerID, sym)
}

// RemoveConsumer drops every subscription held by consumerID and returns the
// symbols that no longer have any subscriber.
func (r *Registry) RemoveConsumer(consumerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var emptied []string
	for sym := range r.byConsumer[consumerID] {
		if r.removeLocked(consumerID, sym) {
			emptied = append(emptied, sym)
		}
	}
	delete(r.byConsumer, consumerID)
	sort.Strings(emptied)
	return emptied
}

func (r *Registry) removeLocked(consumerID, sym string) bool {
	if syms, ok := r.byConsumer[consumerID]; ok {
		delete(syms, sym)
		if len(syms) == 0 {
			delete(r.byConsumer, consumerID)
		}
	}

	consumers, ok := r.bySymbol[sym]
	if !ok {
		return false
	}
	delete(consumers, consumerID)
	if len(consumers) > 0 {
		return false
	}
	delete(r.bySymbol, sym)
	delete(r.timeframes, sym)
	return true
}

// ConsumersFor returns the consumers subscribed to symbol.
func (r *Registry) ConsumersFor(symbol string) []string {
	sym := domain.NormalizeSymbol(symbol)

	r.mu.RLock()
	defer r.mu.RUnlock()

	consumers := r.bySymbol[sym]
	out := make([]string, 0, len(consumers))
	for id := range consumers {
		out = append(out, id)
	}
	return out
}

// SymbolsFor returns the symbols consumerID follows, sorted.
func (r *Registry) SymbolsFor(consumerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	syms := r.byConsumer[consumerID]
	out := make([]string, 0, len(syms))
	for s := range syms {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SetTimeframe records the preferred candle timeframe for a subscribed symbol.
// The last writer wins. Symbols without subscribers are ignored.
func (r *Registry) SetTimeframe(symbol, timeframe string) {
	sym := domain.NormalizeSymbol(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySymbol[sym]; !ok {
		return
	}
	r.timeframes[sym] = domain.NormalizeTimeframe(timeframe)
}

// Timeframe returns the preferred timeframe for symbol, if one is recorded.
func (r *Registry) Timeframe(symbol string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tf, ok := r.timeframes[domain.NormalizeSymbol(symbol)]
	return tf, ok
}

// Counts returns the number of subscribers per symbol.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.bySymbol))
	for sym, consumers := range r.bySymbol {
		out[sym] = len(consumers)
	}
	return out
}

// ConsumerCount returns the number of consumers holding at least one
// subscription.
func (r *Registry) ConsumerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConsumer)
}
