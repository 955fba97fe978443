package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type broadcast struct {
	symbol  string
	event   string
	payload any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcast
}

func (r *recordingBroadcaster) BroadcastSymbol(_ context.Context, symbol, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, broadcast{symbol: symbol, event: event, payload: payload})
}

func (r *recordingBroadcaster) BroadcastAll(ctx context.Context, event string, payload any) {
	r.BroadcastSymbol(ctx, "", event, payload)
}

func (r *recordingBroadcaster) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (r *recordingBroadcaster) last(event string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].event == event {
			return r.events[i].payload, true
		}
	}
	return nil, false
}

// staticPrices serves fixed quotes; symbols without a price fail.
type staticPrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (s *staticPrices) set(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prices == nil {
		s.prices = map[string]float64{}
	}
	s.prices[symbol] = price
}

func (s *staticPrices) GetPrice(_ context.Context, symbol string) (domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrAllSourcesExhausted
	}
	return domain.Quote{Symbol: symbol, Price: p, Source: "test", FetchedAt: time.Now()}, nil
}

type countingNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (n *countingNotifier) Alert(_ context.Context, a domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

type fakeArchiver struct {
	positions []domain.Position
	alerts    []domain.Alert
	err       error
}

func (f *fakeArchiver) ArchivePositions(_ context.Context, p []domain.Position) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.positions = append(f.positions, p...)
	return "archive/positions/test.json", nil
}

func (f *fakeArchiver) ArchiveAlerts(_ context.Context, a []domain.Alert) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.alerts = append(f.alerts, a...)
	return "archive/alerts/test.json", nil
}

type fakeLock struct {
	held     bool
	err      error
	acquired int
	ttl      time.Duration
}

func (l *fakeLock) Acquire(_ context.Context, _ string, ttl time.Duration) (func(), error) {
	l.ttl = ttl
	if l.err != nil {
		return nil, l.err
	}
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() {}, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	ch        chan []byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	if b.ch == nil {
		return nil, errors.New("no channel")
	}
	return b.ch, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}
