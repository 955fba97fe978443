package pricesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// DefaultTTL is how long a fetched price is served from cache.
const DefaultTTL = 5 * time.Second

// DefaultFetchTimeout bounds one shared walk over every source.
const DefaultFetchTimeout = 15 * time.Second

// Adapter resolves prices through an ordered list of sources. A fresh cached
// quote is returned with source "cache"; every successful fetch overwrites
// the cached entry for its symbol.
type Adapter struct {
	sources []Source
	candles []CandleSource
	shared  domain.PriceCache
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]domain.Quote

	group singleflight.Group
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTTL overrides DefaultTTL. Zero disables caching.
func WithTTL(ttl time.Duration) Option {
	return func(a *Adapter) { a.ttl = ttl }
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithSharedCache adds a second cache tier shared between processes.
func WithSharedCache(pc domain.PriceCache) Option {
	return func(a *Adapter) { a.shared = pc }
}

// WithCandleSources sets the ordered sources used for candle lookups.
func WithCandleSources(cs ...CandleSource) Option {
	return func(a *Adapter) { a.candles = cs }
}

// New creates an Adapter over sources, tried in order.
func New(sources []Source, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		sources: sources,
		ttl:     DefaultTTL,
		timeout: DefaultFetchTimeout,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "pricesource")),
		cache:   make(map[string]domain.Quote),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetPrice returns the current price of symbol. The only error it returns
// wraps domain.ErrAllSourcesExhausted (or the context error).
func (a *Adapter) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	sym := domain.NormalizeSymbol(symbol)

	if q, ok := a.cached(sym); ok {
		q.Source = domain.SourceCache
		return q, nil
	}
	if q, ok := a.sharedCached(ctx, sym); ok {
		q.Source = domain.SourceCache
		return q, nil
	}

	// Concurrent callers share one fetch, detached from their cancellation.
	ch := a.group.DoChan(sym, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		return a.fetch(fctx, sym)
	})
	select {
	case <-ctx.Done():
		return domain.Quote{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Quote{}, res.Err
		}
		return res.Val.(domain.Quote), nil
	}
}

// GetPrices resolves each symbol independently. Symbols that cannot be priced
// are left out of the result.
func (a *Adapter) GetPrices(ctx context.Context, symbols []string) map[string]domain.Quote {
	out := make(map[string]domain.Quote, len(symbols))
	for _, s := range symbols {
		q, err := a.GetPrice(ctx, s)
		if err != nil {
			a.logger.WarnContext(ctx, "pricesource: symbol skipped",
				slog.String("symbol", s),
				slog.String("error", err.Error()),
			)
			continue
		}
		out[q.Symbol] = q
	}
	return out
}

// LatestCandle returns the most recent bar for symbol at timeframe.
func (a *Adapter) LatestCandle(ctx context.Context, symbol, timeframe string) (domain.Candle, error) {
	bars, err := a.History(ctx, symbol, timeframe, 1)
	if err != nil {
		return domain.Candle{}, err
	}
	return bars[len(bars)-1], nil
}

// History returns up to limit bars for symbol at timeframe, oldest first.
func (a *Adapter) History(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	sym := domain.NormalizeSymbol(symbol)
	tf := domain.NormalizeTimeframe(timeframe)

	var errs []error
	for _, cs := range a.candles {
		bars, err := cs.Candles(ctx, sym, tf, limit)
		if err == nil && len(bars) > 0 {
			return bars, nil
		}
		if err == nil {
			err = fmt.Errorf("%s: empty result", cs.Name())
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("pricesource: candles %s %s: %w: %w", sym, tf, domain.ErrAllSourcesExhausted, errors.Join(errs...))
}

func (a *Adapter) fetch(ctx context.Context, sym string) (domain.Quote, error) {
	var errs []error
	for _, src := range a.sources {
		price, err := src.Price(ctx, sym)
		if err == nil && price <= 0 {
			err = fmt.Errorf("%s: non-positive price %v: %w", src.Name(), price, domain.ErrTransientSource)
		}
		if err != nil {
			if ctx.Err() != nil {
				return domain.Quote{}, ctx.Err()
			}
			a.logger.DebugContext(ctx, "pricesource: source failed",
				slog.String("source", src.Name()),
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}

		q := domain.Quote{Symbol: sym, Price: price, Source: src.Name(), FetchedAt: a.now()}
		a.store(ctx, q)
		return q, nil
	}
	return domain.Quote{}, fmt.Errorf("pricesource: %s: %w: %w", sym, domain.ErrAllSourcesExhausted, errors.Join(errs...))
}

func (a *Adapter) cached(sym string) (domain.Quote, bool) {
	if a.ttl <= 0 {
		return domain.Quote{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.cache[sym]
	if !ok || a.now().Sub(q.FetchedAt) >= a.ttl {
		return domain.Quote{}, false
	}
	return q, true
}

func (a *Adapter) sharedCached(ctx context.Context, sym string) (domain.Quote, bool) {
	if a.shared == nil || a.ttl <= 0 {
		return domain.Quote{}, false
	}
	q, err := a.shared.GetQuote(ctx, sym)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.WarnContext(ctx, "pricesource: shared cache read failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
		}
		return domain.Quote{}, false
	}
	if a.now().Sub(q.FetchedAt) >= a.ttl {
		return domain.Quote{}, false
	}
	return q, true
}

// store overwrites the cached quote for q.Symbol regardless of age.
func (a *Adapter) store(ctx context.Context, q domain.Quote) {
	a.mu.Lock()
	a.cache[q.Symbol] = q
	a.mu.Unlock()

	if a.shared != nil {
		if err := a.shared.SetQuote(ctx, q); err != nil {
			a.logger.WarnContext(ctx, "pricesource: shared cache write failed",
				slog.String("symbol", q.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}
