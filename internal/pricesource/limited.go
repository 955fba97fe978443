package pricesource

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// Limited wraps a REST source with a shared per-minute call budget. When the
// budget is spent the call fails as a transient source error, which makes the
// adapter fall through to the next source.
type Limited struct {
	src     Source
	limiter domain.RateLimiter
	limit   int
}

// RateLimited returns src guarded by limiter at perMinute calls.
func RateLimited(src Source, limiter domain.RateLimiter, perMinute int) *Limited {
	return &Limited{src: src, limiter: limiter, limit: perMinute}
}

func (l *Limited) Name() string { return l.src.Name() }

func (l *Limited) Price(ctx context.Context, symbol string) (float64, error) {
	if err := l.allow(ctx); err != nil {
		return 0, err
	}
	return l.src.Price(ctx, symbol)
}

// Candles forwards to the wrapped source when it also serves candles.
func (l *Limited) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	cs, ok := l.src.(CandleSource)
	if !ok {
		return nil, fmt.Errorf("%s: candles not supported: %w", l.src.Name(), domain.ErrTransientSource)
	}
	if err := l.allow(ctx); err != nil {
		return nil, err
	}
	return cs.Candles(ctx, symbol, timeframe, limit)
}

func (l *Limited) allow(ctx context.Context) error {
	if l.limiter == nil || l.limit <= 0 {
		return nil
	}
	ok, err := l.limiter.Allow(ctx, "pricesource:"+l.src.Name(), l.limit, time.Minute)
	if err != nil {
		// Fail open when the limiter itself is unavailable.
		return nil
	}
	if !ok {
		return fmt.Errorf("%s: %w: %w", l.src.Name(), domain.ErrTransientSource, domain.ErrRateLimited)
	}
	return nil
}
