package pricesource

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// DefaultBasePrices seeds the synthetic walk per base asset.
var DefaultBasePrices = map[string]float64{
	"BTC":  45000,
	"ETH":  3000,
	"DOGE": 0.08,
	"ADA":  0.5,
	"SOL":  100,
}

const (
	syntheticFallbackBase = 100.0
	syntheticStep         = 0.02 // ±2% per call
	syntheticBand         = 0.5  // walk stays within ±50% of base
)

// Synthetic is a seeded bounded random walk. It never fails and, for a given
// seed and call sequence, always yields the same prices.
type Synthetic struct {
	mu    sync.Mutex
	rng   *rand.Rand
	base  map[string]float64
	last  map[string]float64
	clock func() time.Time
}

// NewSynthetic creates a generator seeded with seed. base overrides
// DefaultBasePrices when non-nil.
func NewSynthetic(seed int64, base map[string]float64) *Synthetic {
	if base == nil {
		base = DefaultBasePrices
	}
	return &Synthetic{
		rng:   rand.New(rand.NewSource(seed)),
		base:  base,
		last:  make(map[string]float64),
		clock: time.Now,
	}
}

func (s *Synthetic) Name() string { return "synthetic" }

// Price advances the walk for symbol by one step and returns the new price.
func (s *Synthetic) Price(_ context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepLocked(symbol), nil
}

// Candles fabricates limit bars ending at the current walk position.
func (s *Synthetic) Candles(_ context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		limit = 1
	}
	step := timeframeDuration(timeframe)

	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.clock().Truncate(step)
	out := make([]domain.Candle, limit)
	for i := 0; i < limit; i++ {
		open := s.priceLocked(symbol)
		closePx := s.stepLocked(symbol)
		spread := open * syntheticStep / 4
		high := max(open, closePx) + spread*s.rng.Float64()
		low := min(open, closePx) - spread*s.rng.Float64()
		out[i] = domain.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  end.Add(-time.Duration(limit-1-i) * step).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    1000 + s.rng.Float64()*9000,
		}
	}
	return out, nil
}

func (s *Synthetic) basePrice(symbol string) float64 {
	if p, ok := s.base[domain.BaseAsset(symbol)]; ok {
		return p
	}
	return syntheticFallbackBase
}

func (s *Synthetic) priceLocked(symbol string) float64 {
	if p, ok := s.last[symbol]; ok {
		return p
	}
	return s.basePrice(symbol)
}

func (s *Synthetic) stepLocked(symbol string) float64 {
	base := s.basePrice(symbol)
	cur := s.priceLocked(symbol)
	next := cur * (1 + (s.rng.Float64()*2-1)*syntheticStep)
	next = min(max(next, base*(1-syntheticBand)), base*(1+syntheticBand))
	s.last[symbol] = next
	return next
}

var timeframeUnits = map[byte]time.Duration{
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'M': 30 * 24 * time.Hour,
}

// timeframeDuration converts "15m", "4h", "1d" into a duration. Unknown input
// yields one minute.
func timeframeDuration(tf string) time.Duration {
	if len(tf) < 2 {
		return time.Minute
	}
	unit, ok := timeframeUnits[tf[len(tf)-1]]
	if !ok {
		return time.Minute
	}
	n := 0
	for _, r := range tf[:len(tf)-1] {
		if r < '0' || r > '9' {
			return time.Minute
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return time.Minute
	}
	return time.Duration(n) * unit
}
