package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per symbol holding
// price, source and fetch time. Entries expire after ttl so a stopped writer
// never leaves a stale price behind.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl defaults to one minute.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) priceKey(symbol string) string {
	return pc.c.key("price", domain.NormalizeSymbol(symbol))
}

// SetQuote overwrites the cached quote for q.Symbol.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := pc.priceKey(q.Symbol)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodeQuote(q))
	pipe.Expire(ctx, key, pc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote returns domain.ErrNotFound when nothing is cached.
func (pc *PriceCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.priceKey(symbol)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	q, ok := decodeQuote(domain.NormalizeSymbol(symbol), vals)
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

// GetQuotes fetches several symbols in one round trip. Missing symbols are
// omitted.
func (pc *PriceCache) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		sym := domain.NormalizeSymbol(s)
		cmds[sym] = pipe.HGetAll(ctx, pc.priceKey(sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes: %w", err)
	}

	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if q, ok := decodeQuote(sym, vals); ok {
			out[sym] = q
		}
	}
	return out, nil
}

func encodeQuote(q domain.Quote) map[string]any {
	return map[string]any{
		"price":  strconv.FormatFloat(q.Price, 'f', -1, 64),
		"source": q.Source,
		"ts":     strconv.FormatInt(q.FetchedAt.UnixNano(), 10),
	}
}

func decodeQuote(symbol string, vals map[string]string) (domain.Quote, bool) {
	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.Quote{}, false
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, false
	}
	return domain.Quote{
		Symbol:    symbol,
		Price:     price,
		Source:    vals["source"],
		FetchedAt: time.Unix(0, ts).UTC(),
	}, true
}

var _ domain.PriceCache = (*PriceCache)(nil)
