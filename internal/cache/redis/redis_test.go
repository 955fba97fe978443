package redis

import (
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

func TestQuoteEncoding(t *testing.T) {
	q := domain.Quote{
		Symbol:    "BTCUSDT",
		Price:     45123.45,
		Source:    "binance",
		FetchedAt: time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC),
	}

	enc := encodeQuote(q)
	vals := make(map[string]string, len(enc))
	for k, v := range enc {
		vals[k] = v.(string)
	}

	got, ok := decodeQuote("BTCUSDT", vals)
	require.True(t, ok)
	assert.Equal(t, q, got)
}

func TestDecodeQuote_Incomplete(t *testing.T) {
	_, ok := decodeQuote("BTCUSDT", map[string]string{})
	assert.False(t, ok)
	_, ok = decodeQuote("BTCUSDT", map[string]string{"price": "1"})
	assert.False(t, ok)
	_, ok = decodeQuote("BTCUSDT", map[string]string{"price": "x", "ts": "1"})
	assert.False(t, ok)
}

func TestClientKeys(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	c := NewFromClient(rdb, "")
	assert.Equal(t, "coinsignal:lock:monitor", c.key("lock", "monitor"))

	pc := NewPriceCache(NewFromClient(rdb, "test:"), 0)
	assert.Equal(t, "test:price:ETHUSDT", pc.priceKey("eth/usdt"))
	assert.Equal(t, time.Minute, pc.ttl)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}
