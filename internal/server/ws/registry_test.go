package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_AddRemoveRoundTrip(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Add("c1", "btc/usdt"))
	assert.False(t, r.Add("c2", "BTCUSDT"))
	assert.True(t, r.Add("c1", "ETHUSDT"))

	assert.ElementsMatch(t, []string{"c1", "c2"}, r.ConsumersFor("BTCUSDT"))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, r.SymbolsFor("c1"))
	assert.Equal(t, map[string]int{"BTCUSDT": 2, "ETHUSDT": 1}, r.Counts())

	assert.False(t, r.Remove("c2", "BTCUSDT"))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, r.RemoveConsumer("c1"))

	assert.Empty(t, r.Counts())
	assert.Empty(t, r.SymbolsFor("c1"))
	assert.Empty(t, r.ConsumersFor("BTCUSDT"))
	assert.Equal(t, 0, r.ConsumerCount())
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Remove("nobody", "BTCUSDT"))
	assert.Empty(t, r.RemoveConsumer("nobody"))
	assert.False(t, r.Add("", "BTCUSDT"))
	assert.False(t, r.Add("c1", " / "))
	assert.Empty(t, r.Counts())
}

func TestRegistry_Timeframe(t *testing.T) {
	r := NewRegistry()

	r.SetTimeframe("BTCUSDT", "5m")
	_, ok := r.Timeframe("BTCUSDT")
	assert.False(t, ok, "no subscribers, no timeframe")

	r.Add("c1", "BTCUSDT")
	r.SetTimeframe("BTCUSDT", "5m")
	r.SetTimeframe("btc-usdt", "1H")
	tf, ok := r.Timeframe("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, "1h", tf)

	r.Remove("c1", "BTCUSDT")
	_, ok = r.Timeframe("BTCUSDT")
	assert.False(t, ok, "timeframe released with the symbol")
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			for j := 0; j < 50; j++ {
				sym := symbols[(i+j)%len(symbols)]
				r.Add(id, sym)
				r.SetTimeframe(sym, "1m")
				_ = r.ConsumersFor(sym)
				_ = r.Counts()
				r.Remove(id, sym)
			}
			r.Add(id, "BTCUSDT")
			r.RemoveConsumer(id)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, r.Counts())
	assert.Equal(t, 0, r.ConsumerCount())
}
