package domain

import "strings"

// DefaultTimeframe is used when a subscriber does not name a candle period.
const DefaultTimeframe = "1m"

var symbolSeparators = strings.NewReplacer("/", "", "-", "", "_", "", " ", "")

// NormalizeSymbol turns "btc/usdt", "BTC-USDT" or "btc_usdt" into "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(symbolSeparators.Replace(strings.TrimSpace(symbol)))
}

// quoteAssets are checked longest first so "USDT" wins over "USD".
var quoteAssets = []string{"FDUSD", "USDT", "USDC", "BUSD", "USD", "BTC", "ETH", "EUR"}

// BaseAsset returns the base currency of a normalized pair, e.g. "BTC" for
// "BTCUSDT". Symbols without a known quote suffix are returned unchanged.
func BaseAsset(symbol string) string {
	s := NormalizeSymbol(symbol)
	for _, q := range quoteAssets {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return strings.TrimSuffix(s, q)
		}
	}
	return s
}

var validTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// NormalizeTimeframe returns tf if it is a supported candle interval and
// DefaultTimeframe otherwise.
func NormalizeTimeframe(tf string) string {
	tf = strings.TrimSpace(tf)
	if validTimeframes[tf] {
		return tf
	}
	if lower := strings.ToLower(tf); validTimeframes[lower] {
		return lower
	}
	return DefaultTimeframe
}
