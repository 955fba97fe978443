package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// BinanceClient reads spot prices and klines from the Binance REST API.
type BinanceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBinanceClient creates a client rooted at baseURL, e.g.
// "https://api.binance.com".
func NewBinanceClient(baseURL string, timeout time.Duration) *BinanceClient {
	return &BinanceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (b *BinanceClient) Name() string { return "binance" }

type binanceTickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Price returns the last traded price for symbol.
func (b *BinanceClient) Price(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := doGet(ctx, b.httpClient, b.baseURL+"/api/v3/ticker/price?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("binance: price %s: %w", symbol, err)
	}

	var tp binanceTickerPrice
	if err := json.Unmarshal(body, &tp); err != nil {
		return 0, fmt.Errorf("binance: decode price %s: %w: %w", symbol, domain.ErrTransientSource, err)
	}
	price, err := decimal.NewFromString(tp.Price)
	if err != nil || !price.IsPositive() {
		return 0, fmt.Errorf("binance: bad price %q for %s: %w", tp.Price, symbol, domain.ErrTransientSource)
	}
	return price.InexactFloat64(), nil
}

// Candles returns up to limit klines for symbol at timeframe, oldest first.
func (b *BinanceClient) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		limit = 1
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))

	body, err := doGet(ctx, b.httpClient, b.baseURL+"/api/v3/klines?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", symbol, timeframe, err)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w: %w", domain.ErrTransientSource, err)
	}

	out := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseKline(symbol, timeframe, row)
		if err != nil {
			return nil, fmt.Errorf("binance: %w: %w", domain.ErrTransientSource, err)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("binance: no klines for %s %s: %w", symbol, timeframe, domain.ErrTransientSource)
	}
	return out, nil
}

// parseKline decodes [openTime, open, high, low, close, volume, ...].
func parseKline(symbol, timeframe string, row []json.RawMessage) (domain.Candle, error) {
	if len(row) < 6 {
		return domain.Candle{}, fmt.Errorf("kline has %d fields", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return domain.Candle{}, fmt.Errorf("kline open time: %w", err)
	}
	vals := make([]float64, 5)
	for i := range vals {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return domain.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		vals[i] = d.InexactFloat64()
	}
	return domain.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		OpenTime:  time.UnixMilli(openMs).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
