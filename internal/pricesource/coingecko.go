package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// DefaultCoinGeckoIDs maps base assets onto CoinGecko coin ids.
var DefaultCoinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"DOGE": "dogecoin",
	"ADA":  "cardano",
	"SOL":  "solana",
}

// CoinGeckoClient reads USD spot prices from the CoinGecko simple price API.
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	ids        map[string]string
	httpClient *http.Client
}

// NewCoinGeckoClient creates a client. ids maps base assets (BTC) onto coin
// ids (bitcoin); nil selects DefaultCoinGeckoIDs.
func NewCoinGeckoClient(baseURL, apiKey string, ids map[string]string, timeout time.Duration) *CoinGeckoClient {
	if len(ids) == 0 {
		ids = DefaultCoinGeckoIDs
	}
	norm := make(map[string]string, len(ids))
	for k, v := range ids {
		norm[strings.ToUpper(k)] = v
	}
	return &CoinGeckoClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		ids:        norm,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *CoinGeckoClient) Name() string { return "coingecko" }

// Price returns the USD price of the symbol's base asset.
func (c *CoinGeckoClient) Price(ctx context.Context, symbol string) (float64, error) {
	id, ok := c.ids[domain.BaseAsset(symbol)]
	if !ok {
		return 0, fmt.Errorf("coingecko: no coin id for %s: %w", symbol, domain.ErrTransientSource)
	}

	params := url.Values{}
	params.Set("ids", id)
	params.Set("vs_currencies", "usd")

	var header http.Header
	if c.apiKey != "" {
		header = http.Header{"x-cg-demo-api-key": []string{c.apiKey}}
	}

	body, err := doGet(ctx, c.httpClient, c.baseURL+"/api/v3/simple/price?"+params.Encode(), header)
	if err != nil {
		return 0, fmt.Errorf("coingecko: price %s: %w", symbol, err)
	}

	var resp map[string]map[string]float64
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("coingecko: decode price: %w: %w", domain.ErrTransientSource, err)
	}
	price := resp[id]["usd"]
	if price <= 0 {
		return 0, fmt.Errorf("coingecko: no usd price for %s: %w", id, domain.ErrTransientSource)
	}
	return price, nil
}
