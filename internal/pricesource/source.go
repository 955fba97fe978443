// Package pricesource resolves current prices and candles for a symbol by
// trying an ordered list of sources, with a short-lived cache in front.
package pricesource

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// Source returns the current price of a normalized symbol.
type Source interface {
	Name() string
	Price(ctx context.Context, symbol string) (float64, error)
}

// CandleSource returns the most recent limit bars of a symbol at timeframe,
// oldest first.
type CandleSource interface {
	Name() string
	Candles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)
}

// doGet performs a GET and returns the body. Non-2xx responses are reported
// as transient source errors.
func doGet(ctx context.Context, client *http.Client, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrTransientSource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrTransientSource, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		return nil, fmt.Errorf("%w: %w: status %d", domain.ErrTransientSource, domain.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrTransientSource, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
