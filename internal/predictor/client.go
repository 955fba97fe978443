// Package predictor calls the external direction model over HTTP.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// ErrDisabled is returned when no predictor URL is configured.
var ErrDisabled = errors.New("predictor: not configured")

// Client posts {symbol, timeframe} to <baseURL>/predict and expects
// {prediction, price, accuracy} back.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client. An empty baseURL yields a client whose Predict
// always returns ErrDisabled.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Predict asks the model for the direction of symbol over timeframe.
func (c *Client) Predict(ctx context.Context, symbol, timeframe string) (domain.Prediction, error) {
	if c.baseURL == "" {
		return domain.Prediction{}, ErrDisabled
	}

	body, err := json.Marshal(predictRequest{Symbol: symbol, Timeframe: timeframe})
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("predictor: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("predictor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("predictor: %s %s: %w", symbol, timeframe, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("predictor: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return domain.Prediction{}, fmt.Errorf("predictor: status %d: %s", resp.StatusCode, e.Error)
		}
		return domain.Prediction{}, fmt.Errorf("predictor: status %d", resp.StatusCode)
	}

	var p domain.Prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Prediction{}, fmt.Errorf("predictor: decode response: %w", err)
	}
	if p.Prediction != 0 && p.Prediction != 1 {
		return domain.Prediction{}, fmt.Errorf("predictor: prediction %d: %w", p.Prediction, domain.ErrInvalidInput)
	}
	return p, nil
}
