package predictor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)

		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BTCUSDT", req.Symbol)
		assert.Equal(t, "1h", req.Timeframe)

		_, _ = w.Write([]byte(`{"prediction":1,"price":45000.5,"accuracy":0.62}`))
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL+"/", time.Second).Predict(context.Background(), "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, domain.Prediction{Prediction: 1, Price: 45000.5, Accuracy: 0.62}, p)
}

func TestPredict_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"not enough data"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Predict(context.Background(), "BTCUSDT", "1h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough data")
}

func TestPredict_BadPrediction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"prediction":3,"price":1,"accuracy":0.5}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Predict(context.Background(), "BTCUSDT", "1h")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPredict_Disabled(t *testing.T) {
	_, err := NewClient("", 0).Predict(context.Background(), "BTCUSDT", "1h")
	assert.ErrorIs(t, err, ErrDisabled)
}
