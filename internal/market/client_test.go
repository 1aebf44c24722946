package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/cache"
	"quantlab/internal/errors"
)

func TestClientGetBars(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "SPY", r.URL.Query().Get("symbol"))
		assert.Equal(t, "5m", r.URL.Query().Get("interval"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"bars":[
			{"symbol":"SPY","timestamp":"2025-03-03T14:30:00Z","open":450,"high":451,"low":449.5,"close":450.75,"volume":100000},
			{"symbol":"SPY","timestamp":"2025-03-03T14:35:00Z","open":450.75,"high":452,"low":450.5,"close":451.5,"volume":90000}
		]}`)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		CacheTTL: time.Minute,
	}, cache.NewMemoryCache(0))

	bars, err := client.GetBars(context.Background(), "SPY", Interval5m, 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 450.75, bars[0].Close)

	// Second fetch is served from cache.
	bars, err = client.GetBars(context.Background(), "SPY", Interval5m, 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientGetBarsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL}, nil)
	_, err := client.GetBars(context.Background(), "SPY", Interval5m, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeMarketData))
	// Raw upstream body is preserved for diagnosis.
	assert.Contains(t, err.Error(), "rate limited")
}

func TestLastCloseAndCloses(t *testing.T) {
	assert.Equal(t, 0.0, LastClose(nil))

	bars := []Bar{{Close: 1}, {Close: 2}, {Close: 3}}
	assert.Equal(t, 3.0, LastClose(bars))
	assert.Equal(t, []float64{1, 2, 3}, Closes(bars))
}
