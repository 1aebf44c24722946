package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/errors"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		APIKey:    "key",
		APISecret: "secret",
		RateLimit: 1000,
	})
	return client, srv
}

func TestGetAccount(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		fmt.Fprint(w, `{"equity":"100000.50","cash":"40000","buying_power":"80000"}`)
	})
	defer srv.Close()

	account, err := client.GetAccount(context.Background())
	require.NoError(t, err)
	assert.True(t, account.Equity.Equal(decimal.RequireFromString("100000.50")))
	assert.True(t, account.BuyingPower.Equal(decimal.NewFromInt(80000)))
}

func TestGetOrders(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("status"))
		fmt.Fprint(w, `[
			{"id":"ord-1","symbol":"SPY","side":"buy","qty":10,"type":"market","status":"filled","filled_avg_price":"450.12","filled_qty":10},
			{"id":"ord-2","symbol":"SPY","side":"sell","qty":10,"type":"market","status":"new"}
		]`)
	})
	defer srv.Close()

	orders, err := client.GetOrders(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, OrderStatusFilled, orders[0].Status)
	assert.True(t, orders[0].FilledAvgPrice.Equal(decimal.RequireFromString("450.12")))
}

func TestPlaceOrder(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)

		var req OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SPY", req.Symbol)
		assert.Equal(t, int64(15), req.Qty)
		assert.Equal(t, OrderSideBuy, req.Side)
		assert.Equal(t, "day", req.TimeInForce)

		fmt.Fprint(w, `{"id":"ord-3","symbol":"SPY","side":"buy","qty":15,"type":"market","status":"filled","filled_avg_price":"451.00","filled_qty":15}`)
	})
	defer srv.Close()

	order, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol:      "SPY",
		Qty:         15,
		Side:        OrderSideBuy,
		Type:        "market",
		TimeInForce: "day",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-3", order.ID)
	assert.Equal(t, int64(15), order.FilledQty)
}

func TestBrokerErrorSurfacesBody(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"insufficient buying power"}`, http.StatusForbidden)
	})
	defer srv.Close()

	_, err := client.PlaceOrder(context.Background(), OrderRequest{Symbol: "SPY", Qty: 1, Side: OrderSideBuy})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeBrokerAPI))
	assert.Contains(t, err.Error(), "insufficient buying power")
	assert.Contains(t, err.Error(), "403")
}
