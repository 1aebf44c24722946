// Package broker implements the client for the external paper-trading
// brokerage API. The client does not retry order placement on its own;
// retry and backoff, if wanted, belong to the scheduler invoking the
// execution loop.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"quantlab/internal/errors"
	"quantlab/internal/logger"
)

// Broker is the brokerage surface used by the execution loop.
type Broker interface {
	GetAccount(ctx context.Context) (*Account, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOrders(ctx context.Context, status string) ([]Order, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
}

// ClientConfig configures the brokerage client.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	// RateLimit is the sustained requests-per-second budget.
	RateLimit float64
}

// Client is the HTTP implementation of Broker.
type Client struct {
	config  ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	log     logger.Logger
}

// NewClient creates a brokerage client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 5
	}
	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1),
		log:     logger.Global().WithField("component", "broker_client"),
	}
}

// GetAccount implements Broker.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var account Account
	if err := c.do(ctx, http.MethodGet, "/v2/account", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetPositions implements Broker.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := c.do(ctx, http.MethodGet, "/v2/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetOrders implements Broker.
func (c *Client) GetOrders(ctx context.Context, status string) ([]Order, error) {
	if status == "" {
		status = "all"
	}
	var orders []Order
	if err := c.do(ctx, http.MethodGet, "/v2/orders?status="+status, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// PlaceOrder implements Broker. Placement is never retried here: a
// timeout leaves the order state unknown and the next sync resolves it.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v2/orders", req, &order); err != nil {
		return nil, err
	}
	c.log.Info("order placed",
		"order_id", order.ID, "symbol", order.Symbol,
		"side", string(order.Side), "qty", order.Qty, "status", string(order.Status))
	return &order, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeBrokerAPI, "rate limiter wait interrupted")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeBrokerAPI, "failed to encode request body")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBrokerAPI, "failed to build request")
	}
	req.Header.Set("APCA-API-KEY-ID", c.config.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.config.APISecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBrokerAPI, fmt.Sprintf("%s %s failed", method, path))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Error("brokerage API error",
			"method", method, "path", path,
			"status", resp.StatusCode, "body", string(respBody))
		return errors.Newf(errors.ErrCodeBrokerAPI,
			"brokerage returned status %d for %s %s: %s",
			resp.StatusCode, method, path, string(respBody))
	}

	if dest != nil {
		if err := json.Unmarshal(respBody, dest); err != nil {
			return errors.Wrap(err, errors.ErrCodeBrokerAPI, "failed to decode response")
		}
	}
	return nil
}
