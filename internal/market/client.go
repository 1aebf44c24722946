package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"quantlab/internal/cache"
	"quantlab/internal/errors"
	"quantlab/internal/logger"
)

// Provider fetches recent historical bars for a symbol.
type Provider interface {
	GetBars(ctx context.Context, symbol string, interval Interval, limit int) ([]Bar, error)
}

// ClientConfig configures the bar provider client.
type ClientConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Client is an HTTP bar provider with a short-TTL cache in front, so
// one scheduler tick over many deployments on the same symbol hits the
// upstream once.
type Client struct {
	config ClientConfig
	http   *http.Client
	cache  cache.Cacher
	log    logger.Logger
}

// NewClient creates a bar provider client.
func NewClient(cfg ClientConfig, cacher cache.Cacher) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Minute
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		cache:  cacher,
		log:    logger.Global().WithField("component", "market_client"),
	}
}

type barsResponse struct {
	Bars []Bar `json:"bars"`
}

// GetBars implements Provider.
func (c *Client) GetBars(ctx context.Context, symbol string, interval Interval, limit int) ([]Bar, error) {
	cacheKey := fmt.Sprintf("bars:%s:%s:%d", symbol, interval, limit)
	if c.cache != nil {
		var cached []Bar
		if err := c.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	endpoint := fmt.Sprintf("%s/v1/bars?%s", c.config.BaseURL, url.Values{
		"symbol":   {symbol},
		"interval": {string(interval)},
		"limit":    {strconv.Itoa(limit)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMarketData, "failed to build bars request")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMarketData, "bars request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.log.Error("bar provider returned error",
			"symbol", symbol, "status", resp.StatusCode, "body", string(body))
		return nil, errors.Newf(errors.ErrCodeMarketData,
			"bar provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed barsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMarketData, "failed to decode bars response")
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, parsed.Bars, c.config.CacheTTL); err != nil {
			c.log.Warn("failed to cache bars", "symbol", symbol, "error", err.Error())
		}
	}
	return parsed.Bars, nil
}
