package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cacher defines the cache operations used by the data clients.
type Cacher interface {
	// Get unmarshals the cached JSON value for key into dest.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores value as JSON under key with the given TTL.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// Config represents Redis configuration
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewCacher returns a Redis-backed cache, falling back to the in-memory
// cache when Redis is not configured or unreachable.
func NewCacher(cfg *Config) Cacher {
	if cfg == nil || cfg.Addr == "" {
		return NewMemoryCache(0)
	}
	redisCache, err := NewRedisCache(cfg)
	if err != nil {
		return NewMemoryCache(0)
	}
	return redisCache
}
