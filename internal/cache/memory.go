package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryCache implements an in-memory cache with TTL support. It is the
// fallback when Redis is unavailable and the default in tests.
type MemoryCache struct {
	items   map[string]*memoryItem
	mu      sync.RWMutex
	maxSize int
}

type memoryItem struct {
	data       []byte
	expiration time.Time
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryCache{
		items:   make(map[string]*memoryItem),
		maxSize: maxSize,
	}
}

// Get retrieves a value from memory cache
func (mc *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	mc.mu.RLock()
	item, exists := mc.items[key]
	mc.mu.RUnlock()

	if !exists || time.Now().After(item.expiration) {
		return ErrMiss
	}
	return json.Unmarshal(item.data, dest)
}

// Set stores a value in memory cache
func (mc *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if len(mc.items) >= mc.maxSize {
		mc.evictExpiredLocked()
	}
	mc.items[key] = &memoryItem{
		data:       data,
		expiration: time.Now().Add(expiration),
	}
	return nil
}

// Delete removes a key.
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.items, key)
	return nil
}

// HealthCheck always succeeds for the in-memory cache.
func (mc *MemoryCache) HealthCheck(ctx context.Context) error {
	return nil
}

func (mc *MemoryCache) evictExpiredLocked() {
	now := time.Now()
	for key, item := range mc.items {
		if now.After(item.expiration) {
			delete(mc.items, key)
		}
	}
}
