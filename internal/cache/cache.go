// Package cache provides the caching layer for vxsky: resolved handles,
// hydrated posts, and rendered thumbnails.
//
// Redis is the primary backend; when it is unavailable the cache falls back
// to an in-memory map so a single instance still avoids hammering the
// Bluesky API. Both paths are safe for concurrent use.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"vxsky/internal/metrics"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// TTLs per concern. Handle-to-DID mappings rarely change; posts can be
// edited or deleted, so lookups stay short; rendered thumbnails are
// immutable for a given post but large, so they get a middle ground.
const (
	HandleTTL    = 24 * time.Hour
	PostTTL      = 1 * time.Minute
	ThumbnailTTL = 15 * time.Minute
)

// RedisClient is the subset of Redis operations the cache needs. Implemented
// by GoRedisAdapter; kept as an interface so tests can fake the backend.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Close() error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a Redis-backed cache with an in-memory fallback.
type Cache struct {
	name string

	redisClient RedisClient

	memMu      sync.RWMutex
	memCache   map[string]*memoryEntry
	maxMemSize int

	defaultTTL time.Duration

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// Config holds cache configuration.
type Config struct {
	// Name labels this cache in metrics.
	Name string

	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL time.Duration

	// MaxMemoryItems bounds the in-memory fallback.
	MaxMemoryItems int
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:           "default",
		DefaultTTL:     time.Minute,
		MaxMemoryItems: 10000,
	}
}

// New creates a cache without a Redis backend (memory only).
func New(config *Config) *Cache {
	return NewWithClient(nil, config)
}

// NewWithClient creates a cache backed by the given Redis client. A nil
// client means memory only.
func NewWithClient(client RedisClient, config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Cache{
		name:        config.Name,
		redisClient: client,
		memCache:    make(map[string]*memoryEntry),
		maxMemSize:  config.MaxMemoryItems,
		defaultTTL:  config.DefaultTTL,
		stopCleanup: make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// Get retrieves a value, trying Redis first.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.redisClient != nil {
		if val, err := c.redisClient.Get(ctx, key); err == nil {
			metrics.Get().RecordCacheOperation(c.name, true)
			return []byte(val), nil
		}
	}

	c.memMu.RLock()
	entry, exists := c.memCache[key]
	c.memMu.RUnlock()

	if !exists || time.Now().After(entry.expiresAt) {
		if exists {
			c.memMu.Lock()
			delete(c.memCache, key)
			c.memMu.Unlock()
		}
		metrics.Get().RecordCacheOperation(c.name, false)
		return nil, ErrCacheMiss
	}

	metrics.Get().RecordCacheOperation(c.name, true)
	return entry.value, nil
}

// Set stores a value with the given TTL (zero means the default TTL).
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	if c.redisClient != nil {
		if err := c.redisClient.Set(ctx, key, string(value), ttl); err == nil {
			return nil
		}
		// Redis failed, fall through to the memory cache.
	}

	c.memMu.Lock()
	defer c.memMu.Unlock()

	if len(c.memCache) >= c.maxMemSize {
		c.evictExpired()
	}

	c.memCache[key] = &memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes a key from both backends.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c.redisClient != nil {
		_ = c.redisClient.Del(ctx, key)
	}

	c.memMu.Lock()
	delete(c.memCache, key)
	c.memMu.Unlock()
	return nil
}

// GetJSON retrieves and unmarshals a JSON value.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON marshals and stores a JSON value.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// GetOrSet returns a cached value or loads, stores, and returns a fresh one.
// Loader errors are returned verbatim; store errors are ignored since a
// failed cache write must not fail the request.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func() ([]byte, error)) ([]byte, error) {
	if data, err := c.Get(ctx, key); err == nil {
		return data, nil
	}

	data, err := loader()
	if err != nil {
		return nil, err
	}

	_ = c.Set(ctx, key, data, ttl)
	return data, nil
}

// Len returns the number of entries in the memory fallback.
func (c *Cache) Len() int {
	c.memMu.RLock()
	defer c.memMu.RUnlock()
	return len(c.memCache)
}

// Close stops the cleanup goroutine and closes the Redis connection.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
	if c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}

// evictExpired is called with memMu held.
func (c *Cache) evictExpired() {
	now := time.Now()
	for key, entry := range c.memCache {
		if now.After(entry.expiresAt) {
			delete(c.memCache, key)
		}
	}

	// Still full of live entries: drop arbitrary ones down to 90%.
	excess := len(c.memCache) - c.maxMemSize*9/10
	for key := range c.memCache {
		if excess <= 0 {
			break
		}
		delete(c.memCache, key)
		excess--
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.memMu.Lock()
			now := time.Now()
			for key, entry := range c.memCache {
				if now.After(entry.expiresAt) {
					delete(c.memCache, key)
				}
			}
			c.memMu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Cache key builders.

// HandleKey is the cache key for a resolved handle.
func HandleKey(handle string) string {
	return fmt.Sprintf("handle:%s", handle)
}

// PostKey is the cache key for a hydrated post lookup.
func PostKey(uri string) string {
	return fmt.Sprintf("post:%s", uri)
}

// ThumbnailKey is the cache key for a rendered combined thumbnail.
func ThumbnailKey(uri string) string {
	return fmt.Sprintf("thumb:%s", uri)
}
