package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedisAdapter implements RedisClient with the go-redis library.
type GoRedisAdapter struct {
	client *redis.Client
}

// NewGoRedisClient connects to a Redis URL
// (redis://[:password@]host:port[/db], rediss:// for TLS) and verifies the
// connection with a ping.
func NewGoRedisClient(redisURL string) (*GoRedisAdapter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &GoRedisAdapter{client: client}, nil
}

// Get retrieves a value from Redis.
func (a *GoRedisAdapter) Get(ctx context.Context, key string) (string, error) {
	return a.client.Get(ctx, key).Result()
}

// Set stores a value in Redis with a TTL.
func (a *GoRedisAdapter) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return a.client.Set(ctx, key, value, ttl).Err()
}

// Del deletes keys from Redis.
func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	return a.client.Del(ctx, keys...).Err()
}

// Close closes the Redis connection.
func (a *GoRedisAdapter) Close() error {
	return a.client.Close()
}

// NewFromURL creates a Cache connected to the given Redis URL.
func NewFromURL(redisURL string, config *Config) (*Cache, error) {
	adapter, err := NewGoRedisClient(redisURL)
	if err != nil {
		return nil, err
	}
	return NewWithClient(adapter, config), nil
}
