// Package redisclient wraps go-redis for the gateway's optional cache-aside
// layer. Redis is never load-bearing: callers must tolerate it being absent
// (RedisURL unset) or unreachable.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/eidaws/statistics-gateway/config"
	"github.com/redis/go-redis/v9"
)

// Client wraps a *redis.Client with the small surface the gateway needs.
type Client struct {
	c *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the Redis URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	r := redis.NewClient(opt)
	return &Client{c: r}, nil
}

// Ping verifies connectivity with a short deadline.
func (r *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

// Get returns the cached string value for key, or redis.Nil if absent.
func (r *Client) Get(ctx context.Context, key string) (string, error) {
	return r.c.Get(ctx, key).Result()
}

// Set stores value under key with the given TTL.
func (r *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

// Del removes key, ignoring a not-found result.
func (r *Client) Del(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

// Nil reports whether err is redis.Nil (cache miss), so callers don't need
// to import go-redis directly just to check for a miss.
func Nil(err error) bool {
	return err == redis.Nil
}

// Close releases the underlying connection pool.
func (r *Client) Close() error {
	return r.c.Close()
}
