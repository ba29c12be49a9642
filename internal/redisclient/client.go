// Package redisclient wraps redis.Client with the common operations and
// logging the teacher's common/redis package establishes, trimmed to simple
// key operations and Publish. The rate limiter and the change-notification
// publisher/subscriber are handed the underlying redis.Client directly.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger is the minimal logging surface the client needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with instrumentation.
type Client struct {
	Raw *redis.Client
	log Logger
}

// New creates a new Redis client wrapper around an already-configured raw client.
func New(raw *redis.Client, log Logger) *Client {
	return &Client{Raw: raw, log: log}
}

// Set sets a key with optional expiry (0 = no expiry).
func (c *Client) Set(ctx context.Context, key, value string, expiry time.Duration) error {
	if err := c.Raw.Set(ctx, key, value, expiry).Err(); err != nil {
		c.log.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("set key %s: %w", key, err)
	}
	return nil
}

// Get retrieves a value by key.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.Raw.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		c.log.Error("redis GET failed", "key", key, "error", err)
		return "", false, fmt.Errorf("get key %s: %w", key, err)
	}
	return val, true, nil
}

// SetNX sets a key only if it does not already exist, for idempotency checks
// (e.g. de-duplicating a worker callback replay).
func (c *Client) SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error) {
	wasSet, err := c.Raw.SetNX(ctx, key, value, expiry).Result()
	if err != nil {
		c.log.Error("redis SETNX failed", "key", key, "error", err)
		return false, fmt.Errorf("setnx key %s: %w", key, err)
	}
	return wasSet, nil
}

// Delete removes one or more keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if err := c.Raw.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete keys %v: %w", keys, err)
	}
	return nil
}

// Publish publishes a message to a Pub/Sub channel (run/entity change notifications).
func (c *Client) Publish(ctx context.Context, channel, message string) error {
	if err := c.Raw.Publish(ctx, channel, message).Err(); err != nil {
		c.log.Error("redis PUBLISH failed", "channel", channel, "error", err)
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}
