// Package cache keeps a write-through copy of session state in Redis.
// The cache is never the source of truth; every entry expires after its TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"onboarding/internal/platform/metrics"
	"onboarding/pkg/platform/sentinel"
)

const (
	// Redis key prefix for cached sessions
	sessionKeyPrefix = "session:"

	// DefaultTTL matches the lifetime of an idle onboarding conversation.
	DefaultTTL = time.Hour
)

// ErrMiss is returned when a session is not cached.
var ErrMiss = sentinel.ErrNotFound

// SessionKey is the Redis key of a cached session.
func SessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// RedisCache is a Redis-backed session cache.
type RedisCache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	metrics *metrics.Metrics
}

// Option configures a RedisCache instance.
type Option func(*RedisCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *RedisCache) {
		c.metrics = m
	}
}

// NewRedis constructs a Redis-backed session cache.
func NewRedis(client redis.UniversalClient, opts ...Option) *RedisCache {
	c := &RedisCache{client: client, ttl: DefaultTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the cached state blob, or ErrMiss.
func (c *RedisCache) Get(ctx context.Context, sessionID string) (json.RawMessage, error) {
	raw, err := c.client.Get(ctx, SessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.RecordCache("get", "miss")
		return nil, ErrMiss
	}
	if err != nil {
		c.metrics.RecordCache("get", "error")
		return nil, fmt.Errorf("get cached session: %w", err)
	}
	c.metrics.RecordCache("get", "hit")
	return json.RawMessage(raw), nil
}

// Set writes the state blob with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, sessionID string, blob json.RawMessage) error {
	if err := c.client.Set(ctx, SessionKey(sessionID), []byte(blob), c.ttl).Err(); err != nil {
		c.metrics.RecordCache("set", "error")
		return fmt.Errorf("set cached session: %w", err)
	}
	c.metrics.RecordCache("set", "ok")
	return nil
}

// Delete evicts a session.
func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, SessionKey(sessionID)).Err(); err != nil {
		c.metrics.RecordCache("delete", "error")
		return fmt.Errorf("delete cached session: %w", err)
	}
	c.metrics.RecordCache("delete", "ok")
	return nil
}

// Health pings Redis.
func (c *RedisCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
