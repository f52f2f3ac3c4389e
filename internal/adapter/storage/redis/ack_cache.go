package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// AckCache implements ports.AckCache using Redis. It fronts the idempotency
// ledger so redelivered events replay their recorded acknowledgment without a
// database round trip.
type AckCache struct {
	client *goredis.Client
	prefix string
}

// NewAckCache creates a new Redis-backed acknowledgment cache.
func NewAckCache(client *goredis.Client) *AckCache {
	return &AckCache{
		client: client,
		prefix: "ack:",
	}
}

// Get retrieves a cached acknowledgment by event key.
// Returns nil, nil if the key does not exist.
func (c *AckCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis ack get: %w", err)
	}
	return val, nil
}

// Set stores an acknowledgment with TTL.
func (c *AckCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.client.Set(ctx, c.prefix+key, value, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis ack set: %w", err)
	}
	return nil
}
