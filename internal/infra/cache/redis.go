// Package cache provides the Redis-backed wallet result cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/coachpo/ledgerlens/internal/schema"
)

// schemaVersion is embedded in every cache key so that engine upgrades that
// change replay semantics invalidate prior entries implicitly.
const schemaVersion = "v1"

// DefaultTTL bounds staleness of cached wallet results.
const DefaultTTL = 5 * time.Minute

// ResultCache stores computed wallet results with an explicit TTL. Every
// entry is reproducible by a fresh recompute; a flushed or unavailable cache
// only costs latency, never correctness.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache constructs a result cache on the provided Redis client.
func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResultCache{client: client, ttl: ttl}
}

// Key returns the versioned cache key for a wallet.
func Key(wallet string) string {
	return "ledgerlens:" + schemaVersion + ":wallet:" + wallet
}

// Get returns the cached result for the wallet, or (nil, nil) on miss.
func (c *ResultCache) Get(ctx context.Context, wallet string) (*schema.WalletResult, error) {
	payload, err := c.client.Get(ctx, Key(wallet)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("result cache: get %s: %w", wallet, err)
	}
	var result schema.WalletResult
	if err := json.Unmarshal(payload, &result); err != nil {
		// Treat undecodable entries as a miss; the recompute overwrites them.
		return nil, nil
	}
	return &result, nil
}

// Set stores the result under the wallet's versioned key with the cache TTL.
func (c *ResultCache) Set(ctx context.Context, result *schema.WalletResult) error {
	if result == nil {
		return fmt.Errorf("result cache: nil result")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("result cache: encode %s: %w", result.Wallet, err)
	}
	if err := c.client.Set(ctx, Key(result.Wallet), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("result cache: set %s: %w", result.Wallet, err)
	}
	return nil
}
