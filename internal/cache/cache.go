// Package cache wraps github.com/go-redis/redis/v7 (already a teacher
// dependency) as a short-TTL read cache for tank-balance snapshots.
// No engine package constructs or calls it: the gas-reimbursement
// calculator and late-deposit watcher read balances straight from the
// chain adapter.
package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v7"
)

// TankBalanceCache caches a chain+asset's last-observed tank balance
// for a short TTL. A cache miss or Redis error is never fatal — callers
// fall back to a live read; this is strictly an optimization, never a
// source of truth.
type TankBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTankBalanceCache(client *redis.Client, ttl time.Duration) *TankBalanceCache {
	return &TankBalanceCache{client: client, ttl: ttl}
}

func cacheKey(chainID, asset string) string {
	return "tankbal:" + chainID + ":" + asset
}

// Get returns the cached balance string and true if present and not
// expired; false otherwise (including on any Redis error).
func (c *TankBalanceCache) Get(ctx context.Context, chainID, asset string) (string, bool) {
	if c.client == nil {
		return "", false
	}
	v, err := c.client.WithContext(ctx).Get(cacheKey(chainID, asset)).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

// Set stores balance for the configured TTL. Errors are swallowed —
// see package doc.
func (c *TankBalanceCache) Set(ctx context.Context, chainID, asset, balance string) {
	if c.client == nil {
		return
	}
	_ = c.client.WithContext(ctx).Set(cacheKey(chainID, asset), balance, c.ttl).Err()
}
