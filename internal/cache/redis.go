// Package cache keeps the last balance snapshot of each address in Redis so
// that the API can answer without a chain round trip.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"wallet-engine/internal/config"
	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/models"
)

const balanceNamespace = "balance"

// ErrMiss is returned when no snapshot is cached for an address.
var ErrMiss = errors.New("balance not cached")

type BalanceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ interfaces.BalanceSink = (*BalanceCache)(nil)

func NewBalanceCache(cfg config.RedisConfig) *BalanceCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &BalanceCache{client: rdb, ttl: cfg.BalanceTTL}
}

// NewBalanceCacheWithClient wraps an existing client.
func NewBalanceCacheWithClient(client redis.UniversalClient, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(address string) string {
	return balanceNamespace + ":" + strings.ToLower(address)
}

// StoreSnapshot implements interfaces.BalanceSink. Snapshots overwrite each
// other in arrival order.
func (c *BalanceCache) StoreSnapshot(ctx context.Context, snap models.BalanceSnapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, balanceKey(snap.Address), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache balance: %w", err)
	}
	return nil
}

// Snapshot returns the cached snapshot of address, or ErrMiss.
func (c *BalanceCache) Snapshot(ctx context.Context, address string) (models.BalanceSnapshot, error) {
	raw, err := c.client.Get(ctx, balanceKey(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.BalanceSnapshot{}, ErrMiss
	}
	if err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("failed to read cached balance: %w", err)
	}

	var snap models.BalanceSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("failed to decode cached balance: %w", err)
	}
	return snap, nil
}

func (c *BalanceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *BalanceCache) Close() error {
	return c.client.Close()
}
