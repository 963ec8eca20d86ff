// Package redisclient is the server's fast-path cache: recently applied
// idempotency keys and per-SKU stock counts. Postgres stays authoritative;
// everything here can be rebuilt from it.
package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/adjust_stock.lua
var adjustStockScript string

// ErrCacheMiss is returned when a cached value is absent.
var ErrCacheMiss = errors.New("cache miss")

// ErrCacheStale is returned when a delta would drive the cached count
// negative; the caller should rebuild the entry from the store.
var ErrCacheStale = errors.New("cached stock stale")

const appliedKeyTTL = 7 * 24 * time.Hour

type Client struct {
	rdb          *redis.Client
	adjustScript *redis.Script
}

// NewClient creates a new Redis client with the stock script loaded.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:          rdb,
		adjustScript: redis.NewScript(adjustStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(tenantID, sku string) string {
	return fmt.Sprintf("stock:%s:%s", tenantID, sku)
}

// MarkKeyApplied caches an applied idempotency key so replays skip the
// database round trip.
func (c *Client) MarkKeyApplied(ctx context.Context, key string) error {
	return c.rdb.Set(ctx, fmt.Sprintf("applied:%s", key), 1, appliedKeyTTL).Err()
}

// IsKeyApplied checks the applied-key cache. A miss means "ask the store",
// never "not applied".
func (c *Client) IsKeyApplied(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf("applied:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetStock caches the current stock for a SKU.
func (c *Client) SetStock(ctx context.Context, tenantID, sku string, stock int) error {
	return c.rdb.Set(ctx, stockKey(tenantID, sku), stock, 0).Err()
}

// GetStock reads the cached stock for a SKU.
func (c *Client) GetStock(ctx context.Context, tenantID, sku string) (int, error) {
	n, err := c.rdb.Get(ctx, stockKey(tenantID, sku)).Int()
	if err == redis.Nil {
		return 0, ErrCacheMiss
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// AdjustStock applies a signed delta to a cached count atomically.
func (c *Client) AdjustStock(ctx context.Context, tenantID, sku string, delta int) (int, error) {
	result, err := c.adjustScript.Run(ctx, c.rdb, []string{stockKey(tenantID, sku)}, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("adjust stock script failed: %w", err)
	}

	n, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	switch n {
	case -1:
		return 0, ErrCacheMiss
	case -2:
		return 0, ErrCacheStale
	}
	return int(n), nil
}

// DropStock evicts a SKU's cached count (item deleted or cache stale).
func (c *Client) DropStock(ctx context.Context, tenantID, sku string) error {
	return c.rdb.Del(ctx, stockKey(tenantID, sku)).Err()
}
