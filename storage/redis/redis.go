// Package redis provides a Redis-backed read-through cache in front of a
// billing.Store. Only hot lookups on the webhook path are cached (prices and
// products by id or remote id); identities and the ledger always go to the
// underlying store so idempotence and append-only guarantees stay with it.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/gobilling/pkg/billing"
)

// Config holds cache configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "gobilling:").
	KeyPrefix string

	// TTL is the lifetime of cached catalog rows (default: 5m). Catalog rows
	// are immutable apart from the active flag, which is invalidated on write.
	TTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "gobilling:",
		TTL:       5 * time.Minute,
	}
}

// Cache wraps a billing.Store with Redis caching.
type Cache struct {
	billing.Store

	client redis.UniversalClient
	config Config
}

// New creates a new cache layer around next.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, next billing.Store, config Config) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if next == nil {
		return nil, fmt.Errorf("underlying store is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "gobilling:"
	}
	if config.TTL == 0 {
		config.TTL = 5 * time.Minute
	}
	return &Cache{Store: next, client: client, config: config}, nil
}

func (c *Cache) productKey(id string) string { return c.config.KeyPrefix + "product:" + id }
func (c *Cache) priceKey(id string) string   { return c.config.KeyPrefix + "price:" + id }
func (c *Cache) priceRemoteKey(remoteID string) string {
	return c.config.KeyPrefix + "price:remote:" + remoteID
}

// GetProduct reads through the cache.
func (c *Cache) GetProduct(ctx context.Context, id string) (*billing.Product, error) {
	var cached billing.Product
	if c.getCached(ctx, c.productKey(id), &cached) {
		return &cached, nil
	}

	p, err := c.Store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	c.setCached(ctx, c.productKey(id), p)
	return p, nil
}

// GetPrice reads through the cache.
func (c *Cache) GetPrice(ctx context.Context, id string) (*billing.Price, error) {
	var cached billing.Price
	if c.getCached(ctx, c.priceKey(id), &cached) {
		return &cached, nil
	}

	p, err := c.Store.GetPrice(ctx, id)
	if err != nil {
		return nil, err
	}
	c.setCached(ctx, c.priceKey(id), p)
	return p, nil
}

// GetPriceByRemoteID reads through the cache. This is the webhook hot path:
// every invoice and subscription event resolves its price by remote id.
func (c *Cache) GetPriceByRemoteID(ctx context.Context, remoteID string) (*billing.Price, error) {
	var cached billing.Price
	if c.getCached(ctx, c.priceRemoteKey(remoteID), &cached) {
		return &cached, nil
	}

	p, err := c.Store.GetPriceByRemoteID(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	c.setCached(ctx, c.priceRemoteKey(remoteID), p)
	return p, nil
}

// RenameProduct writes through and invalidates.
func (c *Cache) RenameProduct(ctx context.Context, id, name string) error {
	if err := c.Store.RenameProduct(ctx, id, name); err != nil {
		return err
	}
	c.invalidate(ctx, c.productKey(id))
	return nil
}

// SetProductActive writes through and invalidates.
func (c *Cache) SetProductActive(ctx context.Context, id string, active bool) error {
	if err := c.Store.SetProductActive(ctx, id, active); err != nil {
		return err
	}
	c.invalidate(ctx, c.productKey(id))
	return nil
}

// SetPriceActive writes through and invalidates both price keys.
func (c *Cache) SetPriceActive(ctx context.Context, id string, active bool) error {
	p, err := c.Store.GetPrice(ctx, id)
	if err != nil {
		return err
	}
	if err := c.Store.SetPriceActive(ctx, id, active); err != nil {
		return err
	}
	c.invalidate(ctx, c.priceKey(id), c.priceRemoteKey(p.RemoteID))
	return nil
}

// getCached returns true when the key was present and unmarshaled cleanly.
// Redis errors degrade to cache misses.
func (c *Cache) getCached(ctx context.Context, key string, dst interface{}) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (c *Cache) setCached(ctx context.Context, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	// Best effort: a failed SET only costs a future cache miss.
	c.client.Set(ctx, key, raw, c.config.TTL)
}

func (c *Cache) invalidate(ctx context.Context, keys ...string) {
	c.client.Del(ctx, keys...)
}

var _ billing.Store = (*Cache)(nil)
