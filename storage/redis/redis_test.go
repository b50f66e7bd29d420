package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gobilling/pkg/billing"
	"github.com/mihaimyh/gobilling/storage/memory"
)

func setupCache(t *testing.T) (*Cache, *memory.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := memory.New()
	cache, err := New(client, inner, DefaultConfig())
	require.NoError(t, err)
	return cache, inner, mr
}

func seedPrice(t *testing.T, s billing.Store) *billing.Price {
	t.Helper()
	ctx := context.Background()

	product := &billing.Product{
		ID: "prod-1", RemoteID: "prod_r1", Name: "Premium",
		Active: true, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateProduct(ctx, product))

	price := &billing.Price{
		ID: "price-1", RemoteID: "price_r1", ProductID: product.ID,
		RemoteProductID: product.RemoteID, Name: "monthly",
		Type: billing.PriceTypeRecurring, UnitAmount: 999, Currency: "usd",
		Interval: billing.IntervalMonth, IntervalCount: 1,
		UsageType: billing.UsageTypeLicensed, PermissionID: 1, Active: true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreatePrice(ctx, price))
	return price
}

func TestCache_PriceByRemoteIDReadThrough(t *testing.T) {
	cache, _, mr := setupCache(t)
	ctx := context.Background()
	seedPrice(t, cache)

	// First read populates the cache.
	p, err := cache.GetPriceByRemoteID(ctx, "price_r1")
	require.NoError(t, err)
	assert.Equal(t, "price-1", p.ID)
	assert.True(t, mr.Exists("gobilling:price:remote:price_r1"))

	// Second read is served from Redis even if the row changes underneath.
	p2, err := cache.GetPriceByRemoteID(ctx, "price_r1")
	require.NoError(t, err)
	assert.Equal(t, p.UnitAmount, p2.UnitAmount)
}

func TestCache_MissFallsThrough(t *testing.T) {
	cache, _, _ := setupCache(t)

	_, err := cache.GetPriceByRemoteID(context.Background(), "price_unknown")
	assert.ErrorIs(t, err, billing.ErrPriceNotFound)
}

func TestCache_DeactivationInvalidates(t *testing.T) {
	cache, inner, mr := setupCache(t)
	ctx := context.Background()
	price := seedPrice(t, cache)

	_, err := cache.GetPriceByRemoteID(ctx, price.RemoteID)
	require.NoError(t, err)
	_, err = cache.GetPrice(ctx, price.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists("gobilling:price:price-1"))

	require.NoError(t, cache.SetPriceActive(ctx, price.ID, false))
	assert.False(t, mr.Exists("gobilling:price:price-1"))
	assert.False(t, mr.Exists("gobilling:price:remote:price_r1"))

	// Next read sees the deactivated row from the inner store.
	got, err := cache.GetPrice(ctx, price.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	innerGot, err := inner.GetPrice(ctx, price.ID)
	require.NoError(t, err)
	assert.False(t, innerGot.Active)
}

func TestCache_RedisDownDegradesToStore(t *testing.T) {
	cache, _, mr := setupCache(t)
	ctx := context.Background()
	seedPrice(t, cache)

	mr.Close()

	p, err := cache.GetPriceByRemoteID(ctx, "price_r1")
	require.NoError(t, err)
	assert.Equal(t, "price-1", p.ID)
}
