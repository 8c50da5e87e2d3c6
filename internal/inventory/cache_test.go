package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestBalanceCacheFetchAndBump(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewBalanceCache(client, time.Minute)
	ctx := context.Background()

	filter := BalanceFilter{ItemID: 1}
	loads := 0
	loader := func(ctx context.Context) ([]Balance, error) {
		loads++
		return []Balance{{
			Key:       StockKey{ItemID: 1, WarehouseID: 1},
			QtyOnHand: d("30"),
		}}, nil
	}

	balances, err := cache.Fetch(ctx, filter, loader)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.Equal(t, 1, loads)

	balances, err = cache.Fetch(ctx, filter, loader)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.True(t, balances[0].QtyOnHand.Equal(d("30")))
	require.Equal(t, 1, loads, "second fetch must come from cache")

	require.NoError(t, cache.Bump(ctx))

	_, err = cache.Fetch(ctx, filter, loader)
	require.NoError(t, err)
	require.Equal(t, 2, loads, "bump must invalidate cached listings")
}

func TestBalanceCacheSeparatesLimits(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewBalanceCache(client, time.Minute)
	ctx := context.Background()

	loads := 0
	loaderOf := func(n int) func(context.Context) ([]Balance, error) {
		return func(ctx context.Context) ([]Balance, error) {
			loads++
			out := make([]Balance, n)
			for i := range out {
				out[i] = Balance{Key: StockKey{ItemID: 1, WarehouseID: int64(i + 1)}}
			}
			return out, nil
		}
	}

	narrow, err := cache.Fetch(ctx, BalanceFilter{ItemID: 1, Limit: 1}, loaderOf(1))
	require.NoError(t, err)
	require.Len(t, narrow, 1)

	wide, err := cache.Fetch(ctx, BalanceFilter{ItemID: 1, Limit: 2}, loaderOf(2))
	require.NoError(t, err)
	require.Len(t, wide, 2, "a wider limit must not reuse the narrower entry")
	require.Equal(t, 2, loads)

	// No limit and the explicit default limit address the same entry.
	_, err = cache.Fetch(ctx, BalanceFilter{ItemID: 1}, loaderOf(3))
	require.NoError(t, err)
	require.Equal(t, 3, loads)
	_, err = cache.Fetch(ctx, BalanceFilter{ItemID: 1, Limit: 200}, loaderOf(3))
	require.NoError(t, err)
	require.Equal(t, 3, loads, "limit 0 and the default limit share one entry")
}

func TestBalanceCacheNilClientFallsThrough(t *testing.T) {
	var cache *BalanceCache
	loads := 0

	_, err := cache.Fetch(context.Background(), BalanceFilter{}, func(ctx context.Context) ([]Balance, error) {
		loads++
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, loads)
	require.NoError(t, cache.Bump(context.Background()))
}
