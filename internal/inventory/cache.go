package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const balanceCacheVersionKey = "inventory:balances:version"

// BalanceCache caches balance listings in Redis behind a version counter.
// Posting any movement bumps the version, so stale entries simply stop being
// addressed and expire on their own TTL.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewBalanceCache instantiates the cache helper. A nil client disables
// caching; every call falls through to the loader.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func (c *BalanceCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, balanceCacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, balanceCacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *BalanceCache) buildKey(ctx context.Context, filter BalanceFilter) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	// Normalized the same way the repository applies its default, so limit 0
	// and an explicit default limit address the same entry.
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	parts := []string{
		"inventory", "balances",
		strconv.FormatInt(filter.ItemID, 10),
		strconv.FormatInt(filter.CustomerID, 10),
		strconv.FormatInt(filter.WarehouseID, 10),
		strconv.FormatInt(filter.RoomID, 10),
		filter.LotNumber,
		strconv.FormatBool(filter.InStockOnly),
		strconv.Itoa(limit),
	}
	return fmt.Sprintf("%s:%d", strings.Join(parts, ":"), ver), nil
}

// Fetch returns the cached listing for filter, populating it via loader on a
// miss. Concurrent misses for the same key share one loader call.
func (c *BalanceCache) Fetch(ctx context.Context, filter BalanceFilter, loader func(context.Context) ([]Balance, error)) ([]Balance, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.buildKey(ctx, filter)
	if err != nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var balances []Balance
		if err := json.Unmarshal(payload, &balances); err == nil {
			return balances, nil
		}
	}
	value, err, _ := c.group.Do(key, func() (any, error) {
		balances, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(balances)
		if err != nil {
			return nil, err
		}
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		return balances, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]Balance), nil
}

// Bump invalidates all cached listings by incrementing the version counter.
func (c *BalanceCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, balanceCacheVersionKey).Err()
}
