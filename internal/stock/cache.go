package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const balanceKeyPrefix = "stock:balance"

// BalanceCache is a Redis read-through cache for item balances. A nil cache
// passes every read straight to the loader.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewBalanceCache instantiates the cache helper.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(itemID int64) string {
	return fmt.Sprintf("%s:%d", balanceKeyPrefix, itemID)
}

// Current returns the cached balance or loads it. Concurrent misses for the
// same item share one load.
func (c *BalanceCache) Current(ctx context.Context, itemID int64, loader func(context.Context) (int64, error)) (int64, error) {
	if loader == nil {
		return 0, errors.New("stock cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := balanceKey(itemID)
	cached, err := c.client.Get(ctx, key).Int64()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		return loader(ctx)
	}
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		value, err := loader(ctx)
		if err != nil {
			return int64(0), err
		}
		_ = c.client.Set(ctx, key, strconv.FormatInt(value, 10), c.ttl).Err()
		return value, nil
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	}
}

// Invalidate drops the cached balances of the given items.
func (c *BalanceCache) Invalidate(ctx context.Context, itemIDs ...int64) error {
	if c == nil || c.client == nil || len(itemIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		keys = append(keys, balanceKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}
