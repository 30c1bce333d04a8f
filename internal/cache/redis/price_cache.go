package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each outcome's
// spot price is stored at "price:{market}:{outcome}" with fields "price" and
// "ts" (Unix nanoseconds).
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client. Entries
// expire after ttl; zero keeps them until overwritten.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

// SetPrice stores the latest spot price for an outcome key.
func (pc *PriceCache) SetPrice(ctx context.Context, key string, price float64, ts time.Time) error {
	k := pc.c.key("price", key)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, k, map[string]any{
		"price": strconv.FormatFloat(price, 'g', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, k, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", key, err)
	}
	return nil
}

// GetPrice returns the cached price and its timestamp, or domain.ErrNotFound
// when the key is absent or incomplete.
func (pc *PriceCache) GetPrice(ctx context.Context, key string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("price", key)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", key, err)
	}
	price, ts, ok, err := parsePrice(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", key, err)
	}
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: price %s: %w", key, domain.ErrNotFound)
	}
	return price, ts, nil
}

// GetPrices reads several keys in one pipeline. Missing or malformed entries
// are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, keys []string) (map[string]float64, error) {
	if len(keys) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(keys))
	for _, k := range keys {
		cmds[k] = pipe.HGetAll(ctx, pc.c.key("price", k))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(keys))
	for k, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, ok, err := parsePrice(vals); ok && err == nil {
			result[k] = price
		}
	}
	return result, nil
}

func parsePrice(vals map[string]string) (float64, time.Time, bool, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, false, nil
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, false, nil
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("parse price: %w", err)
	}
	nanos, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("parse ts: %w", err)
	}
	return price, time.Unix(0, nanos), true, nil
}
