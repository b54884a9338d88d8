package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per pair at
// "price:<pair>" holding price, ts (unix nanos) and source.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires stale entries.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(pair string) string {
	return "price:" + pair
}

// SetPrice stores the latest sample for pair.
func (pc *PriceCache) SetPrice(ctx context.Context, pair string, sample domain.PriceSample) error {
	key := priceKey(pair)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price":  strconv.FormatFloat(sample.Price, 'f', -1, 64),
		"ts":     strconv.FormatInt(sample.Timestamp.UnixNano(), 10),
		"source": string(sample.Source),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", pair, err)
	}
	return nil
}

// GetPrice returns the cached sample, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, pair string) (domain.PriceSample, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(pair)).Result()
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: get price %s: %w", pair, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse price %s: %w", pair, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse ts %s: %w", pair, err)
	}
	return domain.PriceSample{
		Price:     price,
		Timestamp: time.Unix(0, tsNano).UTC(),
		Source:    domain.PriceSourceTag(vals["source"]),
	}, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
