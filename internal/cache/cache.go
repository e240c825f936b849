// Package cache keeps the latest consensus price per asset in redis so
// the query surface avoids a store round trip per read. The cache is
// optional; a nil *Cache disables it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"price-consensus/internal/storage"
)

// ErrMiss reports an absent cache entry.
var ErrMiss = errors.New("cache: miss")

const keyPrefix = "price:latest:"

// Cache wraps a redis client for the latest-price lookups.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New connects to redis and verifies the connection.
func New(ctx context.Context, addr string, db int, ttl time.Duration, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "cache").Logger(),
	}, nil
}

// Close releases the redis connection.
func (c *Cache) Close() {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Close()
}

// SetLatest stores the just-published consensus. Failures are logged
// only; the cache never gates a publish.
func (c *Cache) SetLatest(ctx context.Context, agg storage.AggregatedPrice) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(agg)
	if err != nil {
		c.logger.Error().Err(err).Str("asset", agg.Asset).Msg("failed to encode price for cache")
		return
	}
	if err := c.client.Set(ctx, keyPrefix+agg.Asset, payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("asset", agg.Asset).Msg("failed to cache price")
	}
}

// GetLatest fetches the cached consensus for one asset.
func (c *Cache) GetLatest(ctx context.Context, asset string) (storage.AggregatedPrice, error) {
	if c == nil {
		return storage.AggregatedPrice{}, ErrMiss
	}
	raw, err := c.client.Get(ctx, keyPrefix+asset).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.AggregatedPrice{}, ErrMiss
		}
		return storage.AggregatedPrice{}, fmt.Errorf("read cache: %w", err)
	}

	var agg storage.AggregatedPrice
	if err := json.Unmarshal(raw, &agg); err != nil {
		return storage.AggregatedPrice{}, fmt.Errorf("decode cached price: %w", err)
	}
	return agg, nil
}
