package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const noDuration = "-"

// Cache decorates a Catalog with a Redis read-through cache. Redis errors
// fall back to the underlying catalog.
type Cache struct {
	next   Catalog
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewCache(next Catalog, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{next: next, rdb: rdb, ttl: ttl, prefix: "catalog", logger: logger}
}

func (c *Cache) offeringsKey(providerID string) string {
	return c.prefix + ":provider:" + providerID + ":services"
}

func (c *Cache) durationKey(serviceID string) string {
	return c.prefix + ":service:" + serviceID + ":duration"
}

func (c *Cache) ServiceDuration(ctx context.Context, serviceID string) (int, bool, error) {
	key := c.durationKey(serviceID)
	raw, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		if raw == noDuration {
			return 0, false, nil
		}
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			return n, true, nil
		}
	}
	c.warn(err)

	minutes, ok, err := c.next.ServiceDuration(ctx, serviceID)
	if err != nil {
		return 0, false, err
	}
	val := noDuration
	if ok {
		val = strconv.Itoa(minutes)
	}
	c.warn(c.rdb.Set(ctx, key, val, c.ttl).Err())
	return minutes, ok, nil
}

func (c *Cache) ServicesOfferedBy(ctx context.Context, providerID string) ([]string, error) {
	key := c.offeringsKey(providerID)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var ids []string
		if jsonErr := json.Unmarshal(raw, &ids); jsonErr == nil {
			return ids, nil
		}
	}
	c.warn(err)

	ids, err := c.next.ServicesOfferedBy(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(ids); err == nil {
		c.warn(c.rdb.Set(ctx, key, payload, c.ttl).Err())
	}
	return ids, nil
}

// InvalidateProvider drops the cached offerings of providerID.
func (c *Cache) InvalidateProvider(ctx context.Context, providerID string) error {
	return c.rdb.Del(ctx, c.offeringsKey(providerID)).Err()
}

func (c *Cache) InvalidateService(ctx context.Context, serviceID string) error {
	return c.rdb.Del(ctx, c.durationKey(serviceID)).Err()
}

func (c *Cache) warn(err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	c.logger.Warn("catalog cache unavailable", "err", err)
}
