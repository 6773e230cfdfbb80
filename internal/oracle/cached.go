package oracle

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradegate/tradegate/internal/logging"
)

// CachedOracle fronts another oracle with a Redis quote cache so the monitor
// sweep and the decision pipeline do not hammer the upstream feed for the
// same symbols. Cache failures degrade to the upstream, never to an error.
type CachedOracle struct {
	upstream PriceOracle
	redis    *redis.Client
	ttl      time.Duration
	logger   logging.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCachedOracle(upstream PriceOracle, redisClient *redis.Client, ttl time.Duration, logger logging.Logger) *CachedOracle {
	return &CachedOracle{
		upstream: upstream,
		redis:    redisClient,
		ttl:      ttl,
		logger:   logger.WithComponent("price_cache"),
	}
}

func (c *CachedOracle) cacheKey(symbol string) string {
	return "quotes:" + symbol
}

func (c *CachedOracle) CurrentPrice(ctx context.Context, symbol string) (Quote, error) {
	key := c.cacheKey(symbol)

	data, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var q Quote
		if jsonErr := json.Unmarshal([]byte(data), &q); jsonErr == nil {
			c.hits.Add(1)
			return q, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("quote cache read failed", "symbol", symbol, "error", err)
	}
	c.misses.Add(1)

	q, err := c.upstream.CurrentPrice(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}

	if payload, jsonErr := json.Marshal(q); jsonErr == nil {
		if setErr := c.redis.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			c.logger.Warn("quote cache write failed", "symbol", symbol, "error", setErr)
		}
	}
	return q, nil
}

// CurrentRegime is served straight from upstream; regimes change slowly and
// are cheap to compute.
func (c *CachedOracle) CurrentRegime(ctx context.Context, symbol string) (Regime, error) {
	return c.upstream.CurrentRegime(ctx, symbol)
}

// Stats returns cache hit/miss counters.
func (c *CachedOracle) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
