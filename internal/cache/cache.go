package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"qguard/internal/platform/metrics"
)

// ErrDurableUnavailable is returned by Increment when the durable tier cannot
// be reached. Counters are never fabricated from local state; callers must be
// able to distinguish "counted" from "not counted".
var ErrDurableUnavailable = errors.New("durable cache tier unavailable")

const memoryCleanupInterval = 5 * time.Minute

// Tiered is a two-tier key/value cache. The in-process tier is a best-effort
// accelerator; the Redis tier is authoritative when reachable and shared
// across gateway instances. Every operation except Ping degrades silently
// when Redis is down — a cache failure must never surface on the request
// path.
//
// One instance is constructed in main and shared by injection; services never
// reach for a process-wide singleton so tests can run isolated caches.
type Tiered struct {
	memory *gocache.Cache
	redis  *redis.Client // nil when the durable tier is not configured
	log    *slog.Logger
	met    *metrics.Metrics
}

// New builds a tiered cache. redisClient may be nil, in which case only the
// in-process tier is active and Increment always fails.
func New(redisClient *redis.Client, log *slog.Logger, met *metrics.Metrics) *Tiered {
	return &Tiered{
		// Entries carry their own TTL; the default here only applies to a
		// Set with ttl <= 0, which callers do not do.
		memory: gocache.New(gocache.NoExpiration, memoryCleanupInterval),
		redis:  redisClient,
		log:    log,
		met:    met,
	}
}

// Get returns the value for key, checking the in-process tier first and the
// durable tier on a miss. A durable hit repopulates the in-process tier with
// the key's remaining TTL. Durable-tier failures are logged, never returned.
func (c *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.memory.Get(key); ok {
		c.met.CacheHits.WithLabelValues("memory").Inc()
		return v.([]byte), true
	}

	if c.redis != nil {
		val, err := c.redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			c.met.CacheHits.WithLabelValues("durable").Inc()
			c.repopulate(ctx, key, val)
			return val, true
		case errors.Is(err, redis.Nil):
			// plain miss
		default:
			c.log.Warn("redis get failed", "key", key, "error", err)
		}
	}

	c.met.CacheMisses.Inc()
	return nil, false
}

// repopulate writes a durable-tier hit back into the in-process tier using
// the remaining Redis TTL so both tiers expire together.
func (c *Tiered) repopulate(ctx context.Context, key string, val []byte) {
	ttl, err := c.redis.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return
	}
	c.memory.Set(key, val, ttl)
}

// Set writes both tiers with the same caller-supplied TTL. The durable write
// is best-effort; its failure is logged only.
func (c *Tiered) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	c.memory.Set(key, val, ttl)

	if c.redis != nil {
		if err := c.redis.Set(ctx, key, val, ttl).Err(); err != nil {
			c.log.Warn("redis set failed", "key", key, "error", err)
		}
	}
}

// Increment atomically adds delta to a durable counter and returns the new
// total. Unlike Get/Set this is not best-effort: without the durable tier
// there is no meaningful total to return.
func (c *Tiered) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	if c.redis == nil {
		return 0, ErrDurableUnavailable
	}
	n, err := c.redis.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	return n, nil
}

// Ping probes the durable tier only. The in-process tier cannot fail.
func (c *Tiered) Ping(ctx context.Context) bool {
	if c.redis == nil {
		return false
	}
	return c.redis.Ping(ctx).Err() == nil
}

// GetJSON unmarshals a cached entry into out. A corrupt entry counts as a
// miss.
func (c *Tiered) GetJSON(ctx context.Context, key string, out any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.Warn("corrupt cache entry", "key", key, "error", err)
		return false
	}
	return true
}

// SetJSON marshals v and stores it in both tiers.
func (c *Tiered) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache entry %q: %w", key, err)
	}
	c.Set(ctx, key, raw, ttl)
	return nil
}
