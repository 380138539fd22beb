// Package cache implements SARK's Decision Cache: a redis-backed store
// keyed on (principal, action, resource, capability, salient context) that
// lets repeated authorization checks skip policy evaluation within a
// sensitivity-scoped TTL window. The Get/Set/Stats shape and atomic hit
// counters are grounded on the teacher's core/schema_cache.go
// RedisSchemaCache; the DB-namespace-per-concern convention and client
// construction follow core/redis_client.go.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/internal/telemetry"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
)

const keyPrefix = "sark:decision:"

// TTLPolicy resolves the cache TTL for a sensitivity tier, per §4.1. A zero
// TTL means "never cache" (critical-sensitivity decisions are always
// re-evaluated).
type TTLPolicy struct {
	Low      time.Duration
	Medium   time.Duration
	High     time.Duration
	Critical time.Duration
}

func (p TTLPolicy) ttlFor(s gateway.Sensitivity) time.Duration {
	switch s {
	case gateway.SensitivityLow:
		return p.Low
	case gateway.SensitivityMedium:
		return p.Medium
	case gateway.SensitivityHigh:
		return p.High
	default:
		return p.Critical
	}
}

// DecisionCache is the Decision Cache contract (§4.1).
type DecisionCache interface {
	Get(ctx context.Context, key gateway.CacheKeyInput) (gateway.Decision, bool)
	Set(ctx context.Context, key gateway.CacheKeyInput, sensitivity gateway.Sensitivity, decision gateway.Decision) error
	Invalidate(ctx context.Context, key gateway.CacheKeyInput) error
	Stats() map[string]interface{}
}

// RedisDecisionCache is the default DecisionCache, stored under the
// sark:decision: key prefix in whatever Redis database its client selects.
// cmd/sark-gateway gives it the same client as the rate limiter, so the
// two are kept apart by key prefix, not by logical DB.
type RedisDecisionCache struct {
	client *redis.Client
	ttl    TTLPolicy
	logger logging.ComponentAwareLogger
	m      *telemetry.Metrics

	hits   int64
	misses int64
}

// Option customizes a RedisDecisionCache.
type Option func(*RedisDecisionCache)

// WithLogger attaches a component-scoped logger.
func WithLogger(l logging.ComponentAwareLogger) Option {
	return func(c *RedisDecisionCache) { c.logger = l.WithComponent("cache") }
}

// WithMetrics attaches the shared Prometheus registry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *RedisDecisionCache) { c.m = m }
}

// New constructs a RedisDecisionCache.
func New(client *redis.Client, ttl TTLPolicy, opts ...Option) *RedisDecisionCache {
	c := &RedisDecisionCache{client: client, ttl: ttl, logger: logging.NoOp()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func redisKey(key gateway.CacheKeyInput) (string, error) {
	canon, err := key.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return keyPrefix + hex.EncodeToString(sum[:]), nil
}

// Get looks up a cached decision. Any backend error or corrupt payload is
// treated as a miss (fail-to-miss, §4.1 edge case: "cache errors must never
// cause a false allow") — the caller always falls through to fresh policy
// evaluation.
func (c *RedisDecisionCache) Get(ctx context.Context, key gateway.CacheKeyInput) (gateway.Decision, bool) {
	rk, err := redisKey(key)
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		return gateway.Decision{}, false
	}

	val, err := c.client.Get(ctx, rk).Result()
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		if c.m != nil {
			c.m.CacheMisses.Inc()
		}
		if err != redis.Nil {
			c.logger.WarnContext(ctx, "decision cache backend error, treating as miss", map[string]interface{}{"error": err.Error()})
		}
		return gateway.Decision{}, false
	}

	var decision gateway.Decision
	if err := json.Unmarshal([]byte(val), &decision); err != nil {
		atomic.AddInt64(&c.misses, 1)
		if c.m != nil {
			c.m.CacheMisses.Inc()
		}
		c.logger.WarnContext(ctx, "decision cache corrupt entry, treating as miss", map[string]interface{}{"error": err.Error()})
		return gateway.Decision{}, false
	}

	atomic.AddInt64(&c.hits, 1)
	if c.m != nil {
		c.m.CacheHits.Inc()
	}
	return decision, true
}

// Set stores a decision with the TTL for its sensitivity tier. A
// critical-sensitivity decision (TTL zero) is a deliberate no-op.
func (c *RedisDecisionCache) Set(ctx context.Context, key gateway.CacheKeyInput, sensitivity gateway.Sensitivity, decision gateway.Decision) error {
	ttl := c.ttl.ttlFor(sensitivity)
	if ttl <= 0 {
		return nil
	}

	rk, err := redisKey(key)
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindInternal, "cache.Set", "canonicalize cache key", err)
	}

	data, err := json.Marshal(decision)
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindInternal, "cache.Set", "marshal decision", err)
	}

	if err := c.client.Set(ctx, rk, data, ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "decision cache write failed", map[string]interface{}{"error": err.Error()})
		return gwerrors.Wrap(gwerrors.KindInternal, "cache.Set", "write to redis", err)
	}
	return nil
}

// Invalidate removes a cached decision, used when a policy bundle reload
// or resource unregistration must not be served stale results.
func (c *RedisDecisionCache) Invalidate(ctx context.Context, key gateway.CacheKeyInput) error {
	rk, err := redisKey(key)
	if err != nil {
		return nil
	}
	return c.client.Del(ctx, rk).Err()
}

// Stats returns hit/miss counters, mirroring RedisSchemaCache.Stats.
func (c *RedisDecisionCache) Stats() map[string]interface{} {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	stats := map[string]interface{}{
		"hits":          hits,
		"misses":        misses,
		"total_lookups": total,
	}
	if total > 0 {
		stats["hit_rate"] = float64(hits) / float64(total)
	}
	return stats
}
