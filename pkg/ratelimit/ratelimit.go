// Package ratelimit implements SARK's sliding-window Rate Limiter (§4.2).
// The ZAdd/ZRemRangeByScore/ZCard primitives of the sorted-set sliding
// window mirror the teacher's core/redis_client.go RedisClient wrapper.
// Buckets live under the sark:ratelimit: key prefix in whatever Redis
// database the client selects; cmd/sark-gateway shares that client with
// the decision cache.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/internal/telemetry"
)

const keyPrefix = "sark:ratelimit:"

// Result is the outcome of a Check call (§4.2).
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // only meaningful when !Allowed
}

// Limiter is the Rate Limiter contract.
type Limiter interface {
	Check(ctx context.Context, identifier string, limit int, window time.Duration) (Result, error)
}

// RedisLimiter is the default sliding-window Limiter.
type RedisLimiter struct {
	client *redis.Client
	logger logging.ComponentAwareLogger
	m      *telemetry.Metrics
}

// Option customizes a RedisLimiter.
type Option func(*RedisLimiter)

// WithLogger attaches a component-scoped logger.
func WithLogger(l logging.ComponentAwareLogger) Option {
	return func(r *RedisLimiter) { r.logger = l.WithComponent("ratelimit") }
}

// WithMetrics attaches the shared Prometheus registry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *RedisLimiter) { r.m = m }
}

// New constructs a RedisLimiter.
func New(client *redis.Client, opts ...Option) *RedisLimiter {
	r := &RedisLimiter{client: client, logger: logging.NoOp()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check admits or rejects identifier against limit within window using a
// sorted-set sliding window: expired members are trimmed, the remaining
// count is compared to limit, and the current instant is recorded only on
// admission. A backend failure fails open — the caller is admitted and the
// failure is logged — per §4.2's "backend store unavailable → fail open".
func (r *RedisLimiter) Check(ctx context.Context, identifier string, limit int, window time.Duration) (Result, error) {
	now := time.Now()
	key := keyPrefix + identifier
	cutoff := now.Add(-window)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		if r.m != nil {
			r.m.RateLimitAdmits.Inc()
		}
		r.logger.WarnContext(ctx, "rate limiter backend error, failing open", map[string]interface{}{"error": err.Error(), "identifier": identifier})
		return Result{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}, nil
	}

	count := countCmd.Val()
	resetAt := now.Add(window)
	if scores := oldestCmd.Val(); len(scores) > 0 {
		oldest := time.Unix(0, int64(scores[0].Score))
		resetAt = oldest.Add(window)
	}

	if count >= int64(limit) {
		retryAfter := time.Second
		if d := resetAt.Sub(now); d > retryAfter {
			retryAfter = d
		}
		if r.m != nil {
			r.m.RateLimitRejects.Inc()
		}
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt, RetryAfter: retryAfter}, nil
	}

	member := &redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()}
	if err := r.client.ZAdd(ctx, key, *member).Err(); err != nil {
		r.logger.WarnContext(ctx, "rate limiter failed to record admitted request", map[string]interface{}{"error": err.Error()})
	}
	r.client.Expire(ctx, key, window)

	if r.m != nil {
		r.m.RateLimitAdmits.Inc()
	}
	remaining := int(limit) - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

// Identifier resolves the rate-limit identifier precedence from §4.2:
// API-key > principal > token-hash > client-IP.
func Identifier(apiKey, principalID, tokenHash, clientIP string) string {
	switch {
	case apiKey != "":
		return "apikey:" + apiKey
	case principalID != "":
		return "principal:" + principalID
	case tokenHash != "":
		return "token:" + tokenHash
	default:
		return "ip:" + clientIP
	}
}
