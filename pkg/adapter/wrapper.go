package adapter

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/pkg/gwerrors"
	"github.com/sark/gateway/pkg/ratelimit"
	"github.com/sark/gateway/pkg/resilience"
)

// RetryConfig configures §4.5's exponential-backoff retry policy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration // first retry delay, default 500ms; each later delay doubles (fixed multiplier 2.0)
	MaxDelay    time.Duration // cap, default 60s
}

// DefaultRetryConfig matches §4.5's stated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 60 * time.Second}
}

// Wrapper applies the uniform per-instance rate limit, retry, and circuit
// breaker policies §4.5 requires of every adapter, and carries the
// adapter's AuthConfig. Do does not inject credentials itself: the protocol
// adapters call AuthConfig.InjectHeaders when they build each request. A
// protocol-specific adapter keeps one Wrapper per resource and calls Do
// around its transport round trip.
type Wrapper struct {
	Auth    AuthConfig
	Limiter ratelimit.Limiter
	RPS     int

	Retry   RetryConfig
	Breaker *resilience.CircuitBreaker

	Logger logging.ComponentAwareLogger
}

// NewWrapper constructs a Wrapper for one adapter endpoint (resource).
func NewWrapper(endpointName string, auth AuthConfig, limiter ratelimit.Limiter, rps int, retry RetryConfig, logger logging.ComponentAwareLogger) *Wrapper {
	if logger == nil {
		logger = logging.NoOp()
	}
	return &Wrapper{
		Auth:    auth,
		Limiter: limiter,
		RPS:     rps,
		Retry:   retry,
		Breaker: resilience.New(resilience.DefaultConfig("adapter:" + endpointName)),
		Logger:  logger.WithComponent("adapter"),
	}
}

// Do runs fn under the rate limiter, circuit breaker, and retry policy.
// Only gwerrors.Retryable errors are retried; everything else propagates
// on first failure, per §4.5 ("non-retryable failures ... propagate
// immediately").
func (w *Wrapper) Do(ctx context.Context, identifier string, fn func(ctx context.Context) error) error {
	if w.Limiter != nil && w.RPS > 0 {
		res, err := w.Limiter.Check(ctx, identifier, w.RPS, time.Second)
		if err == nil && !res.Allowed {
			return gwerrors.New(gwerrors.KindRateLimitExceeded, "adapter.Do", "adapter rate limit exceeded")
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.Retry.BaseDelay
	bo.Multiplier = 2.0
	bo.MaxInterval = w.Retry.MaxDelay
	retrier := backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(maxAttemptsOrDefault(w.Retry.MaxAttempts)))

	return backoff.Retry(func() error {
		err := w.Breaker.Execute(ctx, fn)
		if err == nil {
			return nil
		}
		if !gwerrors.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, retrier)
}

func maxAttemptsOrDefault(n int) int {
	if n <= 0 {
		return DefaultRetryConfig().MaxAttempts - 1
	}
	return n - 1 // MaxAttempts counts the initial try; WithMaxRetries counts retries after it.
}
