package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/internal/telemetry"
)

// Sweeper periodically reconciles the decision cache's Redis keyspace,
// emitting (cleanups_run, entries_removed, duration, errors) the way the
// teacher's MemoryStore logs and counts expired-entry evictions on access;
// unlike MemoryStore's lazy on-read expiry, Redis expires keys itself, so
// the sweeper's job is defensive: reclaim keys a crashed Set left with no
// TTL (PERSIST semantics are never used by Set, so any such key is a bug).
type Sweeper struct {
	client   *redis.Client
	interval time.Duration
	logger   logging.ComponentAwareLogger
	m        *telemetry.Metrics

	stop chan struct{}
	done chan struct{}
}

// NewSweeper builds a Sweeper over client, scanning keys under keyPrefix.
func NewSweeper(client *redis.Client, interval time.Duration, logger logging.ComponentAwareLogger, m *telemetry.Metrics) *Sweeper {
	if logger == nil {
		logger = logging.NoOp()
	}
	return &Sweeper{
		client:   client,
		interval: interval,
		logger:   logger.WithComponent("cache.sweeper"),
		m:        m,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks, sweeping every interval until ctx is cancelled or Stop is
// called. Intended to run in its own goroutine from cmd/sark-gateway.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// Stop requests the sweeper loop to exit and waits for it to do so.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	start := time.Now()
	var removed int64
	var errs int64

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := s.client.TTL(ctx, key).Result()
		if err != nil {
			errs++
			continue
		}
		if ttl < 0 {
			// No TTL (-1) or already gone (-2): either way this key must
			// not survive, since every Set call always attaches a TTL.
			if err := s.client.Del(ctx, key).Err(); err != nil {
				errs++
				continue
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		errs++
		s.logger.WarnContext(ctx, "decision cache sweep scan error", map[string]interface{}{"error": err.Error()})
	}

	duration := time.Since(start)
	if s.m != nil {
		s.m.CacheSweeps.Inc()
		if removed > 0 {
			s.m.CacheEvicted.Add(float64(removed))
		}
	}
	s.logger.DebugContext(ctx, "decision cache sweep complete", map[string]interface{}{
		"entries_removed": removed,
		"errors":          errs,
		"duration_ms":     duration.Milliseconds(),
	})
}
