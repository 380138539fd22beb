// Package health implements the background health-check poller that drives
// a Resource's lifecycle transitions per §3's "transitions driven by
// health-check observations" invariant. Grounded on the same ticker-loop
// shape as pkg/cache's Sweeper and pkg/siem's Forwarder.Run: a single
// background goroutine woken on a fixed interval, each tick independent of
// the last.
package health

import (
	"context"
	"time"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/internal/telemetry"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/registry"
)

// Store is the minimal resource-catalog surface the Monitor reads and
// writes lifecycle state through.
type Store interface {
	ActiveResources(ctx context.Context) ([]gateway.Resource, error)
	SetResourceStatus(ctx context.Context, resourceID string, status gateway.LifecycleStatus) error
}

// Monitor periodically calls HealthCheck on the adapter of each resource
// Store.ActiveResources returns (active and unhealthy ones, in
// cmd/sark-gateway's store), flipping status between active and unhealthy as observations
// change. It never touches registered/inactive/decommissioned resources —
// those transitions are driven by registration and decommissioning, not
// by health, per §3.
type Monitor struct {
	store    Store
	registry *registry.Registry
	interval time.Duration
	logger   logging.ComponentAwareLogger
	m        *telemetry.Metrics

	stop chan struct{}
	done chan struct{}
}

// NewMonitor constructs a Monitor polling store's active resources every
// interval.
func NewMonitor(store Store, reg *registry.Registry, interval time.Duration, logger logging.ComponentAwareLogger, m *telemetry.Metrics) *Monitor {
	if logger == nil {
		logger = logging.NoOp()
	}
	return &Monitor{
		store:    store,
		registry: reg,
		interval: interval,
		logger:   logger.WithComponent("health.monitor"),
		m:        m,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks, polling every interval until ctx is cancelled or Stop is
// called. Intended to run in its own goroutine from cmd/sark-gateway.
func (mon *Monitor) Run(ctx context.Context) {
	defer close(mon.done)
	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mon.stop:
			return
		case <-ticker.C:
			mon.pollOnce(ctx)
		}
	}
}

// Stop requests the poll loop to exit and waits for it to do so.
func (mon *Monitor) Stop() {
	close(mon.stop)
	<-mon.done
}

func (mon *Monitor) pollOnce(ctx context.Context) {
	resources, err := mon.store.ActiveResources(ctx)
	if err != nil {
		mon.logger.WarnContext(ctx, "health poll: list resources failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, r := range resources {
		adapter, ok := mon.registry.Lookup(r.Protocol)
		if !ok {
			continue
		}
		healthy, err := adapter.HealthCheck(ctx, r)
		result := "healthy"
		if err != nil || !healthy {
			result = "unhealthy"
		}
		if mon.m != nil {
			mon.m.ResourceHealthChecks.WithLabelValues(r.ID, result).Inc()
		}

		next := gateway.StatusActive
		healthValue := 1.0
		if result == "unhealthy" {
			next = gateway.StatusUnhealthy
			healthValue = 0.0
		}
		if mon.m != nil {
			mon.m.ResourceHealthy.WithLabelValues(r.ID).Set(healthValue)
		}
		if next == r.Status {
			continue
		}
		if err := mon.store.SetResourceStatus(ctx, r.ID, next); err != nil {
			mon.logger.WarnContext(ctx, "health poll: status update failed", map[string]interface{}{
				"resource_id": r.ID, "error": err.Error(),
			})
		}
	}
}
