package policy

import (
	"context"
	"sort"
	"sync"

	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
)

// Plugin is a decision plugin: "any unit implementing (context) -> Decision
// with a declared priority" (§4.3).
type Plugin interface {
	Name() string
	Priority() int
	Decide(ctx context.Context, input gateway.DecisionInput) gateway.Decision
}

// PluginRegistry holds process-level decision plugins, evaluated in
// descending priority with first-deny short-circuit.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewPluginRegistry constructs an empty PluginRegistry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{}
}

// Register adds a plugin, sorted into priority order. Duplicate names fail
// at registration (§4.3).
func (r *PluginRegistry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return gwerrors.New(gwerrors.KindInternal, "policy.PluginRegistry.Register", "duplicate plugin name: "+p.Name())
		}
	}
	r.plugins = append(r.plugins, p)
	sort.SliceStable(r.plugins, func(i, j int) bool {
		return r.plugins[i].Priority() > r.plugins[j].Priority()
	})
	return nil
}

// Evaluate runs the plugin chain in priority order; the first plugin that
// denies short-circuits the chain and its Decision is returned with denied
// set to true. If every plugin allows, denied is false and the zero
// Decision is returned (the caller already has the bundle's Decision to use).
func (r *PluginRegistry) Evaluate(ctx context.Context, input gateway.DecisionInput) (decision gateway.Decision, denied bool) {
	r.mu.RLock()
	plugins := make([]Plugin, len(r.plugins))
	copy(plugins, r.plugins)
	r.mu.RUnlock()

	for _, p := range plugins {
		d := p.Decide(ctx, input)
		if !d.Allow {
			return d, true
		}
	}
	return gateway.Decision{}, false
}
