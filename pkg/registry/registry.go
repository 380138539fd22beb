// Package registry implements SARK's Adapter Registry (§4.6): a
// read-mostly, concurrency-safe map from protocol name to the Protocol
// Adapter instance that serves it. One Registry is constructed per
// process and shared across every in-flight request, guarded by an
// RWMutex so concurrent readers never block each other, per §5's
// "Adapter Registry is read-mostly, guarded by a lock or copy-on-write;
// safe for concurrent readers" shared-resource policy.
package registry

import (
	"context"
	"sync"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
)

// Registry is SARK's single process-wide Adapter Registry.
type Registry struct {
	mu          sync.RWMutex
	adapters    map[gateway.Protocol]gateway.Adapter
	initialized bool
	logger      logging.ComponentAwareLogger
}

// Option customizes a Registry.
type Option func(*Registry)

func WithLogger(l logging.ComponentAwareLogger) Option {
	return func(r *Registry) { r.logger = l.WithComponent("registry") }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{adapters: make(map[gateway.Protocol]gateway.Adapter), logger: logging.NoOp()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds adapter under its own Protocol(), failing if that protocol
// is already registered (§4.6: "fails on duplicate protocol name").
func (r *Registry) Register(a gateway.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	protocol := a.Protocol()
	if _, exists := r.adapters[protocol]; exists {
		return gwerrors.New(gwerrors.KindValidation, "registry.Register", "adapter for protocol "+string(protocol)+" already registered")
	}
	r.adapters[protocol] = a
	return nil
}

// Unregister removes the adapter registered for protocol, a no-op if none is.
func (r *Registry) Unregister(protocol gateway.Protocol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, protocol)
}

// Lookup returns the adapter registered for protocol, if any.
func (r *Registry) Lookup(protocol gateway.Protocol) (gateway.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[protocol]
	return a, ok
}

// Initializer constructs a gateway.Adapter for one enabled protocol, given
// that protocol's discovery config.
type Initializer func(ctx context.Context, config map[string]interface{}) (gateway.Adapter, error)

// Initialize registers one adapter per entry in enabledProtocols using the
// matching Initializer, skipping with a warning any protocol that has no
// Initializer. It does not call DiscoverResources. It is idempotent: a second call
// is a no-op that logs, per §4.6.
func (r *Registry) Initialize(ctx context.Context, enabledProtocols map[gateway.Protocol]map[string]interface{}, initializers map[gateway.Protocol]Initializer) error {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		r.logger.Info("registry already initialized, ignoring second Initialize call", nil)
		return nil
	}
	r.initialized = true
	r.mu.Unlock()

	for protocol, config := range enabledProtocols {
		init, ok := initializers[protocol]
		if !ok {
			r.logger.Warn("no initializer configured for enabled protocol", map[string]interface{}{"protocol": string(protocol)})
			continue
		}
		a, err := init(ctx, config)
		if err != nil {
			return gwerrors.Wrap(gwerrors.KindInternal, "registry.Initialize", "construct adapter for "+string(protocol), err)
		}
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// Protocols lists every currently registered protocol.
func (r *Registry) Protocols() []gateway.Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]gateway.Protocol, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
