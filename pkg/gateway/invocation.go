package gateway

import (
	"context"
	"time"
)

// InvocationResult is what a Protocol Adapter returns from a single Invoke call.
type InvocationResult struct {
	Success    bool                   `json:"success"`
	Result     interface{}            `json:"result,omitempty"`
	Error      *AdapterError          `json:"error,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AdapterError is the discriminated error payload an adapter attaches to a
// failed InvocationResult, distinguishing protocol errors from adapter errors.
type AdapterError struct {
	Kind       string        `json:"kind"` // "protocol" | "adapter" | "timeout" | "connection"
	Message    string        `json:"message"`
	Code       string        `json:"code,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (e *AdapterError) Error() string { return e.Kind + ": " + e.Message }

// ValidationError describes a single schema-validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// StreamChunk is a single unit emitted by a streaming adapter invocation.
type StreamChunk struct {
	Sequence int         `json:"sequence"`
	Terminal bool        `json:"terminal"`
	Data     interface{} `json:"data"`
	Err      error       `json:"-"`
}

// Adapter is the uniform contract every Protocol Adapter implements (§4.5).
type Adapter interface {
	Protocol() Protocol
	DiscoverResources(ctx context.Context, config map[string]interface{}) ([]Resource, error)
	GetCapabilities(ctx context.Context, resource Resource) ([]Capability, error)
	ValidateRequest(ctx context.Context, req InvocationRequest, cap Capability) ([]ValidationError, error)
	Invoke(ctx context.Context, req InvocationRequest, resource Resource, cap Capability) (InvocationResult, error)
	InvokeStreaming(ctx context.Context, req InvocationRequest, resource Resource, cap Capability) (<-chan StreamChunk, error)
	HealthCheck(ctx context.Context, resource Resource) (bool, error)
	OnResourceUnregistered(ctx context.Context, resource Resource)
}
