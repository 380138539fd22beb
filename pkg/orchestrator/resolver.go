package orchestrator

import (
	"context"

	"github.com/sark/gateway/pkg/gateway"
)

// ResourceResolver resolves the resource/capability records a decision or
// invocation needs by id, the step the flows in §4.11/§4.12 call "assemble
// the decision input document, including resolved resource/capability
// records". Backed in production by the same discovery catalog the Adapter
// Registry populates.
type ResourceResolver interface {
	Resource(ctx context.Context, resourceID string) (gateway.Resource, error)
	Capability(ctx context.Context, capabilityID string) (gateway.Capability, error)
}
