package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/pkg/gateway"
)

type fakeAdapter struct {
	protocol gateway.Protocol
}

func (f *fakeAdapter) Protocol() gateway.Protocol { return f.protocol }
func (f *fakeAdapter) DiscoverResources(ctx context.Context, config map[string]interface{}) ([]gateway.Resource, error) {
	return nil, nil
}
func (f *fakeAdapter) GetCapabilities(ctx context.Context, resource gateway.Resource) ([]gateway.Capability, error) {
	return nil, nil
}
func (f *fakeAdapter) ValidateRequest(ctx context.Context, req gateway.InvocationRequest, cap gateway.Capability) ([]gateway.ValidationError, error) {
	return nil, nil
}
func (f *fakeAdapter) Invoke(ctx context.Context, req gateway.InvocationRequest, resource gateway.Resource, cap gateway.Capability) (gateway.InvocationResult, error) {
	return gateway.InvocationResult{Success: true}, nil
}
func (f *fakeAdapter) InvokeStreaming(ctx context.Context, req gateway.InvocationRequest, resource gateway.Resource, cap gateway.Capability) (<-chan gateway.StreamChunk, error) {
	return nil, nil
}
func (f *fakeAdapter) HealthCheck(ctx context.Context, resource gateway.Resource) (bool, error) {
	return true, nil
}
func (f *fakeAdapter) OnResourceUnregistered(ctx context.Context, resource gateway.Resource) {}

func TestRegister_RejectsDuplicateProtocol(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeAdapter{protocol: gateway.ProtocolHTTP}))
	err := r.Register(&fakeAdapter{protocol: gateway.ProtocolHTTP})
	require.Error(t, err)
}

func TestLookup_FindsRegisteredAdapter(t *testing.T) {
	r := New()
	a := &fakeAdapter{protocol: gateway.ProtocolMCP}
	require.NoError(t, r.Register(a))

	found, ok := r.Lookup(gateway.ProtocolMCP)
	require.True(t, ok)
	require.Same(t, a, found)
}

func TestLookup_MissingProtocolReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.Lookup(gateway.ProtocolGRPC)
	require.False(t, ok)
}

func TestUnregister_RemovesAdapter(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeAdapter{protocol: gateway.ProtocolHTTP}))
	r.Unregister(gateway.ProtocolHTTP)

	_, ok := r.Lookup(gateway.ProtocolHTTP)
	require.False(t, ok)
}

func TestInitialize_IsIdempotent(t *testing.T) {
	r := New()
	calls := 0
	initializers := map[gateway.Protocol]Initializer{
		gateway.ProtocolHTTP: func(ctx context.Context, config map[string]interface{}) (gateway.Adapter, error) {
			calls++
			return &fakeAdapter{protocol: gateway.ProtocolHTTP}, nil
		},
	}
	enabled := map[gateway.Protocol]map[string]interface{}{gateway.ProtocolHTTP: {}}

	require.NoError(t, r.Initialize(context.Background(), enabled, initializers))
	require.NoError(t, r.Initialize(context.Background(), enabled, initializers))
	require.Equal(t, 1, calls, "a second Initialize call must be a no-op")
}
