package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/registry"
)

type stubAdapter struct {
	protocol gateway.Protocol
	healthy  bool
	err      error
}

func (s *stubAdapter) Protocol() gateway.Protocol { return s.protocol }
func (s *stubAdapter) DiscoverResources(ctx context.Context, config map[string]interface{}) ([]gateway.Resource, error) {
	return nil, nil
}
func (s *stubAdapter) GetCapabilities(ctx context.Context, resource gateway.Resource) ([]gateway.Capability, error) {
	return nil, nil
}
func (s *stubAdapter) ValidateRequest(ctx context.Context, req gateway.InvocationRequest, cap gateway.Capability) ([]gateway.ValidationError, error) {
	return nil, nil
}
func (s *stubAdapter) Invoke(ctx context.Context, req gateway.InvocationRequest, resource gateway.Resource, cap gateway.Capability) (gateway.InvocationResult, error) {
	return gateway.InvocationResult{}, nil
}
func (s *stubAdapter) InvokeStreaming(ctx context.Context, req gateway.InvocationRequest, resource gateway.Resource, cap gateway.Capability) (<-chan gateway.StreamChunk, error) {
	return nil, nil
}
func (s *stubAdapter) HealthCheck(ctx context.Context, resource gateway.Resource) (bool, error) {
	return s.healthy, s.err
}
func (s *stubAdapter) OnResourceUnregistered(ctx context.Context, resource gateway.Resource) {}

type fakeStore struct {
	resources     []gateway.Resource
	statusUpdates map[string]gateway.LifecycleStatus
}

func (f *fakeStore) ActiveResources(ctx context.Context) ([]gateway.Resource, error) {
	return f.resources, nil
}

func (f *fakeStore) SetResourceStatus(ctx context.Context, resourceID string, status gateway.LifecycleStatus) error {
	if f.statusUpdates == nil {
		f.statusUpdates = make(map[string]gateway.LifecycleStatus)
	}
	f.statusUpdates[resourceID] = status
	return nil
}

func TestMonitor_FlipsActiveResourceToUnhealthyOnFailedCheck(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&stubAdapter{protocol: gateway.ProtocolHTTP, healthy: false}))

	store := &fakeStore{resources: []gateway.Resource{
		{ID: "res-1", Protocol: gateway.ProtocolHTTP, Status: gateway.StatusActive},
	}}

	mon := NewMonitor(store, reg, time.Hour, nil, nil)
	mon.pollOnce(context.Background())

	require.Equal(t, gateway.StatusUnhealthy, store.statusUpdates["res-1"])
}

func TestMonitor_RecoversUnhealthyResourceOnSuccessfulCheck(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&stubAdapter{protocol: gateway.ProtocolHTTP, healthy: true}))

	store := &fakeStore{resources: []gateway.Resource{
		{ID: "res-1", Protocol: gateway.ProtocolHTTP, Status: gateway.StatusUnhealthy},
	}}

	mon := NewMonitor(store, reg, time.Hour, nil, nil)
	mon.pollOnce(context.Background())

	require.Equal(t, gateway.StatusActive, store.statusUpdates["res-1"])
}

func TestMonitor_NoStatusChangeWhenAlreadyMatching(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&stubAdapter{protocol: gateway.ProtocolHTTP, healthy: true}))

	store := &fakeStore{resources: []gateway.Resource{
		{ID: "res-1", Protocol: gateway.ProtocolHTTP, Status: gateway.StatusActive},
	}}

	mon := NewMonitor(store, reg, time.Hour, nil, nil)
	mon.pollOnce(context.Background())

	require.Empty(t, store.statusUpdates, "no update call should happen when status hasn't changed")
}

func TestMonitor_SkipsResourcesWithNoRegisteredAdapter(t *testing.T) {
	reg := registry.New()
	store := &fakeStore{resources: []gateway.Resource{
		{ID: "res-1", Protocol: gateway.ProtocolGRPC, Status: gateway.StatusActive},
	}}

	mon := NewMonitor(store, reg, time.Hour, nil, nil)
	mon.pollOnce(context.Background())

	require.Empty(t, store.statusUpdates)
}

func TestMonitor_TreatsHealthCheckErrorAsUnhealthy(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&stubAdapter{protocol: gateway.ProtocolHTTP, healthy: true, err: errors.New("connection refused")}))

	store := &fakeStore{resources: []gateway.Resource{
		{ID: "res-1", Protocol: gateway.ProtocolHTTP, Status: gateway.StatusActive},
	}}

	mon := NewMonitor(store, reg, time.Hour, nil, nil)
	mon.pollOnce(context.Background())

	require.Equal(t, gateway.StatusUnhealthy, store.statusUpdates["res-1"])
}
