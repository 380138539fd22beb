// Package grpcadapter implements SARK's gRPC Protocol Adapter (§4.5). SARK
// proxies arbitrary downstream gRPC services without their generated
// protobuf stubs, so invocation is done through google.golang.org/grpc's
// own codec extension point (the same one grpc-go's built-in proto codec
// is registered through): a jsonCodec marshals/unmarshals call payloads as
// plain JSON rather than a wire-generated message type, and ClientConn.Invoke
// is called with that codec selected via grpc.CallContentSubtype. No
// generated-stub or protoreflect-style dynamic-message library appears
// anywhere in the example corpus, so full server-reflection-driven
// discovery is out of scope here (see DESIGN.md); capability discovery
// instead comes from a statically configured service/method catalog.
package grpcadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/sark/gateway/pkg/adapter"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
)

const jsonCodecName = "json"

// jsonCodec implements grpc/encoding.Codec over plain JSON, so SARK can
// invoke an arbitrary method without that service's generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Adapter is SARK's gRPC Protocol Adapter.
type Adapter struct {
	auth     adapter.AuthConfig
	conns    map[string]*grpc.ClientConn
	wrappers map[string]*adapter.Wrapper
}

// New constructs an Adapter.
func New(auth adapter.AuthConfig) *Adapter {
	return &Adapter{auth: auth, conns: make(map[string]*grpc.ClientConn), wrappers: make(map[string]*adapter.Wrapper)}
}

func (a *Adapter) Protocol() gateway.Protocol { return gateway.ProtocolGRPC }

func (a *Adapter) connFor(resource gateway.Resource) (*grpc.ClientConn, error) {
	if conn, ok := a.conns[resource.ID]; ok {
		return conn, nil
	}
	creds, err := a.transportCredentials()
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(resource.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAdapterConnection, "grpcadapter.connFor", "dial", err)
	}
	a.conns[resource.ID] = conn
	return conn, nil
}

func (a *Adapter) transportCredentials() (credentials.TransportCredentials, error) {
	if a.auth.Kind == adapter.AuthMTLS {
		tc, err := credentials.NewClientTLSFromFile(a.auth.CAFile, "")
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindAdapterConnection, "grpcadapter.transportCredentials", "load CA", err)
		}
		return tc, nil
	}
	return insecure.NewCredentials(), nil
}

func (a *Adapter) wrapperFor(resource gateway.Resource) *adapter.Wrapper {
	w, ok := a.wrappers[resource.ID]
	if !ok {
		w = adapter.NewWrapper(resource.ID, a.auth, nil, 0, adapter.DefaultRetryConfig(), nil)
		a.wrappers[resource.ID] = w
	}
	return w
}

// DiscoverResources treats config["services"] as a pre-enumerated list of
// {id, name, endpoint} entries, per the catalog-based discovery this
// adapter uses in place of server-reflection.
func (a *Adapter) DiscoverResources(ctx context.Context, config map[string]interface{}) ([]gateway.Resource, error) {
	raw, ok := config["services"].([]interface{})
	if !ok {
		return nil, nil
	}
	var resources []gateway.Resource
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		resources = append(resources, gateway.Resource{
			ID:       fmt.Sprint(m["id"]),
			Name:     fmt.Sprint(m["name"]),
			Protocol: gateway.ProtocolGRPC,
			Endpoint: fmt.Sprint(m["endpoint"]),
			Status:   gateway.StatusRegistered,
		})
	}
	return resources, nil
}

// GetCapabilities reads resource.Metadata["methods"], a configured list of
// {name (fully-qualified "package.Service/Method"), input_schema}.
func (a *Adapter) GetCapabilities(ctx context.Context, resource gateway.Resource) ([]gateway.Capability, error) {
	raw, ok := resource.Metadata["methods"].([]interface{})
	if !ok {
		return nil, nil
	}
	caps := make([]gateway.Capability, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name := fmt.Sprint(m["name"])
		schema, _ := m["input_schema"].(map[string]interface{})
		caps = append(caps, gateway.Capability{
			ID:          resource.ID + ":" + name,
			ResourceID:  resource.ID,
			Name:        name,
			InputSchema: schema,
			Sensitivity: resource.Sensitivity,
		})
	}
	return caps, nil
}

// ValidateRequest checks required top-level input-schema properties.
func (a *Adapter) ValidateRequest(ctx context.Context, req gateway.InvocationRequest, cap gateway.Capability) ([]gateway.ValidationError, error) {
	required, _ := cap.InputSchema["required"].([]interface{})
	var errs []gateway.ValidationError
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, exists := req.Arguments[name]; !exists {
			errs = append(errs, gateway.ValidationError{Path: name, Message: "required argument missing"})
		}
	}
	return errs, nil
}

// Invoke calls cap.Name (a fully qualified "package.Service/Method") over
// the resource's gRPC connection, encoding arguments and the reply as JSON
// via jsonCodec.
func (a *Adapter) Invoke(ctx context.Context, req gateway.InvocationRequest, resource gateway.Resource, cap gateway.Capability) (gateway.InvocationResult, error) {
	start := time.Now()
	w := a.wrapperFor(resource)

	var result gateway.InvocationResult
	err := w.Do(ctx, resource.ID, func(ctx context.Context) error {
		conn, connErr := a.connFor(resource)
		if connErr != nil {
			return connErr
		}
		var reply json.RawMessage
		callErr := conn.Invoke(ctx, "/"+cap.Name, req.Arguments, &reply, grpc.CallContentSubtype(jsonCodecName))
		if callErr != nil {
			classified := classifyStatusError(callErr)
			result = gateway.InvocationResult{
				Success: false,
				Error:   &gateway.AdapterError{Kind: "protocol", Message: callErr.Error()},
			}
			if gwerrors.Retryable(classified) {
				return classified
			}
			return nil
		}
		var decoded interface{}
		if len(reply) > 0 {
			_ = json.Unmarshal(reply, &decoded)
		}
		result = gateway.InvocationResult{Success: true, Result: decoded}
		return nil
	})

	result.DurationMS = time.Since(start).Milliseconds()
	if err != nil && result.Error == nil {
		result.Success = false
		result.Error = &gateway.AdapterError{Kind: "adapter", Message: err.Error()}
	}
	return result, nil
}

// InvokeStreaming is not supported generically over the JSON codec without
// a service descriptor to distinguish unary from server-streaming methods;
// callers should treat a non-nil error here as "use Invoke instead".
func (a *Adapter) InvokeStreaming(ctx context.Context, req gateway.InvocationRequest, resource gateway.Resource, cap gateway.Capability) (<-chan gateway.StreamChunk, error) {
	return nil, gwerrors.New(gwerrors.KindAdapterProtocol, "grpcadapter.InvokeStreaming", "streaming requires a service descriptor SARK does not have without generated stubs")
}

func (a *Adapter) HealthCheck(ctx context.Context, resource gateway.Resource) (bool, error) {
	conn, err := a.connFor(resource)
	if err != nil {
		return false, nil
	}
	client := healthpb.NewHealthClient(conn)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, nil
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}

func (a *Adapter) OnResourceUnregistered(ctx context.Context, resource gateway.Resource) {
	if conn, ok := a.conns[resource.ID]; ok {
		conn.Close()
		delete(a.conns, resource.ID)
	}
	delete(a.wrappers, resource.ID)
}

func classifyStatusError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return gwerrors.Wrap(gwerrors.KindAdapterConnection, "grpcadapter", "connection failed", err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.Aborted:
		return gwerrors.Wrap(gwerrors.KindAdapterConnection, "grpcadapter", st.Message(), err)
	case codes.DeadlineExceeded:
		return gwerrors.Wrap(gwerrors.KindAdapterTimeout, "grpcadapter", st.Message(), err)
	default:
		return gwerrors.Wrap(gwerrors.KindAdapterProtocol, "grpcadapter", st.Message(), err)
	}
}
