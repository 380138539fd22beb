package grpcadapter

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sark/gateway/pkg/adapter"
	"github.com/sark/gateway/pkg/gateway"
)

func TestJSONCodec_RoundTrips(t *testing.T) {
	c := jsonCodec{}
	data, err := c.Marshal(map[string]interface{}{"a": 1})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, c.Unmarshal(data, &out))
	require.EqualValues(t, 1, out["a"])
}

func TestJSONCodec_EmptyDataIsNoOp(t *testing.T) {
	c := jsonCodec{}
	var out map[string]interface{}
	require.NoError(t, c.Unmarshal(nil, &out))
}

// echoHandler decodes the JSON-codec request body and echoes it back,
// standing in for an arbitrary downstream unary method.
func echoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req json.RawMessage
	if err := dec(&req); err != nil {
		return nil, err
	}
	return req, nil
}

func startTestServer(t *testing.T) (*bufconn.Listener, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)

	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "sark.test.Echo",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Say", Handler: echoHandler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "echo.proto",
	}, struct{}{})

	go srv.Serve(lis)
	return lis, srv.Stop
}

func dialer(lis *bufconn.Listener) func(context.Context, string) (net.Conn, error) {
	return func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }
}

func TestAdapter_HealthCheckReportsServing(t *testing.T) {
	lis, stop := startTestServer(t)
	defer stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer(lis)),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	a := New(adapter.AuthConfig{Kind: adapter.AuthNone})
	a.conns["r1"] = conn

	healthy, err := a.HealthCheck(context.Background(), gateway.Resource{ID: "r1"})
	require.NoError(t, err)
	require.True(t, healthy)
}

func TestAdapter_InvokeEchoesJSONPayload(t *testing.T) {
	lis, stop := startTestServer(t)
	defer stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer(lis)),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	a := New(adapter.AuthConfig{Kind: adapter.AuthNone})
	a.conns["r1"] = conn

	result, err := a.Invoke(context.Background(),
		gateway.InvocationRequest{Arguments: map[string]interface{}{"q": "hello"}},
		gateway.Resource{ID: "r1"},
		gateway.Capability{Name: "sark.test.Echo/Say"},
	)
	require.NoError(t, err)
	require.True(t, result.Success)
	decoded := result.Result.(map[string]interface{})
	require.Equal(t, "hello", decoded["q"])
}

func TestAdapter_InvokeStreamingIsUnsupported(t *testing.T) {
	a := New(adapter.AuthConfig{Kind: adapter.AuthNone})
	_, err := a.InvokeStreaming(context.Background(), gateway.InvocationRequest{}, gateway.Resource{ID: "r1"}, gateway.Capability{Name: "x"})
	require.Error(t, err)
}

func TestValidateRequest_ReportsMissingRequiredArgument(t *testing.T) {
	a := New(adapter.AuthConfig{Kind: adapter.AuthNone})
	cap := gateway.Capability{InputSchema: map[string]interface{}{"required": []interface{}{"id"}}}
	errs, err := a.ValidateRequest(context.Background(), gateway.InvocationRequest{Arguments: map[string]interface{}{}}, cap)
	require.NoError(t, err)
	require.Len(t, errs, 1)
}
