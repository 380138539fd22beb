package httpadapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/pkg/adapter"
	"github.com/sark/gateway/pkg/gateway"
)

func TestGetCapabilities_ParsesOpenAPIPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"paths":{"/widgets/{id}":{"get":{"operationId":"getWidget","parameters":[{"name":"id","in":"path","required":true}]}}}}`))
	}))
	defer srv.Close()

	a, err := New(adapter.AuthConfig{Kind: adapter.AuthNone})
	require.NoError(t, err)

	caps, err := a.GetCapabilities(context.Background(), gateway.Resource{ID: "res-1", Endpoint: srv.URL})
	require.NoError(t, err)
	require.Len(t, caps, 1)
	require.Equal(t, "GET /widgets/{id}", caps[0].Name)
}

func TestInvoke_SubstitutesPathParamsAndReturnsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/widgets/42", r.URL.Path)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a, err := New(adapter.AuthConfig{Kind: adapter.AuthNone})
	require.NoError(t, err)

	result, err := a.Invoke(context.Background(),
		gateway.InvocationRequest{Arguments: map[string]interface{}{"id": "42"}},
		gateway.Resource{ID: "res-1", Endpoint: srv.URL},
		gateway.Capability{Name: "GET /widgets/{id}"},
	)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestInvoke_UpstreamClientErrorSurfacesAsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	a, err := New(adapter.AuthConfig{Kind: adapter.AuthNone})
	require.NoError(t, err)

	result, err := a.Invoke(context.Background(),
		gateway.InvocationRequest{},
		gateway.Resource{ID: "res-1", Endpoint: srv.URL},
		gateway.Capability{Name: "GET /widgets"},
	)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "protocol", result.Error.Kind)
}

func TestHealthCheck_ReportsUnhealthyOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a, err := New(adapter.AuthConfig{Kind: adapter.AuthNone})
	require.NoError(t, err)

	healthy, err := a.HealthCheck(context.Background(), gateway.Resource{Endpoint: srv.URL})
	require.NoError(t, err)
	require.False(t, healthy)
}

func TestValidateRequest_ReportsMissingRequiredArgument(t *testing.T) {
	a, err := New(adapter.AuthConfig{Kind: adapter.AuthNone})
	require.NoError(t, err)

	cap := gateway.Capability{InputSchema: map[string]interface{}{"required": []string{"id"}}}
	errs, err := a.ValidateRequest(context.Background(), gateway.InvocationRequest{Arguments: map[string]interface{}{}}, cap)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, "id", errs[0].Path)
}
