package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/pkg/gwerrors"
)

func TestWrapper_RetriesRetryableErrorsThenSucceeds(t *testing.T) {
	w := NewWrapper("svc", AuthConfig{Kind: AuthNone}, nil, 0, RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond * 5}, nil)

	attempts := 0
	err := w.Do(context.Background(), "id", func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return gwerrors.New(gwerrors.KindAdapterConnection, "op", "connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestWrapper_NonRetryableErrorPropagatesImmediately(t *testing.T) {
	w := NewWrapper("svc", AuthConfig{Kind: AuthNone}, nil, 0, DefaultRetryConfig(), nil)

	attempts := 0
	err := w.Do(context.Background(), "id", func(ctx context.Context) error {
		attempts++
		return gwerrors.New(gwerrors.KindValidation, "op", "bad schema")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts, "a non-retryable error must not be retried")
}

func TestAuthConfig_InjectHeaders(t *testing.T) {
	headers := map[string]string{}
	AuthConfig{Kind: AuthBearer, BearerToken: "tok"}.InjectHeaders(headers)
	require.Equal(t, "Bearer tok", headers["Authorization"])

	headers = map[string]string{}
	AuthConfig{Kind: AuthAPIKeyHeader, HeaderName: "X-Key", APIKey: "k1"}.InjectHeaders(headers)
	require.Equal(t, "k1", headers["X-Key"])

	headers = map[string]string{}
	AuthConfig{Kind: AuthAPIKeyHeader, APIKey: "k1"}.InjectHeaders(headers)
	require.Equal(t, "k1", headers["X-API-Key"], "an unset header name must default to X-API-Key")
}
