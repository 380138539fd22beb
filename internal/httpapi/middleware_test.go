package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecurityHeaders_SetsFixedHeaders(t *testing.T) {
	h := securityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "default-src 'self'", rec.Header().Get("Content-Security-Policy"))
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, constantTimeEqual("abc123", "abc123"))
	require.False(t, constantTimeEqual("abc123", "abc124"))
	require.False(t, constantTimeEqual("short", "a-lot-longer-string"))
}

func TestNewCSRFToken_GeneratesURLSafeTokenOfExpectedLength(t *testing.T) {
	token, err := newCSRFToken()
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Len(t, token, 43, "32 random bytes encode to 43 unpadded base64url characters")
	require.False(t, strings.ContainsAny(token, "+/="), "token must be URL-safe base64")
}

func TestIsStateChanging(t *testing.T) {
	require.True(t, isStateChanging(http.MethodPost))
	require.True(t, isStateChanging(http.MethodDelete))
	require.False(t, isStateChanging(http.MethodGet))
	require.False(t, isStateChanging(http.MethodHead))
}

func TestMaxBodyBytes_RejectsOversizedBody(t *testing.T) {
	h := maxBodyBytes(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("this body is too large"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
