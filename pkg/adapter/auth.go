// Package adapter provides the uniform wrapping policies §4.5 requires of
// every Protocol Adapter: an authentication injector, retry with
// exponential backoff over a declared retryable-error class, and a
// per-endpoint circuit breaker. Protocol-specific adapters (mcpadapter,
// httpadapter, grpcadapter) keep a *Wrapper per resource and call through it instead of
// reimplementing these policies. The retry-over-HTTPClient shape is
// grounded on itsneelabh-gomind/ai/providers/base.go's BaseClient /
// ExecuteWithRetry.
package adapter

// AuthKind enumerates the injector modes §4.5 names.
type AuthKind string

const (
	AuthNone           AuthKind = "none"
	AuthBearer         AuthKind = "bearer"
	AuthAPIKeyHeader   AuthKind = "api_key_header"
	AuthMTLS           AuthKind = "mtls"
	AuthCustomMetadata AuthKind = "custom_metadata"
)

// AuthConfig configures one adapter instance's authentication injector.
type AuthConfig struct {
	Kind AuthKind

	// AuthBearer
	BearerToken string

	// AuthAPIKeyHeader
	HeaderName string
	APIKey     string

	// AuthMTLS
	CertFile string
	KeyFile  string
	CAFile   string

	// AuthCustomMetadata — arbitrary header/metadata pairs injected verbatim.
	Metadata map[string]string
}

// InjectHeaders applies the configured header-based auth modes to an
// outbound HTTP-shaped header map. mTLS is applied at transport
// construction time instead (see httpadapter.New), not here.
func (c AuthConfig) InjectHeaders(headers map[string]string) {
	switch c.Kind {
	case AuthBearer:
		headers["Authorization"] = "Bearer " + c.BearerToken
	case AuthAPIKeyHeader:
		name := c.HeaderName
		if name == "" {
			name = "X-API-Key"
		}
		headers[name] = c.APIKey
	case AuthCustomMetadata:
		for k, v := range c.Metadata {
			headers[k] = v
		}
	case AuthMTLS, AuthNone:
		// no-op: mTLS is a transport-level concern, none injects nothing.
	}
}
