package gateway

import (
	"context"
	"encoding/json"
)

// InvocationRequest is the ephemeral request carried through a single
// authorization + invocation flow. It is never persisted as-is.
type InvocationRequest struct {
	CapabilityID string                 `json:"capability_id"`
	PrincipalID  string                 `json:"principal_id"`
	Arguments    map[string]interface{} `json:"arguments"`
	Context      map[string]interface{} `json:"context,omitempty"`
	TraceID      string                 `json:"trace_id"`
}

// RequestContext carries the environment signals named in §6 (client_ip,
// geo_country, timestamp, session_id, request_id, vpn, business_hours).
type RequestContext struct {
	ClientIP      string                 `json:"client_ip,omitempty"`
	GeoCountry    string                 `json:"geo_country,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	RequestID     string                 `json:"request_id,omitempty"`
	VPN           bool                   `json:"vpn,omitempty"`
	BusinessHours bool                   `json:"business_hours,omitempty"`
	UserAgent     string                 `json:"user_agent,omitempty"`
	Extra         map[string]interface{} `json:"-"`
}

// DecisionInput is the purely declarative document the Policy Engine
// evaluates. The engine performs no I/O beyond reading its own loaded bundle.
type DecisionInput struct {
	Principal  Principal              `json:"principal"`
	Resource   Resource               `json:"resource"`
	Capability Capability             `json:"capability"`
	Action     string                 `json:"action"`
	Arguments  map[string]interface{} `json:"arguments"`
	Context    map[string]interface{} `json:"context"`
}

// Decision is the Policy Engine's verdict.
type Decision struct {
	Allow              bool                   `json:"allow"`
	Reason             string                 `json:"reason"`
	FilteredArguments  map[string]interface{} `json:"filtered_arguments,omitempty"`
	CacheTTLSeconds    int                    `json:"cache_ttl_seconds"`
	AuditID            string                 `json:"audit_id,omitempty"`
	Directives         []FilterDirective      `json:"-"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// FilterDirective is one Parameter Filter instruction attached to a Decision
// by the policy that produced it (§4.13).
type FilterDirective struct {
	Kind  DirectiveKind `json:"kind"`
	Path  string        `json:"path"`  // dotted JSON path, array-index aware
	Token string        `json:"token,omitempty"` // redaction replacement token
	Keys  []string      `json:"keys,omitempty"`  // allowlist subkeys
}

// DirectiveKind enumerates the Parameter Filter's directive vocabulary.
type DirectiveKind string

const (
	DirectiveDrop      DirectiveKind = "drop"
	DirectiveRedact    DirectiveKind = "redact"
	DirectiveAllowlist DirectiveKind = "allowlist"
)

// CacheKeyInput is the subset of a decision's inputs that is stable across
// calls and therefore safe to hash into a cache key (§4.1, §6).
type CacheKeyInput struct {
	PrincipalID    string
	Action         string
	ResourceID     string
	CapabilityID   string
	SalientContext map[string]interface{}
}

// CanonicalJSON renders a CacheKeyInput deterministically for hashing.
func (c CacheKeyInput) CanonicalJSON() ([]byte, error) {
	ordered := struct {
		PrincipalID    string                 `json:"principal_id"`
		Action         string                 `json:"action"`
		ResourceID     string                 `json:"resource_id"`
		CapabilityID   string                 `json:"capability_id"`
		SalientContext map[string]interface{} `json:"salient_context,omitempty"`
	}{c.PrincipalID, c.Action, c.ResourceID, c.CapabilityID, c.SalientContext}
	return json.Marshal(ordered)
}

// PolicyEngine is the contract consumed by the Authorization Orchestrator.
type PolicyEngine interface {
	Evaluate(ctx context.Context, input DecisionInput) (Decision, error)
	ReloadBundle(ctx context.Context) error
}
