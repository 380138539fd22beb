package gateway

import "time"

// Severity classifies an AuditEvent for SIEM alerting thresholds.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DecisionOutcome is the terminal decision string recorded on an audit event.
type DecisionOutcome string

const (
	DecisionAllow DecisionOutcome = "allow"
	DecisionDeny  DecisionOutcome = "deny"
	DecisionError DecisionOutcome = "error"
)

// Outcome is the terminal invocation outcome recorded on an audit event.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// Actor identifies who initiated the audited action.
type Actor struct {
	ID    string        `json:"id"`
	Email string        `json:"email,omitempty"`
	Type  PrincipalType `json:"type"`
}

// AuditResourceRef and AuditCapabilityRef are the minimal wire-shaped
// references an audit event carries (not the full Resource/Capability).
type AuditResourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type AuditCapabilityRef struct {
	Name string `json:"name,omitempty"`
}

type NetworkInfo struct {
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type PolicyRef struct {
	Bundle  string `json:"bundle,omitempty"`
	Version int    `json:"version,omitempty"`
}

// AuditEvent is the append-only record produced per decision/invocation (§3, §6).
type AuditEvent struct {
	ID             string                 `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	EventType      string                 `json:"event_type"`
	Severity       Severity               `json:"severity"`
	Actor          Actor                  `json:"actor"`
	Action         string                 `json:"action"`
	Resource       AuditResourceRef       `json:"resource"`
	Capability     AuditCapabilityRef     `json:"capability"`
	Decision       DecisionOutcome        `json:"decision"`
	Outcome        Outcome                `json:"outcome"`
	DurationMS     int64                  `json:"duration_ms"`
	Policy         PolicyRef              `json:"policy"`
	Network        NetworkInfo            `json:"network"`
	CorrelationID  string                 `json:"correlation_id"`
	Details        map[string]interface{} `json:"details,omitempty"`
	IntegrityHash  string                 `json:"integrity_hash"`
	CacheHit       bool                   `json:"cache_hit,omitempty"`
}

// PolicyChangeKind enumerates the lifecycle of a policy bundle change.
type PolicyChangeKind string

const (
	PolicyChangeCreated     PolicyChangeKind = "created"
	PolicyChangeUpdated     PolicyChangeKind = "updated"
	PolicyChangeActivated   PolicyChangeKind = "activated"
	PolicyChangeDeactivated PolicyChangeKind = "deactivated"
	PolicyChangeDeleted     PolicyChangeKind = "deleted"
	PolicyChangeRolledBack  PolicyChangeKind = "rolled-back"
)

// PolicyChangeRecord is an entry in the policy change log (§4.3).
type PolicyChangeRecord struct {
	ID          string           `json:"id"`
	Kind        PolicyChangeKind `json:"kind"`
	Version     int              `json:"version"`
	Actor       string           `json:"actor"`
	ContentHash string           `json:"content_hash"`
	Timestamp   time.Time        `json:"timestamp"`
}
