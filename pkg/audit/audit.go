// Package audit implements SARK's Audit Recorder (§4.9): an append-only,
// Postgres-backed event log with a per-event SHA-256 integrity hash over
// canonicalized event bytes. The repository pattern (parameterized INSERT,
// JSON-marshalled detail columns) is grounded on
// Hola-to-network_logistics_problem/services/audit-svc/internal/repository/postgres.go;
// SARK never exposes an Update/Delete path at all, rather than relying on
// a storage-layer permission check to reject one, since the absence of the
// method is a stronger guarantee than a runtime-enforced rejection.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/internal/storage"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
)

// MinRetention is the minimum retention period SARK will configure (§4.9).
const MinRetention = 90 * 24 * time.Hour

// Recorder is the Audit Recorder.
type Recorder struct {
	db        storage.DB
	retention time.Duration
	logger    logging.ComponentAwareLogger
}

// Option customizes a Recorder.
type Option func(*Recorder)

func WithLogger(l logging.ComponentAwareLogger) Option {
	return func(r *Recorder) { r.logger = l.WithComponent("audit") }
}

// New constructs a Recorder. retention below MinRetention is clamped up to it.
func New(db storage.DB, retention time.Duration, opts ...Option) *Recorder {
	if retention < MinRetention {
		retention = MinRetention
	}
	r := &Recorder{db: db, retention: retention, logger: logging.NoOp()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// integrityHash computes SHA-256 over the event's canonical JSON
// representation, excluding the hash field itself.
func integrityHash(event gateway.AuditEvent) (string, error) {
	event.IntegrityHash = ""
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Record writes event to durable storage synchronously, returning its
// audit id only once the write has committed (§4.9: "event written to
// durable storage before the caller's response").
func (r *Recorder) Record(ctx context.Context, event gateway.AuditEvent) (string, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	hash, err := integrityHash(event)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.KindInternal, "audit.Record", "compute integrity hash", err)
	}
	event.IntegrityHash = hash

	details, err := json.Marshal(event.Details)
	if err != nil {
		details = []byte("{}")
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO audit_events (
			id, ts, event_type, severity, actor_id, actor_email, actor_type,
			action, resource_id, resource_name, capability_name,
			decision, outcome, duration_ms, policy_bundle, policy_version,
			client_ip, user_agent, correlation_id, cache_hit, details, integrity_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		event.ID, event.Timestamp, event.EventType, string(event.Severity),
		event.Actor.ID, event.Actor.Email, string(event.Actor.Type),
		event.Action, event.Resource.ID, event.Resource.Name, event.Capability.Name,
		string(event.Decision), string(event.Outcome), event.DurationMS,
		event.Policy.Bundle, event.Policy.Version,
		event.Network.ClientIP, event.Network.UserAgent, event.CorrelationID, event.CacheHit,
		details, event.IntegrityHash,
	)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.KindInternal, "audit.Record", "insert audit event", err)
	}
	return event.ID, nil
}

// VerifyIntegrity recomputes the hash over the event as read and compares
// it against the stored hash, re-verifying on read per §4.9.
func VerifyIntegrity(event gateway.AuditEvent) (bool, error) {
	want := event.IntegrityHash
	got, err := integrityHash(event)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// RecordPolicyChange appends a policy change log entry (§4.3) to the same
// durable store.
func (r *Recorder) RecordPolicyChange(ctx context.Context, record gateway.PolicyChangeRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO policy_change_log (id, kind, version, actor, content_hash, ts)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		record.ID, string(record.Kind), record.Version, record.Actor, record.ContentHash, record.Timestamp,
	)
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindInternal, "audit.RecordPolicyChange", "insert policy change", err)
	}
	return nil
}
