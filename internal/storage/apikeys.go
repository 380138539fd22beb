package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
)

// APIKeyStore looks up provisioned API keys from Postgres, implementing
// principal.APIKeyStore against the api_keys table.
type APIKeyStore struct {
	db DB
}

// NewAPIKeyStore constructs a Postgres-backed APIKeyStore.
func NewAPIKeyStore(db DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// Lookup returns the bcrypt secret hash and the principal record associated
// with keyID, or an error if no such key is provisioned.
func (s *APIKeyStore) Lookup(ctx context.Context, keyID string) (string, gateway.Principal, error) {
	row := s.db.QueryRow(ctx,
		`SELECT secret_hash, principal_id, principal_type, roles, teams, permissions, trust, environment, revoked_at
		 FROM api_keys WHERE key_id = $1`,
		keyID)

	var hash, principalID, principalType, trust string
	var environment *string
	var roles, teams, permissions []string
	var revokedAt *time.Time
	if err := row.Scan(&hash, &principalID, &principalType, &roles, &teams, &permissions, &trust, &environment, &revokedAt); err != nil {
		if err == pgx.ErrNoRows {
			return "", gateway.Principal{}, gwerrors.New(gwerrors.KindAuthentication, "storage.APIKeyStore.Lookup", "unknown api key")
		}
		return "", gateway.Principal{}, gwerrors.Wrap(gwerrors.KindInternal, "storage.APIKeyStore.Lookup", "query api key", err)
	}

	p := gateway.Principal{
		ID:          principalID,
		Type:        gateway.PrincipalType(principalType),
		Roles:       roles,
		Teams:       teams,
		Permissions: permissions,
		Trust:       gateway.TrustLevel(trust),
		RevokedAt:   revokedAt,
	}
	if environment != nil {
		p.Environment = *environment
	}
	return hash, p, nil
}
