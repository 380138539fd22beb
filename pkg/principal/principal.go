// Package principal implements SARK's authentication layer (§4.11 step 1):
// JWT bearer tokens via golang-jwt/jwt/v5 and API keys hashed with
// golang.org/x/crypto/bcrypt, both already in the teacher's go.mod. A
// principal failing validation — missing, malformed, expired, or revoked —
// is rejected with gwerrors.KindAuthentication, never a bare error, so the
// Authorization Orchestrator can fail closed uniformly.
package principal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
)

// Credential is the caller-supplied material to authenticate.
type Credential struct {
	BearerToken string
	APIKey      string
}

// Authenticator resolves a Credential into a gateway.Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential) (gateway.Principal, error)
}

// APIKeyStore looks up the bcrypt hash and bound principal for an API key
// id, the external identity interface §4.11 step 1 calls out.
type APIKeyStore interface {
	Lookup(ctx context.Context, keyID string) (hash string, p gateway.Principal, err error)
}

// JWTConfig configures bearer-token validation.
type JWTConfig struct {
	Issuer    string
	Audience  string
	Algorithm string
	Secret    []byte // HMAC secret, or a PEM-encoded public key for RS/PS/ES algorithms
}

// Claims is SARK's expected JWT claim shape.
type Claims struct {
	jwt.RegisteredClaims
	Roles        []string `json:"roles"`
	Teams        []string `json:"teams"`
	Permissions  []string `json:"permissions"`
	Capabilities []string `json:"capabilities"`
	Type         string   `json:"type"`
	Trust        string   `json:"trust"`
	Environment  string   `json:"environment"`
}

// CompositeAuthenticator dispatches to JWT or API-key validation depending
// on which credential field is populated.
type CompositeAuthenticator struct {
	jwtConfig JWTConfig
	apiKeys   APIKeyStore
	revoked   RevocationChecker
	now       func() time.Time
}

// RevocationChecker reports whether a principal id has been revoked out of
// band of the token/key's own embedded revocation instant (e.g. an admin
// kill switch). Optional: a nil checker skips this check.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, principalID string) (bool, error)
}

// Option customizes a CompositeAuthenticator.
type Option func(*CompositeAuthenticator)

func WithRevocationChecker(r RevocationChecker) Option {
	return func(c *CompositeAuthenticator) { c.revoked = r }
}

// New constructs a CompositeAuthenticator.
func New(jwtConfig JWTConfig, apiKeys APIKeyStore, opts ...Option) *CompositeAuthenticator {
	c := &CompositeAuthenticator{jwtConfig: jwtConfig, apiKeys: apiKeys, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate rejects on missing/invalid/expired/revoked credentials, per
// §4.11 step 1.
func (c *CompositeAuthenticator) Authenticate(ctx context.Context, cred Credential) (gateway.Principal, error) {
	var (
		p   gateway.Principal
		err error
	)
	switch {
	case cred.BearerToken != "":
		p, err = c.authenticateJWT(cred.BearerToken)
	case cred.APIKey != "":
		p, err = c.authenticateAPIKey(ctx, cred.APIKey)
	default:
		return gateway.Principal{}, gwerrors.New(gwerrors.KindAuthentication, "principal.Authenticate", "no credential supplied")
	}
	if err != nil {
		return gateway.Principal{}, err
	}

	now := c.now()
	if p.IsRevoked(now) {
		return gateway.Principal{}, gwerrors.New(gwerrors.KindAuthentication, "principal.Authenticate", "principal revoked")
	}
	if c.revoked != nil {
		revoked, checkErr := c.revoked.IsRevoked(ctx, p.ID)
		if checkErr != nil {
			return gateway.Principal{}, gwerrors.Wrap(gwerrors.KindAuthentication, "principal.Authenticate", "revocation check failed", checkErr)
		}
		if revoked {
			return gateway.Principal{}, gwerrors.New(gwerrors.KindAuthentication, "principal.Authenticate", "principal revoked")
		}
	}
	return p, nil
}

func (c *CompositeAuthenticator) authenticateJWT(tokenString string) (gateway.Principal, error) {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.jwtConfig.Algorithm {
			return nil, errors.New("unexpected signing algorithm")
		}
		switch alg := c.jwtConfig.Algorithm; {
		case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
			return jwt.ParseRSAPublicKeyFromPEM(c.jwtConfig.Secret)
		case strings.HasPrefix(alg, "ES"):
			return jwt.ParseECPublicKeyFromPEM(c.jwtConfig.Secret)
		}
		return c.jwtConfig.Secret, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
		jwt.WithIssuer(c.jwtConfig.Issuer),
		jwt.WithAudience(c.jwtConfig.Audience),
		jwt.WithValidMethods([]string{c.jwtConfig.Algorithm}),
	)
	if err != nil || !token.Valid {
		return gateway.Principal{}, gwerrors.Wrap(gwerrors.KindAuthentication, "principal.authenticateJWT", "invalid or expired token", err)
	}

	var revokedAt *time.Time
	p := gateway.Principal{
		ID:           claims.Subject,
		Type:         principalTypeOf(claims.Type),
		Roles:        claims.Roles,
		Teams:        claims.Teams,
		Permissions:  claims.Permissions,
		Capabilities: claims.Capabilities,
		Trust:        trustLevelOf(claims.Trust),
		Environment:  claims.Environment,
		RevokedAt:    revokedAt,
	}
	return p, nil
}

func (c *CompositeAuthenticator) authenticateAPIKey(ctx context.Context, apiKey string) (gateway.Principal, error) {
	if c.apiKeys == nil {
		return gateway.Principal{}, gwerrors.New(gwerrors.KindAuthentication, "principal.authenticateAPIKey", "api key authentication not configured")
	}
	keyID, secret, ok := splitAPIKey(apiKey)
	if !ok {
		return gateway.Principal{}, gwerrors.New(gwerrors.KindAuthentication, "principal.authenticateAPIKey", "malformed api key")
	}
	hash, p, err := c.apiKeys.Lookup(ctx, keyID)
	if err != nil {
		return gateway.Principal{}, gwerrors.Wrap(gwerrors.KindAuthentication, "principal.authenticateAPIKey", "api key lookup failed", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		return gateway.Principal{}, gwerrors.New(gwerrors.KindAuthentication, "principal.authenticateAPIKey", "api key mismatch")
	}
	return p, nil
}

// HashAPIKey bcrypt-hashes a raw API key secret for storage.
func HashAPIKey(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.KindInternal, "principal.HashAPIKey", "hash generation failed", err)
	}
	return string(hash), nil
}

// splitAPIKey splits a "<key-id>.<secret>" formatted API key.
func splitAPIKey(apiKey string) (keyID, secret string, ok bool) {
	idx := strings.IndexByte(apiKey, '.')
	if idx <= 0 || idx == len(apiKey)-1 {
		return "", "", false
	}
	return apiKey[:idx], apiKey[idx+1:], true
}

func principalTypeOf(s string) gateway.PrincipalType {
	switch gateway.PrincipalType(s) {
	case gateway.PrincipalHuman, gateway.PrincipalService, gateway.PrincipalAgent, gateway.PrincipalDevice:
		return gateway.PrincipalType(s)
	default:
		return gateway.PrincipalHuman
	}
}

func trustLevelOf(s string) gateway.TrustLevel {
	switch gateway.TrustLevel(s) {
	case gateway.TrustTrusted, gateway.TrustLimited, gateway.TrustUntrusted:
		return gateway.TrustLevel(s)
	default:
		return gateway.TrustUntrusted
	}
}
