package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
	"github.com/sark/gateway/pkg/orchestrator"
	"github.com/sark/gateway/pkg/principal"
)

// authorizeRequestBody is the §6 wire shape of an Authorization request.
type authorizeRequestBody struct {
	Action       string                 `json:"action"`
	ResourceID   string                 `json:"resource_id"`
	CapabilityID string                 `json:"capability_id"`
	Arguments    map[string]interface{} `json:"arguments"`
	Context      requestContextBody     `json:"context"`
}

type requestContextBody struct {
	GeoCountry    string `json:"geo_country"`
	SessionID     string `json:"session_id"`
	VPN           bool   `json:"vpn"`
	BusinessHours bool   `json:"business_hours"`
}

type authorizeResponseBody struct {
	Allow             bool                   `json:"allow"`
	Reason            string                 `json:"reason,omitempty"`
	FilteredArguments map[string]interface{} `json:"filtered_arguments,omitempty"`
	AuditID           string                 `json:"audit_id"`
	CacheTTLSeconds   int                    `json:"cache_ttl_seconds"`
}

type invokeRequestBody struct {
	ResourceID   string                 `json:"resource_id"`
	CapabilityID string                 `json:"capability_id"`
	Arguments    map[string]interface{} `json:"arguments"`
	Context      requestContextBody     `json:"context"`
}

// credentialFromHeader extracts a bearer JWT or API key from the standard
// Authorization / X-API-Key headers, per §6's external interface.
func credentialFromHeader(r *http.Request) principal.Credential {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return principal.Credential{BearerToken: strings.TrimPrefix(auth, "Bearer ")}
	}
	return principal.Credential{APIKey: r.Header.Get("X-API-Key")}
}

func requestContext(r *http.Request, body requestContextBody) gateway.RequestContext {
	return gateway.RequestContext{
		ClientIP:      clientIP(r),
		GeoCountry:    body.GeoCountry,
		SessionID:     body.SessionID,
		RequestID:     r.Header.Get("X-Request-ID"),
		VPN:           body.VPN,
		BusinessHours: body.BusinessHours,
		UserAgent:     r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}

// Server exposes the Authorization/Invocation orchestrators over HTTP.
type Server struct {
	authz *orchestrator.AuthorizationOrchestrator
	inv   *orchestrator.InvocationOrchestrator
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var body authorizeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerrors.KindValidation), "malformed request body")
		return
	}

	resp, err := s.authz.Authorize(r.Context(), orchestrator.AuthorizationRequest{
		Action:       body.Action,
		ResourceID:   body.ResourceID,
		CapabilityID: body.CapabilityID,
		Arguments:    body.Arguments,
		Context:      requestContext(r, body.Context),
		Credential:   credentialFromHeader(r),
	})
	if err != nil {
		writeRateLimitHeaders(w, err)
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authorizeResponseBody{
		Allow:             resp.Allow,
		Reason:            resp.Reason,
		FilteredArguments: resp.FilteredArguments,
		AuditID:           resp.AuditID,
		CacheTTLSeconds:   resp.CacheTTLSeconds,
	})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var body invokeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerrors.KindValidation), "malformed request body")
		return
	}

	cred := credentialFromHeader(r)
	authResp, err := s.authz.Authorize(r.Context(), orchestrator.AuthorizationRequest{
		Action:       "invoke",
		ResourceID:   body.ResourceID,
		CapabilityID: body.CapabilityID,
		Arguments:    body.Arguments,
		Context:      requestContext(r, body.Context),
		Credential:   cred,
	})
	if err != nil {
		writeRateLimitHeaders(w, err)
		writeGatewayError(w, err)
		return
	}
	if !authResp.Allow {
		writeJSON(w, http.StatusForbidden, authorizeResponseBody{
			Allow: false, Reason: authResp.Reason, AuditID: authResp.AuditID,
		})
		return
	}

	result, err := s.inv.Invoke(r.Context(), authResp.Principal, gateway.InvocationRequest{
		CapabilityID: body.CapabilityID,
		PrincipalID:  authResp.Principal.ID,
		Arguments:    authResp.FilteredArguments,
		TraceID:      uuid.NewString(),
	}, authResp.Resource, authResp.Capability)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeRateLimitHeaders sets Retry-After, in whole seconds, when the
// orchestrator returned a rate-limit-exceeded error. No response carries
// X-RateLimit-Limit, X-RateLimit-Remaining or X-RateLimit-Reset.
func writeRateLimitHeaders(w http.ResponseWriter, err error) {
	ge, ok := err.(*gwerrors.Error)
	if !ok || ge.Kind != gwerrors.KindRateLimitExceeded {
		return
	}
	if seconds, ok := ge.Details["retry_after_seconds"].(float64); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(seconds)))
	}
}
