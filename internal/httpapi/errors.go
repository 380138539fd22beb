package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sark/gateway/pkg/gwerrors"
)

// errorEnvelope is the wire shape of an error response body.
type errorEnvelope struct {
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorEnvelope{Kind: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForKind maps SARK's error taxonomy (§7) onto HTTP status codes.
func statusForKind(kind gwerrors.Kind) int {
	switch kind {
	case gwerrors.KindAuthentication:
		return http.StatusUnauthorized
	case gwerrors.KindAuthorization:
		return http.StatusForbidden
	case gwerrors.KindValidation:
		return http.StatusBadRequest
	case gwerrors.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case gwerrors.KindBudgetExceeded:
		return http.StatusPaymentRequired
	case gwerrors.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case gwerrors.KindAdapterTimeout:
		return http.StatusGatewayTimeout
	case gwerrors.KindAdapterConnection, gwerrors.KindAdapterProtocol:
		return http.StatusBadGateway
	case gwerrors.KindSandboxViolation:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeGatewayError renders a gwerrors.Error onto the HTTP response,
// folding its Kind into status + wire-taxonomy string and surfacing any
// non-secret Details (e.g. retry_after_seconds) directly.
func writeGatewayError(w http.ResponseWriter, err error) {
	kind := gwerrors.KindOf(err)
	status := statusForKind(kind)

	var details map[string]interface{}
	var ge *gwerrors.Error
	if asGatewayError(err, &ge) {
		details = ge.Details
		if kind == gwerrors.KindRateLimitExceeded {
			if seconds, ok := details["retry_after_seconds"].(float64); ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(seconds)))
			}
		}
	}
	writeJSON(w, status, errorEnvelope{Kind: string(kind), Message: err.Error(), Details: details})
}

func asGatewayError(err error, target **gwerrors.Error) bool {
	ge, ok := err.(*gwerrors.Error)
	if !ok {
		return false
	}
	*target = ge
	return true
}
