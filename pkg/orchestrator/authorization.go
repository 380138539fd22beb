// Package orchestrator implements SARK's Authorization Orchestrator (§4.11)
// and Invocation Orchestrator (§4.12): the two request-scoped flows that
// stitch every other component (principal authentication, rate limiting,
// decision cache, policy engine, budget controller, parameter filter,
// adapter registry, cost estimator, audit recorder, SIEM forwarder)
// together into the single call path a caller sees. Grounded on the
// teacher's own composition-root pattern of orchestrating independently
// testable components behind one entrypoint method rather than a god
// object — see core/orchestrator.go's AIOrchestrator.Execute phase
// sequencing (classify → route → execute → synthesize).
package orchestrator

import (
	"context"
	"time"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/internal/telemetry"
	"github.com/sark/gateway/pkg/budget"
	"github.com/sark/gateway/pkg/cache"
	"github.com/sark/gateway/pkg/cost"
	"github.com/sark/gateway/pkg/filter"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
	"github.com/sark/gateway/pkg/principal"
	"github.com/sark/gateway/pkg/ratelimit"
	"github.com/sark/gateway/pkg/siem"
)

// AuthorizationRequest is the caller-facing input to Authorize (§7's
// "Authorization request" wire shape).
type AuthorizationRequest struct {
	Action       string
	ResourceID   string
	CapabilityID string
	Arguments    map[string]interface{}
	Context      gateway.RequestContext
	Credential   principal.Credential
}

// AuthorizationResponse is the caller-facing output of Authorize.
type AuthorizationResponse struct {
	Allow             bool
	Reason            string
	FilteredArguments map[string]interface{}
	AuditID           string
	CacheTTLSeconds   int
	Principal         gateway.Principal
	Resource          gateway.Resource
	Capability        gateway.Capability
}

// EstimatorRegistry selects a cost.Estimator by provider tag, read from a
// resource's metadata["provider"] field.
type EstimatorRegistry map[string]cost.Estimator

func (r EstimatorRegistry) forResource(resource gateway.Resource) cost.Estimator {
	tag, _ := resource.Metadata["provider"].(string)
	if e, ok := r[tag]; ok {
		return e
	}
	return cost.NewFreeEstimator(tag)
}

// RateLimitConfig names the limit/window applied per request, per §4.2.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// Config wires every collaborator the Authorization Orchestrator composes.
type Config struct {
	Authenticator principal.Authenticator
	Limiter       ratelimit.Limiter
	RateLimit     RateLimitConfig
	Resolver      ResourceResolver
	Cache         cache.DecisionCache
	Policy        gateway.PolicyEngine
	Budget        *budget.Controller
	Filter        *filter.Filter
	Estimators    EstimatorRegistry
	Audit         AuditRecorder
	SIEM          *siem.Forwarder
	Logger        logging.ComponentAwareLogger
	Metrics       *telemetry.Metrics
	Now           func() time.Time
}

// AuditRecorder is the subset of audit.Recorder the orchestrators need,
// narrowed to an interface so tests can substitute a fake.
type AuditRecorder interface {
	Record(ctx context.Context, event gateway.AuditEvent) (string, error)
}

// AuthorizationOrchestrator runs the 8-step flow of §4.11.
type AuthorizationOrchestrator struct {
	cfg Config
}

// NewAuthorizationOrchestrator constructs an AuthorizationOrchestrator.
func NewAuthorizationOrchestrator(cfg Config) *AuthorizationOrchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOp()
	} else {
		cfg.Logger = cfg.Logger.WithComponent("orchestrator")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AuthorizationOrchestrator{cfg: cfg}
}

// Authorize runs the full authorization flow for a single
// (principal, action, target) request.
func (o *AuthorizationOrchestrator) Authorize(ctx context.Context, req AuthorizationRequest) (AuthorizationResponse, error) {
	cfg := o.cfg

	// Step 1: authenticate.
	p, err := cfg.Authenticator.Authenticate(ctx, req.Credential)
	if err != nil {
		o.auditDenied(ctx, gateway.Actor{}, req, "authentication failed")
		return AuthorizationResponse{}, err
	}

	// Step 2: rate limit.
	identifier := ratelimit.Identifier(req.Credential.APIKey, p.ID, "", req.Context.ClientIP)
	rlResult, err := cfg.Limiter.Check(ctx, identifier, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	if err != nil {
		return AuthorizationResponse{}, gwerrors.Wrap(gwerrors.KindInternal, "orchestrator.Authorize", "rate limit check failed", err)
	}
	if !rlResult.Allowed {
		o.auditDenied(ctx, actorFor(p), req, "rate limit exceeded")
		return AuthorizationResponse{}, gwerrors.New(gwerrors.KindRateLimitExceeded, "orchestrator.Authorize", "rate limit exceeded").
			WithDetails(map[string]interface{}{"retry_after_seconds": rlResult.RetryAfter.Seconds()})
	}

	// Step 3: assemble decision input.
	resource, err := cfg.Resolver.Resource(ctx, req.ResourceID)
	if err != nil {
		o.auditError(ctx, actorFor(p), req, "resource resolution failed")
		return AuthorizationResponse{}, gwerrors.Wrap(gwerrors.KindInternal, "orchestrator.Authorize", "resolve resource", err)
	}
	capability, err := cfg.Resolver.Capability(ctx, req.CapabilityID)
	if err != nil {
		o.auditError(ctx, actorFor(p), req, "capability resolution failed")
		return AuthorizationResponse{}, gwerrors.Wrap(gwerrors.KindInternal, "orchestrator.Authorize", "resolve capability", err)
	}

	decisionInput := gateway.DecisionInput{
		Principal:  p,
		Resource:   resource,
		Capability: capability,
		Action:     req.Action,
		Arguments:  req.Arguments,
		Context:    contextToMap(req.Context),
	}
	cacheKey := gateway.CacheKeyInput{
		PrincipalID:    p.ID,
		Action:         req.Action,
		ResourceID:     req.ResourceID,
		CapabilityID:   req.CapabilityID,
		SalientContext: salientContext(req.Context),
	}

	// Step 4: cache lookup.
	if cfg.Cache != nil {
		if decision, hit := cfg.Cache.Get(ctx, cacheKey); hit {
			filtered := o.applyFilter(req.Arguments, decision.Directives)
			auditID := o.recordAudit(ctx, actorFor(p), req, resource, capability, decision.Allow, decision.Reason, true, 0)
			return AuthorizationResponse{
				Allow: decision.Allow, Reason: decision.Reason, FilteredArguments: filtered,
				AuditID: auditID, CacheTTLSeconds: decision.CacheTTLSeconds,
				Principal: p, Resource: resource, Capability: capability,
			}, nil
		}
	}

	// Step 5: policy evaluation on miss.
	decision, err := cfg.Policy.Evaluate(ctx, decisionInput)
	if err != nil {
		o.auditError(ctx, actorFor(p), req, "policy evaluation failed")
		return AuthorizationResponse{}, gwerrors.Wrap(gwerrors.KindInternal, "orchestrator.Authorize", "policy evaluate", err)
	}

	// Step 6: cost/budget check on allow.
	if decision.Allow && cfg.Budget != nil {
		estimator := cfg.Estimators.forResource(resource)
		estimate := estimator.Estimate(gateway.InvocationRequest{Arguments: req.Arguments}, resource.Metadata)
		checkResult, err := cfg.Budget.CheckBudget(ctx, p.ID, estimate.Amount)
		if err != nil {
			o.auditError(ctx, actorFor(p), req, "budget check failed")
			return AuthorizationResponse{}, gwerrors.Wrap(gwerrors.KindInternal, "orchestrator.Authorize", "budget check", err)
		}
		if !checkResult.Allowed {
			decision.Allow = false
			decision.Reason = checkResult.Reason
		}
	}

	// Step 7: compute/apply TTL and cache.
	if decision.CacheTTLSeconds == 0 {
		decision.CacheTTLSeconds = defaultTTLSeconds(capability.EffectiveSensitivity(&resource))
	}
	if cfg.Cache != nil && decision.CacheTTLSeconds > 0 {
		_ = cfg.Cache.Set(ctx, cacheKey, capability.EffectiveSensitivity(&resource), decision)
	}

	// Step 8: apply Parameter Filter.
	filtered := decision.FilteredArguments
	if filtered == nil {
		filtered = o.applyFilter(req.Arguments, decision.Directives)
	}

	// Step 9: record audit, return.
	outcome := gateway.DecisionDeny
	if decision.Allow {
		outcome = gateway.DecisionAllow
	}
	auditID := o.recordAuditOutcome(ctx, actorFor(p), req, resource, capability, outcome, decision.Reason, false, 0)

	return AuthorizationResponse{
		Allow: decision.Allow, Reason: decision.Reason, FilteredArguments: filtered,
		AuditID: auditID, CacheTTLSeconds: decision.CacheTTLSeconds,
		Principal: p, Resource: resource, Capability: capability,
	}, nil
}

func (o *AuthorizationOrchestrator) applyFilter(args map[string]interface{}, directives []gateway.FilterDirective) map[string]interface{} {
	if o.cfg.Filter == nil || len(directives) == 0 {
		return args
	}
	return o.cfg.Filter.Apply(args, directives)
}

func defaultTTLSeconds(s gateway.Sensitivity) int {
	switch s {
	case gateway.SensitivityLow:
		return 1800
	case gateway.SensitivityMedium:
		return 300
	case gateway.SensitivityHigh:
		return 60
	default:
		return 0
	}
}

func actorFor(p gateway.Principal) gateway.Actor {
	return gateway.Actor{ID: p.ID, Type: p.Type}
}

func contextToMap(c gateway.RequestContext) map[string]interface{} {
	out := map[string]interface{}{
		"client_ip":      c.ClientIP,
		"geo_country":    c.GeoCountry,
		"session_id":     c.SessionID,
		"request_id":     c.RequestID,
		"vpn":            c.VPN,
		"business_hours": c.BusinessHours,
		"user_agent":     c.UserAgent,
	}
	for k, v := range c.Extra {
		out[k] = v
	}
	return out
}

// salientContext is the policy-relevant subset of context safe to fold into
// a cache key — never arbitrary argument values, per §4.1.
func salientContext(c gateway.RequestContext) map[string]interface{} {
	return map[string]interface{}{
		"geo_country":    c.GeoCountry,
		"vpn":            c.VPN,
		"business_hours": c.BusinessHours,
	}
}

func (o *AuthorizationOrchestrator) auditDenied(ctx context.Context, actor gateway.Actor, req AuthorizationRequest, reason string) {
	o.recordAuditOutcome(ctx, actor, req, gateway.Resource{ID: req.ResourceID}, gateway.Capability{ID: req.CapabilityID}, gateway.DecisionDeny, reason, false, 0)
}

func (o *AuthorizationOrchestrator) auditError(ctx context.Context, actor gateway.Actor, req AuthorizationRequest, reason string) {
	o.recordAuditOutcome(ctx, actor, req, gateway.Resource{ID: req.ResourceID}, gateway.Capability{ID: req.CapabilityID}, gateway.DecisionError, reason, false, 0)
}

func (o *AuthorizationOrchestrator) recordAudit(ctx context.Context, actor gateway.Actor, req AuthorizationRequest, resource gateway.Resource, capability gateway.Capability, allow bool, reason string, cacheHit bool, durationMS int64) string {
	outcome := gateway.DecisionDeny
	if allow {
		outcome = gateway.DecisionAllow
	}
	return o.recordAuditOutcome(ctx, actor, req, resource, capability, outcome, reason, cacheHit, durationMS)
}

func (o *AuthorizationOrchestrator) recordAuditOutcome(ctx context.Context, actor gateway.Actor, req AuthorizationRequest, resource gateway.Resource, capability gateway.Capability, outcome gateway.DecisionOutcome, reason string, cacheHit bool, durationMS int64) string {
	event := gateway.AuditEvent{
		EventType:  "authorization",
		Severity:   severityFor(outcome),
		Actor:      actor,
		Action:     req.Action,
		Resource:   gateway.AuditResourceRef{ID: resource.ID, Name: resource.Name},
		Capability: gateway.AuditCapabilityRef{Name: capability.Name},
		Decision:   outcome,
		Outcome:    gateway.OutcomeSuccess,
		DurationMS: durationMS,
		Network:    gateway.NetworkInfo{ClientIP: req.Context.ClientIP, UserAgent: req.Context.UserAgent},
		CacheHit:   cacheHit,
		Details:    map[string]interface{}{"reason": reason},
	}
	auditID, err := o.cfg.Audit.Record(ctx, event)
	if err != nil {
		o.cfg.Logger.WarnContext(ctx, "audit record failed", map[string]interface{}{"error": err.Error()})
		return ""
	}
	if o.cfg.SIEM != nil {
		o.cfg.SIEM.Enqueue(event, auditID)
	}
	return auditID
}

func severityFor(outcome gateway.DecisionOutcome) gateway.Severity {
	switch outcome {
	case gateway.DecisionError:
		return gateway.SeverityHigh
	case gateway.DecisionDeny:
		return gateway.SeverityMedium
	default:
		return gateway.SeverityLow
	}
}
