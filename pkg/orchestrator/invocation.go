package orchestrator

import (
	"context"
	"time"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/internal/telemetry"
	"github.com/sark/gateway/pkg/budget"
	"github.com/sark/gateway/pkg/cost"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
	"github.com/sark/gateway/pkg/registry"
	"github.com/sark/gateway/pkg/siem"

	"github.com/google/uuid"
)

// InvocationConfig wires the collaborators the Invocation Orchestrator
// composes (§4.12).
type InvocationConfig struct {
	Registry   *registry.Registry
	Estimators EstimatorRegistry
	Budget     *budget.Controller
	Audit      AuditRecorder
	SIEM       *siem.Forwarder
	Logger     logging.ComponentAwareLogger
	Metrics    *telemetry.Metrics
	Now        func() time.Time
}

// InvocationOrchestrator runs the validate → invoke → post-record flow of
// §4.12, the step that follows a successful Authorize call.
type InvocationOrchestrator struct {
	cfg InvocationConfig
}

// NewInvocationOrchestrator constructs an InvocationOrchestrator.
func NewInvocationOrchestrator(cfg InvocationConfig) *InvocationOrchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOp()
	} else {
		cfg.Logger = cfg.Logger.WithComponent("orchestrator")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &InvocationOrchestrator{cfg: cfg}
}

// Invoke looks up the Adapter Registry by resource.Protocol, validates the
// (filtered) request, invokes the downstream capability, and records cost,
// budget, and audit side effects before returning the result.
func (o *InvocationOrchestrator) Invoke(ctx context.Context, principal gateway.Principal, req gateway.InvocationRequest, resource gateway.Resource, capability gateway.Capability) (gateway.InvocationResult, error) {
	adapter, ok := o.cfg.Registry.Lookup(resource.Protocol)
	if !ok {
		return gateway.InvocationResult{}, gwerrors.New(gwerrors.KindInternal, "orchestrator.Invoke", "no adapter registered for protocol "+string(resource.Protocol))
	}

	if validationErrs, err := adapter.ValidateRequest(ctx, req, capability); err != nil {
		return gateway.InvocationResult{}, gwerrors.Wrap(gwerrors.KindInternal, "orchestrator.Invoke", "validate request", err)
	} else if len(validationErrs) > 0 {
		o.recordAudit(ctx, principal, req, resource, capability, gateway.OutcomeFailure, 0, nil, "request failed schema validation")
		return gateway.InvocationResult{}, gwerrors.New(gwerrors.KindValidation, "orchestrator.Invoke", "request failed schema validation").
			WithDetails(map[string]interface{}{"errors": validationErrs})
	}

	start := o.cfg.Now()
	result, err := adapter.Invoke(ctx, req, resource, capability)
	durationMS := time.Since(start).Milliseconds()

	var actual *gateway.CostEstimate
	if o.cfg.Estimators != nil {
		estimator := o.cfg.Estimators.forResource(resource)
		actual = estimator.RecordActual(req, result, resource.Metadata)
		o.recordCost(ctx, estimator, principal, req, resource, capability, result, actual)
	}

	outcome := gateway.OutcomeSuccess
	if err != nil || !result.Success {
		outcome = gateway.OutcomeFailure
	}
	o.recordAudit(ctx, principal, req, resource, capability, outcome, durationMS, actual, reasonFor(result, err))

	if err != nil {
		return result, gwerrors.Wrap(gwerrors.KindInternal, "orchestrator.Invoke", "adapter invocation failed", err)
	}
	return result, nil
}

// InvokeStreaming mirrors Invoke but for a streaming adapter call; the
// terminal audit recording happens when the stream ends, inside
// drainStream, since duration and outcome are only known then. Unlike
// Invoke, it records no cost.
func (o *InvocationOrchestrator) InvokeStreaming(ctx context.Context, principal gateway.Principal, req gateway.InvocationRequest, resource gateway.Resource, capability gateway.Capability) (<-chan gateway.StreamChunk, error) {
	adapter, ok := o.cfg.Registry.Lookup(resource.Protocol)
	if !ok {
		return nil, gwerrors.New(gwerrors.KindInternal, "orchestrator.InvokeStreaming", "no adapter registered for protocol "+string(resource.Protocol))
	}
	if validationErrs, err := adapter.ValidateRequest(ctx, req, capability); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternal, "orchestrator.InvokeStreaming", "validate request", err)
	} else if len(validationErrs) > 0 {
		o.recordAudit(ctx, principal, req, resource, capability, gateway.OutcomeFailure, 0, nil, "request failed schema validation")
		return nil, gwerrors.New(gwerrors.KindValidation, "orchestrator.InvokeStreaming", "request failed schema validation").
			WithDetails(map[string]interface{}{"errors": validationErrs})
	}

	start := o.cfg.Now()
	upstream, err := adapter.InvokeStreaming(ctx, req, resource, capability)
	if err != nil {
		o.recordAudit(ctx, principal, req, resource, capability, gateway.OutcomeFailure, 0, nil, err.Error())
		return nil, gwerrors.Wrap(gwerrors.KindInternal, "orchestrator.InvokeStreaming", "start stream", err)
	}

	out := make(chan gateway.StreamChunk)
	go o.drainStream(ctx, upstream, out, start, principal, req, resource, capability)
	return out, nil
}

// drainStream relays every upstream chunk and records a single terminal
// audit event: once the upstream channel closes, or with a cancelled
// outcome when ctx is cancelled first. No cost record is written for a
// stream.
func (o *InvocationOrchestrator) drainStream(ctx context.Context, upstream <-chan gateway.StreamChunk, out chan<- gateway.StreamChunk, start time.Time, principal gateway.Principal, req gateway.InvocationRequest, resource gateway.Resource, capability gateway.Capability) {
	defer close(out)
	outcome := gateway.OutcomeSuccess
	var lastErr error

	for chunk := range upstream {
		if chunk.Err != nil {
			outcome = gateway.OutcomeFailure
			lastErr = chunk.Err
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			o.recordAudit(context.WithoutCancel(ctx), principal, req, resource, capability, gateway.OutcomeCancelled, time.Since(start).Milliseconds(), nil, ctx.Err().Error())
			return
		}
	}

	durationMS := time.Since(start).Milliseconds()
	reason := ""
	if lastErr != nil {
		reason = lastErr.Error()
	}
	o.recordAudit(ctx, principal, req, resource, capability, outcome, durationMS, nil, reason)
}

func (o *InvocationOrchestrator) recordCost(ctx context.Context, estimator cost.Estimator, principal gateway.Principal, req gateway.InvocationRequest, resource gateway.Resource, capability gateway.Capability, result gateway.InvocationResult, actual *gateway.CostEstimate) {
	if o.cfg.Budget == nil {
		return
	}
	estimate := estimator.Estimate(req, resource.Metadata)
	record := gateway.CostRecord{
		ID:           uuid.NewString(),
		PrincipalID:  principal.ID,
		ResourceID:   resource.ID,
		CapabilityID: capability.ID,
		Timestamp:    o.cfg.Now(),
		Estimated:    estimate.Amount,
		ProviderTag:  estimate.ProviderTag,
		Breakdown:    estimate.Breakdown,
		TraceID:      req.TraceID,
	}
	if actual != nil {
		record.Actual = &actual.Amount
		record.Breakdown = actual.Breakdown
	}
	if err := o.cfg.Budget.Record(ctx, record); err != nil {
		o.cfg.Logger.WarnContext(ctx, "budget record failed", map[string]interface{}{"error": err.Error()})
	}
}

func (o *InvocationOrchestrator) recordAudit(ctx context.Context, principal gateway.Principal, req gateway.InvocationRequest, resource gateway.Resource, capability gateway.Capability, outcome gateway.Outcome, durationMS int64, actual *gateway.CostEstimate, reason string) {
	details := map[string]interface{}{"reason": reason}
	if actual != nil {
		details["actual_cost"] = actual.Amount.String()
	}
	event := gateway.AuditEvent{
		EventType:  "invocation",
		Severity:   invocationSeverity(outcome),
		Actor:      gateway.Actor{ID: principal.ID, Type: principal.Type},
		Action:     req.CapabilityID,
		Resource:   gateway.AuditResourceRef{ID: resource.ID, Name: resource.Name},
		Capability: gateway.AuditCapabilityRef{Name: capability.Name},
		Decision:   gateway.DecisionAllow,
		Outcome:    outcome,
		DurationMS: durationMS,
		CorrelationID: req.TraceID,
		Details:    details,
	}
	auditID, err := o.cfg.Audit.Record(ctx, event)
	if err != nil {
		o.cfg.Logger.WarnContext(ctx, "audit record failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if o.cfg.SIEM != nil {
		o.cfg.SIEM.Enqueue(event, auditID)
	}
}

func invocationSeverity(outcome gateway.Outcome) gateway.Severity {
	if outcome == gateway.OutcomeFailure {
		return gateway.SeverityHigh
	}
	return gateway.SeverityLow
}

func reasonFor(result gateway.InvocationResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result.Error != nil {
		return result.Error.Message
	}
	return ""
}
