// Package plugin provides concrete decision plugins for SARK's Policy
// Engine (§4.3's "representative plugins: business-hours, rate-limit,
// cost-aware"), implementing the policy.Plugin interface.
package plugin

import (
	"context"

	"github.com/sark/gateway/pkg/gateway"
)

// BusinessHours denies high/critical sensitivity capabilities invoked
// outside business hours, as signalled by RequestContext.BusinessHours.
type BusinessHours struct {
	priority int
}

// NewBusinessHours constructs a BusinessHours plugin at the given priority.
func NewBusinessHours(priority int) *BusinessHours {
	return &BusinessHours{priority: priority}
}

func (p *BusinessHours) Name() string   { return "business-hours" }
func (p *BusinessHours) Priority() int  { return p.priority }

func (p *BusinessHours) Decide(ctx context.Context, input gateway.DecisionInput) gateway.Decision {
	sensitivity := input.Capability.EffectiveSensitivity(&input.Resource)
	if sensitivity != gateway.SensitivityHigh && sensitivity != gateway.SensitivityCritical {
		return gateway.Decision{Allow: true}
	}

	businessHours, _ := input.Context["business_hours"].(bool)
	if businessHours {
		return gateway.Decision{Allow: true}
	}
	return gateway.Decision{Allow: false, Reason: "business-hours: high-sensitivity capability invoked outside business hours"}
}
