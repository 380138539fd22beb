package plugin

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sark/gateway/pkg/gateway"
)

// CostAware denies invocation of a capability whose estimated cost, read as
// a decimal string from context["estimated_cost"], exceeds a configured
// per-call ceiling. Neither orchestrator sets this key; it reaches the
// context only through RequestContext.Extra, and the plugin allows when it
// is absent or does not parse.
type CostAware struct {
	priority int
	ceiling  decimal.Decimal
}

// NewCostAware constructs a CostAware plugin with a per-call cost ceiling.
func NewCostAware(priority int, ceiling decimal.Decimal) *CostAware {
	return &CostAware{priority: priority, ceiling: ceiling}
}

func (p *CostAware) Name() string  { return "cost-aware" }
func (p *CostAware) Priority() int { return p.priority }

func (p *CostAware) Decide(ctx context.Context, input gateway.DecisionInput) gateway.Decision {
	raw, ok := input.Context["estimated_cost"].(string)
	if !ok {
		return gateway.Decision{Allow: true}
	}
	estimated, err := decimal.NewFromString(raw)
	if err != nil {
		return gateway.Decision{Allow: true}
	}
	if estimated.GreaterThan(p.ceiling) {
		return gateway.Decision{Allow: false, Reason: "cost-aware: estimated cost exceeds per-call ceiling"}
	}
	return gateway.Decision{Allow: true}
}
