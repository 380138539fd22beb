package plugin

import (
	"context"

	"github.com/sark/gateway/pkg/gateway"
)

// RateLimitAware denies a request whose decision context carries a
// context["rate_limit_remaining"] of zero or less, giving policy authors
// a declarative hook on top of the Rate Limiter component itself. The
// Authorization Orchestrator does not set this key; it reaches the context
// only through RequestContext.Extra, and the plugin allows when it is absent.
type RateLimitAware struct {
	priority int
}

// NewRateLimitAware constructs a RateLimitAware plugin at the given priority.
func NewRateLimitAware(priority int) *RateLimitAware {
	return &RateLimitAware{priority: priority}
}

func (p *RateLimitAware) Name() string  { return "rate-limit" }
func (p *RateLimitAware) Priority() int { return p.priority }

func (p *RateLimitAware) Decide(ctx context.Context, input gateway.DecisionInput) gateway.Decision {
	remaining, ok := input.Context["rate_limit_remaining"].(float64)
	if !ok {
		return gateway.Decision{Allow: true}
	}
	if remaining <= 0 {
		return gateway.Decision{Allow: false, Reason: "rate-limit: no remaining headroom for this window"}
	}
	return gateway.Decision{Allow: true}
}
