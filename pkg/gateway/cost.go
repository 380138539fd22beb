package gateway

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostBreakdown captures the line items behind an estimate or actual cost.
// All monetary fields use decimal — never float (§9 Design Notes).
type CostBreakdown struct {
	InputTokens   int64           `json:"input_tokens,omitempty"`
	OutputTokens  int64           `json:"output_tokens,omitempty"`
	InputUnitCost decimal.Decimal `json:"input_unit_cost,omitempty"`
	OutputUnitCost decimal.Decimal `json:"output_unit_cost,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// CostEstimate is what a Cost Estimator produces pre-call and, when actuals
// are available, post-call.
type CostEstimate struct {
	ProviderTag string          `json:"provider_tag"`
	Amount      decimal.Decimal `json:"amount"`
	Breakdown   CostBreakdown   `json:"breakdown"`
	Warning     string          `json:"warning,omitempty"`
}

// CostRecord is the durable per-invocation cost accounting record (§3).
type CostRecord struct {
	ID           string          `json:"id"`
	PrincipalID  string          `json:"principal_id"`
	ResourceID   string          `json:"resource_id"`
	CapabilityID string          `json:"capability_id"`
	Timestamp    time.Time       `json:"timestamp"`
	Estimated    decimal.Decimal `json:"estimated"`
	Actual       *decimal.Decimal `json:"actual,omitempty"`
	ProviderTag  string          `json:"provider_tag"`
	Breakdown    CostBreakdown   `json:"breakdown"`
	TraceID      string          `json:"trace_id"`
}

// EffectiveCost returns the actual cost when known, else the estimate,
// matching the Budget Controller's "record uses actual if available" rule.
func (r CostRecord) EffectiveCost() decimal.Decimal {
	if r.Actual != nil {
		return *r.Actual
	}
	return r.Estimated
}

// Budget is a principal's rolling spending envelope (§3, §4.8).
type Budget struct {
	PrincipalID string          `json:"principal_id"`
	DailyLimit  *decimal.Decimal `json:"daily_limit,omitempty"` // nil = unlimited
	DailySpent  decimal.Decimal `json:"daily_spent"`
	PeriodStart time.Time       `json:"period_start"`
}

// Remaining returns limit - spent, or a nil-safe zero when unlimited.
func (b Budget) Remaining() (decimal.Decimal, bool) {
	if b.DailyLimit == nil {
		return decimal.Zero, false
	}
	return b.DailyLimit.Sub(b.DailySpent), true
}
