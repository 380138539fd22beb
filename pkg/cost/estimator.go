// Package cost implements SARK's Cost Estimator (§4.7): per-provider
// pricing models producing decimal cost estimates and, when a downstream
// response carries usage data, actuals. The provider-configuration shape
// (model id, per-provider settings map) is grounded on
// pickjonathan-sdek-cli/pkg/types/provider.go's ProviderConfig; all
// arithmetic uses shopspring/decimal, per §9's "no float" design note.
package cost

import (
	"github.com/shopspring/decimal"

	"github.com/sark/gateway/pkg/gateway"
)

// charsPerToken is the heuristic used absent a precise tokenizer (§4.7).
const charsPerToken = 4

// Estimator is the Cost Estimator contract, keyed per provider tag.
type Estimator interface {
	ProviderName() string
	Estimate(request gateway.InvocationRequest, resourceMetadata map[string]interface{}) gateway.CostEstimate
	RecordActual(request gateway.InvocationRequest, result gateway.InvocationResult, resourceMetadata map[string]interface{}) *gateway.CostEstimate
}

// ModelPricing is the (input-$/M, output-$/M) rate card for one model id.
type ModelPricing struct {
	InputPerMillion  decimal.Decimal
	OutputPerMillion decimal.Decimal
}

// defaultPricing is used when a model id has no configured rate card
// (§4.7: "Missing model → default pricing with a warning").
var defaultPricing = ModelPricing{
	InputPerMillion:  decimal.NewFromFloat(1.00),
	OutputPerMillion: decimal.NewFromFloat(2.00),
}

// TokenBasedEstimator prices LLM-style invocations by estimated token count.
type TokenBasedEstimator struct {
	provider string
	pricing  map[string]ModelPricing // model id -> rate card
}

// NewTokenBasedEstimator constructs a TokenBasedEstimator for provider,
// keyed by model id.
func NewTokenBasedEstimator(provider string, pricing map[string]ModelPricing) *TokenBasedEstimator {
	return &TokenBasedEstimator{provider: provider, pricing: pricing}
}

func (e *TokenBasedEstimator) ProviderName() string { return e.provider }

func estimateInputTokens(arguments map[string]interface{}) int64 {
	chars := 0
	for _, v := range arguments {
		if s, ok := v.(string); ok {
			chars += len(s)
		}
	}
	tokens := int64(chars / charsPerToken)
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}

func modelIDFrom(resourceMetadata map[string]interface{}) string {
	if resourceMetadata == nil {
		return ""
	}
	if v, ok := resourceMetadata["model"].(string); ok {
		return v
	}
	return ""
}

func maxTokensFrom(resourceMetadata map[string]interface{}) (int64, bool) {
	if resourceMetadata == nil {
		return 0, false
	}
	switch v := resourceMetadata["max_tokens"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Estimate implements the token-based pricing model (§4.7).
func (e *TokenBasedEstimator) Estimate(request gateway.InvocationRequest, resourceMetadata map[string]interface{}) gateway.CostEstimate {
	modelID := modelIDFrom(resourceMetadata)
	pricing, known := e.pricing[modelID]
	warning := ""
	if !known {
		pricing = defaultPricing
		warning = "unknown model id, using default pricing"
	}

	inputTokens := estimateInputTokens(request.Arguments)
	var outputTokens int64
	if mt, ok := maxTokensFrom(resourceMetadata); ok {
		outputTokens = mt
	} else {
		outputTokens = inputTokens / 2
	}

	inputCost := pricing.InputPerMillion.Mul(decimal.NewFromInt(inputTokens)).Div(decimal.NewFromInt(1_000_000))
	outputCost := pricing.OutputPerMillion.Mul(decimal.NewFromInt(outputTokens)).Div(decimal.NewFromInt(1_000_000))

	return gateway.CostEstimate{
		ProviderTag: e.provider,
		Amount:      inputCost.Add(outputCost),
		Breakdown: gateway.CostBreakdown{
			InputTokens:    inputTokens,
			OutputTokens:   outputTokens,
			InputUnitCost:  pricing.InputPerMillion,
			OutputUnitCost: pricing.OutputPerMillion,
		},
		Warning: warning,
	}
}

// RecordActual extracts usage fields from the invocation result's metadata
// when present; absent usage data, no actual is recorded and the caller
// falls back to the estimate.
func (e *TokenBasedEstimator) RecordActual(request gateway.InvocationRequest, result gateway.InvocationResult, resourceMetadata map[string]interface{}) *gateway.CostEstimate {
	if result.Metadata == nil {
		return nil
	}
	inputTokens, hasInput := toInt64(result.Metadata["usage_input_tokens"])
	outputTokens, hasOutput := toInt64(result.Metadata["usage_output_tokens"])
	if !hasInput && !hasOutput {
		return nil
	}

	modelID := modelIDFrom(resourceMetadata)
	pricing, known := e.pricing[modelID]
	warning := ""
	if !known {
		pricing = defaultPricing
		warning = "unknown model id, using default pricing"
	}

	inputCost := pricing.InputPerMillion.Mul(decimal.NewFromInt(inputTokens)).Div(decimal.NewFromInt(1_000_000))
	outputCost := pricing.OutputPerMillion.Mul(decimal.NewFromInt(outputTokens)).Div(decimal.NewFromInt(1_000_000))

	return &gateway.CostEstimate{
		ProviderTag: e.provider,
		Amount:      inputCost.Add(outputCost),
		Breakdown: gateway.CostBreakdown{
			InputTokens:    inputTokens,
			OutputTokens:   outputTokens,
			InputUnitCost:  pricing.InputPerMillion,
			OutputUnitCost: pricing.OutputPerMillion,
			Notes:          "actual usage from response metadata",
		},
		Warning: warning,
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// FixedCostEstimator prices every call at a flat rate, independent of
// arguments (§4.7's "Fixed-cost: flat per call").
type FixedCostEstimator struct {
	provider string
	amount   decimal.Decimal
}

// NewFixedCostEstimator constructs a FixedCostEstimator.
func NewFixedCostEstimator(provider string, amount decimal.Decimal) *FixedCostEstimator {
	return &FixedCostEstimator{provider: provider, amount: amount}
}

func (e *FixedCostEstimator) ProviderName() string { return e.provider }

func (e *FixedCostEstimator) Estimate(request gateway.InvocationRequest, resourceMetadata map[string]interface{}) gateway.CostEstimate {
	return gateway.CostEstimate{ProviderTag: e.provider, Amount: e.amount}
}

func (e *FixedCostEstimator) RecordActual(request gateway.InvocationRequest, result gateway.InvocationResult, resourceMetadata map[string]interface{}) *gateway.CostEstimate {
	actual := e.Estimate(request, resourceMetadata)
	return &actual
}

// FreeEstimator always prices at zero (§4.7's "Free: zero").
type FreeEstimator struct{ provider string }

// NewFreeEstimator constructs a FreeEstimator.
func NewFreeEstimator(provider string) *FreeEstimator { return &FreeEstimator{provider: provider} }

func (e *FreeEstimator) ProviderName() string { return e.provider }

func (e *FreeEstimator) Estimate(request gateway.InvocationRequest, resourceMetadata map[string]interface{}) gateway.CostEstimate {
	return gateway.CostEstimate{ProviderTag: e.provider, Amount: decimal.Zero}
}

func (e *FreeEstimator) RecordActual(request gateway.InvocationRequest, result gateway.InvocationResult, resourceMetadata map[string]interface{}) *gateway.CostEstimate {
	return &gateway.CostEstimate{ProviderTag: e.provider, Amount: decimal.Zero}
}
