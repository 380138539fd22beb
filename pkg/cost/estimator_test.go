package cost

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/pkg/gateway"
)

func TestTokenBasedEstimator_KnownModel(t *testing.T) {
	e := NewTokenBasedEstimator("openai", map[string]ModelPricing{
		"gpt-4o": {InputPerMillion: decimal.NewFromFloat(5), OutputPerMillion: decimal.NewFromFloat(15)},
	})
	req := gateway.InvocationRequest{Arguments: map[string]interface{}{"prompt": "12345678"}} // 8 chars -> 2 tokens
	estimate := e.Estimate(req, map[string]interface{}{"model": "gpt-4o", "max_tokens": int64(10)})

	require.Empty(t, estimate.Warning)
	require.EqualValues(t, 2, estimate.Breakdown.InputTokens)
	require.EqualValues(t, 10, estimate.Breakdown.OutputTokens)
	require.True(t, estimate.Amount.GreaterThan(decimal.Zero))
}

func TestTokenBasedEstimator_UnknownModelUsesDefaultWithWarning(t *testing.T) {
	e := NewTokenBasedEstimator("openai", map[string]ModelPricing{})
	req := gateway.InvocationRequest{Arguments: map[string]interface{}{"prompt": "hello"}}
	estimate := e.Estimate(req, map[string]interface{}{"model": "unknown-model"})

	require.NotEmpty(t, estimate.Warning)
}

func TestTokenBasedEstimator_OutputFallsBackToHalfInput(t *testing.T) {
	e := NewTokenBasedEstimator("openai", map[string]ModelPricing{
		"m": {InputPerMillion: decimal.NewFromFloat(1), OutputPerMillion: decimal.NewFromFloat(1)},
	})
	req := gateway.InvocationRequest{Arguments: map[string]interface{}{"prompt": "01234567"}} // 8 chars -> 2 tokens
	estimate := e.Estimate(req, map[string]interface{}{"model": "m"})

	require.EqualValues(t, 2, estimate.Breakdown.InputTokens)
	require.EqualValues(t, 1, estimate.Breakdown.OutputTokens)
}

func TestTokenBasedEstimator_RecordActualUsesUsageMetadata(t *testing.T) {
	e := NewTokenBasedEstimator("openai", map[string]ModelPricing{
		"m": {InputPerMillion: decimal.NewFromFloat(1), OutputPerMillion: decimal.NewFromFloat(1)},
	})
	result := gateway.InvocationResult{Metadata: map[string]interface{}{
		"usage_input_tokens": int64(100), "usage_output_tokens": int64(50),
	}}
	actual := e.RecordActual(gateway.InvocationRequest{}, result, map[string]interface{}{"model": "m"})
	require.NotNil(t, actual)
	require.EqualValues(t, 100, actual.Breakdown.InputTokens)
}

func TestTokenBasedEstimator_RecordActualNilWithoutUsageData(t *testing.T) {
	e := NewTokenBasedEstimator("openai", nil)
	actual := e.RecordActual(gateway.InvocationRequest{}, gateway.InvocationResult{}, nil)
	require.Nil(t, actual)
}

func TestFixedCostEstimator_AlwaysFlat(t *testing.T) {
	e := NewFixedCostEstimator("flat-api", decimal.NewFromFloat(0.01))
	estimate := e.Estimate(gateway.InvocationRequest{Arguments: map[string]interface{}{"x": "anything at all, long or short"}}, nil)
	require.True(t, estimate.Amount.Equal(decimal.NewFromFloat(0.01)))
}

func TestFreeEstimator_AlwaysZero(t *testing.T) {
	e := NewFreeEstimator("internal-tool")
	estimate := e.Estimate(gateway.InvocationRequest{}, nil)
	require.True(t, estimate.Amount.IsZero())
}
