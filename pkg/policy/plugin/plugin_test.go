package plugin

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/pkg/gateway"
)

func TestBusinessHours_AllowsLowSensitivityAnytime(t *testing.T) {
	p := NewBusinessHours(10)
	input := gateway.DecisionInput{
		Capability: gateway.Capability{Sensitivity: gateway.SensitivityLow},
		Context:    map[string]interface{}{"business_hours": false},
	}
	decision := p.Decide(context.Background(), input)
	require.True(t, decision.Allow)
}

func TestBusinessHours_DeniesHighSensitivityOutsideHours(t *testing.T) {
	p := NewBusinessHours(10)
	input := gateway.DecisionInput{
		Capability: gateway.Capability{Sensitivity: gateway.SensitivityHigh},
		Context:    map[string]interface{}{"business_hours": false},
	}
	decision := p.Decide(context.Background(), input)
	require.False(t, decision.Allow)
}

func TestBusinessHours_AllowsHighSensitivityDuringHours(t *testing.T) {
	p := NewBusinessHours(10)
	input := gateway.DecisionInput{
		Capability: gateway.Capability{Sensitivity: gateway.SensitivityCritical},
		Context:    map[string]interface{}{"business_hours": true},
	}
	decision := p.Decide(context.Background(), input)
	require.True(t, decision.Allow)
}

func TestRateLimitAware_DeniesWhenExhausted(t *testing.T) {
	p := NewRateLimitAware(5)
	input := gateway.DecisionInput{Context: map[string]interface{}{"rate_limit_remaining": float64(0)}}
	decision := p.Decide(context.Background(), input)
	require.False(t, decision.Allow)
}

func TestRateLimitAware_AllowsWhenHeadroomPresent(t *testing.T) {
	p := NewRateLimitAware(5)
	input := gateway.DecisionInput{Context: map[string]interface{}{"rate_limit_remaining": float64(3)}}
	decision := p.Decide(context.Background(), input)
	require.True(t, decision.Allow)
}

func TestCostAware_DeniesOverCeiling(t *testing.T) {
	p := NewCostAware(1, decimal.NewFromFloat(1.00))
	input := gateway.DecisionInput{Context: map[string]interface{}{"estimated_cost": "5.00"}}
	decision := p.Decide(context.Background(), input)
	require.False(t, decision.Allow)
}

func TestCostAware_AllowsUnderCeiling(t *testing.T) {
	p := NewCostAware(1, decimal.NewFromFloat(10.00))
	input := gateway.DecisionInput{Context: map[string]interface{}{"estimated_cost": "0.50"}}
	decision := p.Decide(context.Background(), input)
	require.True(t, decision.Allow)
}

func TestCostAware_AllowsWhenCostAbsent(t *testing.T) {
	p := NewCostAware(1, decimal.NewFromFloat(10.00))
	decision := p.Decide(context.Background(), gateway.DecisionInput{})
	require.True(t, decision.Allow)
}
