package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(Config{Name: "test", ConsecutiveFailures: 3, CooldownPeriod: time.Minute})
	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), failing)
	}
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_RejectsWhileOpen(t *testing.T) {
	cb := New(Config{Name: "test", ConsecutiveFailures: 1, CooldownPeriod: time.Minute})
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error { called = true; return nil })
	require.Error(t, err)
	require.False(t, called, "the circuit must reject without invoking the wrapped call")
}

func TestCircuitBreaker_HalfOpenAfterCooldownAdmitsOneProbe(t *testing.T) {
	cb := New(Config{Name: "test", ConsecutiveFailures: 1, CooldownPeriod: 10 * time.Millisecond})
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, StateClosed, cb.State(), "a successful probe must close the circuit")
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := New(Config{Name: "test", ConsecutiveFailures: 1, CooldownPeriod: 10 * time.Millisecond})
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still broken") })
	require.Error(t, err)
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{Name: "test", ConsecutiveFailures: 3, CooldownPeriod: time.Minute})
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })

	require.Equal(t, StateClosed, cb.State(), "a success must reset the consecutive-failure counter")
}
