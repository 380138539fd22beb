// Package resilience provides the per-endpoint circuit breaker shared by
// the Protocol Adapter wrapper (§4.5) and the SIEM Forwarder's per-sink
// breaker (§4.10). It is adapted from the teacher's
// resilience/circuit_breaker.go: the CircuitState enum, MetricsCollector
// interface, and named-config-with-NewCircuitBreaker constructor shape are
// kept; the body is rewritten around §4.5's simpler consecutive-failure
// threshold (rather than the teacher's sliding-window error-rate
// threshold), since that is the contract SARK's adapters are specified
// against.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sark/gateway/pkg/gwerrors"
)

// CircuitState is the circuit breaker's current disposition.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector receives circuit breaker lifecycle events.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name, errorType string)
	RecordStateChange(name, from, to string)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSuccess(string)            {}
func (noopMetrics) RecordFailure(string, string)    {}
func (noopMetrics) RecordStateChange(_, _, _ string) {}
func (noopMetrics) RecordRejection(string)          {}

// Config configures a CircuitBreaker per §4.5's defaults.
type Config struct {
	Name                string
	ConsecutiveFailures int           // default 5
	CooldownPeriod      time.Duration // default 60s
	Metrics             MetricsCollector
}

// DefaultConfig returns §4.5's stated defaults.
func DefaultConfig(name string) Config {
	return Config{Name: name, ConsecutiveFailures: 5, CooldownPeriod: 60 * time.Second, Metrics: noopMetrics{}}
}

// CircuitBreaker is a closed/open/half-open breaker keyed by consecutive
// failure count, per §4.5: "closed → open after N consecutive failures
// (default 5); open blocks calls until cooldown T (default 60s); half-open
// admits one probe."
type CircuitBreaker struct {
	cfg Config

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    bool
}

// New constructs a CircuitBreaker in the closed state.
func New(cfg Config) *CircuitBreaker {
	if cfg.ConsecutiveFailures <= 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = 60 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// canExecute reports whether a call may proceed, transitioning open ->
// half-open once the cooldown has elapsed, and claiming the single
// half-open probe slot.
func (cb *CircuitBreaker) canExecute() (proceed bool, isProbe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.cfg.CooldownPeriod {
			cb.transitionLocked(StateHalfOpen)
			cb.halfOpenInFlight = true
			return true, true
		}
		return false, false
	case StateHalfOpen:
		if cb.halfOpenInFlight {
			return false, false
		}
		cb.halfOpenInFlight = true
		return true, true
	default:
		return false, false
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	cb.state = to
	if from != to {
		cb.cfg.Metrics.RecordStateChange(cb.cfg.Name, from.String(), to.String())
	}
}

func (cb *CircuitBreaker) onResult(isProbe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if isProbe {
		cb.halfOpenInFlight = false
	}

	if err == nil {
		cb.consecutiveFailures = 0
		if cb.state != StateClosed {
			cb.transitionLocked(StateClosed)
		}
		cb.cfg.Metrics.RecordSuccess(cb.cfg.Name)
		return
	}

	cb.cfg.Metrics.RecordFailure(cb.cfg.Name, "call_error")
	if cb.state == StateHalfOpen {
		cb.transitionLocked(StateOpen)
		cb.openedAt = time.Now()
		return
	}

	cb.consecutiveFailures++
	if cb.consecutiveFailures >= cb.cfg.ConsecutiveFailures {
		cb.transitionLocked(StateOpen)
		cb.openedAt = time.Now()
	}
}

// Execute runs fn if the breaker admits the call, else returns a
// KindCircuitOpen error immediately without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	proceed, isProbe := cb.canExecute()
	if !proceed {
		cb.cfg.Metrics.RecordRejection(cb.cfg.Name)
		return gwerrors.New(gwerrors.KindCircuitOpen, "circuitbreaker.Execute", "circuit "+cb.cfg.Name+" is open")
	}

	err := fn(ctx)
	cb.onResult(isProbe, err)
	return err
}

// State returns the breaker's current state, for health/metrics reporting.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ForceOpen manually opens the breaker, used by operational tooling.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateOpen)
	cb.openedAt = time.Now()
}
