// Package telemetry centralizes SARK's Prometheus metrics and OpenTelemetry
// tracing, grounded on resilience/metrics_otel.go's MetricsCollector shape
// and the teacher's root go.mod otel stack, backed concretely by
// prometheus/client_golang (as jordigilh-kubernaut and
// Hola-to-network_logistics_problem do) rather than a stdout-only exporter.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Metrics is the process-wide registry of SARK's Prometheus instruments.
type Metrics struct {
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheSweeps     prometheus.Counter
	CacheEvicted    prometheus.Counter

	RateLimitAdmits   prometheus.Counter
	RateLimitRejects  prometheus.Counter

	PolicyDenies  *prometheus.CounterVec
	PolicyAllows  *prometheus.CounterVec
	PolicyErrors  prometheus.Counter

	CircuitState *prometheus.GaugeVec

	SIEMQueueDepth  prometheus.Gauge
	SIEMDropped     prometheus.Counter
	SIEMSent        *prometheus.CounterVec
	SIEMFailed      *prometheus.CounterVec

	BudgetDenies prometheus.Counter

	InvocationDuration *prometheus.HistogramVec

	ResourceHealthy     *prometheus.GaugeVec
	ResourceHealthChecks *prometheus.CounterVec
}

// NewMetrics constructs and registers SARK's metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits:    prometheus.NewCounter(prometheus.CounterOpts{Name: "sark_cache_hits_total"}),
		CacheMisses:  prometheus.NewCounter(prometheus.CounterOpts{Name: "sark_cache_misses_total"}),
		CacheSweeps:  prometheus.NewCounter(prometheus.CounterOpts{Name: "sark_cache_sweeps_total"}),
		CacheEvicted: prometheus.NewCounter(prometheus.CounterOpts{Name: "sark_cache_evicted_total"}),

		RateLimitAdmits:  prometheus.NewCounter(prometheus.CounterOpts{Name: "sark_ratelimit_admits_total"}),
		RateLimitRejects: prometheus.NewCounter(prometheus.CounterOpts{Name: "sark_ratelimit_rejects_total"}),

		PolicyDenies: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sark_policy_denies_total"}, []string{"reason"}),
		PolicyAllows: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sark_policy_allows_total"}, []string{"sensitivity"}),
		PolicyErrors: prometheus.NewCounter(prometheus.CounterOpts{Name: "sark_policy_errors_total"}),

		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "sark_circuit_state"}, []string{"name"}),

		SIEMQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{Name: "sark_siem_queue_depth"}),
		SIEMDropped:    prometheus.NewCounter(prometheus.CounterOpts{Name: "sark_siem_dropped_total"}),
		SIEMSent:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sark_siem_sent_total"}, []string{"sink"}),
		SIEMFailed:     prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sark_siem_failed_total"}, []string{"sink"}),

		BudgetDenies: prometheus.NewCounter(prometheus.CounterOpts{Name: "sark_budget_denies_total"}),

		InvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sark_invocation_duration_ms",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12),
		}, []string{"protocol", "outcome"}),

		ResourceHealthy:      prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "sark_resource_healthy"}, []string{"resource_id"}),
		ResourceHealthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sark_resource_health_checks_total"}, []string{"resource_id", "result"}),
	}

	for _, c := range []prometheus.Collector{
		m.CacheHits, m.CacheMisses, m.CacheSweeps, m.CacheEvicted,
		m.RateLimitAdmits, m.RateLimitRejects,
		m.PolicyDenies, m.PolicyAllows, m.PolicyErrors,
		m.CircuitState,
		m.SIEMQueueDepth, m.SIEMDropped, m.SIEMSent, m.SIEMFailed,
		m.BudgetDenies, m.InvocationDuration,
		m.ResourceHealthy, m.ResourceHealthChecks,
	} {
		reg.MustRegister(c)
	}
	return m
}

const tracerName = "github.com/sark/gateway"

// Tracer returns SARK's process-wide tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan is a thin convenience wrapper mirroring the teacher's
// core.Telemetry.StartSpan contract.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name)
}
