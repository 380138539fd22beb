// Package policy implements SARK's Policy Engine (§4.3): OPA bundle
// evaluation composed conjunctively with a pluggable decision-plugin chain.
// The rego.New/PrepareForEval/Eval flow, the module-loading-by-walk idiom,
// and JSON-roundtrip input conversion are grounded on
// other_examples/66858d88_Kocoro-lab-Shannon__go-orchestrator-internal-policy-engine.go.go's
// OPAEngine. The fail-closed default-deny posture is this teacher's
// FailClosed branch, inverted: SARK always fails closed on engine error,
// where Shannon's engine is configurable.
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/internal/telemetry"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
)

// decisionQuery is the well-known rule SARK's bundles must expose, per
// §4.3: "a bundle exposes one or more well-known rules (allow, reason,
// filtered_parameters, cache_ttl)".
const decisionQuery = "data.sark.authz.decision"

// Engine is the default PolicyEngine, backed by an OPA rego bundle plus a
// registered plugin chain.
type Engine struct {
	bundlePath string
	logger     logging.ComponentAwareLogger
	m          *telemetry.Metrics
	plugins    *PluginRegistry

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
	version  int
	changes  []gateway.PolicyChangeRecord
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger attaches a component-scoped logger.
func WithLogger(l logging.ComponentAwareLogger) Option {
	return func(e *Engine) { e.logger = l.WithComponent("policy") }
}

// WithMetrics attaches the shared Prometheus registry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.m = m }
}

// NewEngine constructs an Engine whose bundle lives under bundlePath (a
// directory of .rego modules). The bundle is not loaded until ReloadBundle
// is called, so that a missing directory on first boot is reported the
// same way a later reload failure is.
func NewEngine(bundlePath string, plugins *PluginRegistry, opts ...Option) *Engine {
	e := &Engine{bundlePath: bundlePath, logger: logging.NoOp(), plugins: plugins}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReloadBundle walks bundlePath for *.rego modules, compiles them under the
// decisionQuery, and records a policy change log entry (§4.3). A
// bundle-parse error leaves the previously compiled query (if any) in
// place so a bad reload does not take the engine fully dark.
func (e *Engine) ReloadBundle(ctx context.Context) error {
	modules := make(map[string]string)
	err := filepath.Walk(e.bundlePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(e.bundlePath, path)
		modules[strings.TrimSuffix(rel, ".rego")] = string(content)
		return nil
	})
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindInternal, "policy.ReloadBundle", "walk bundle directory", err)
	}
	if len(modules) == 0 {
		return gwerrors.New(gwerrors.KindInternal, "policy.ReloadBundle", "no .rego modules found in bundle")
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for name, content := range modules {
		opts = append(opts, rego.Module(name, content))
	}

	compiled, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		if e.m != nil {
			e.m.PolicyErrors.Inc()
		}
		return gwerrors.Wrap(gwerrors.KindInternal, "policy.ReloadBundle", "compile bundle", err)
	}

	e.mu.Lock()
	e.compiled = &compiled
	e.version++
	kind := gateway.PolicyChangeCreated
	if e.version > 1 {
		kind = gateway.PolicyChangeUpdated
	}
	record := gateway.PolicyChangeRecord{
		ID:          fmt.Sprintf("pcl-%d", e.version),
		Kind:        kind,
		Version:     e.version,
		ContentHash: contentHash(modules),
		Timestamp:   time.Now().UTC(),
	}
	e.changes = append(e.changes, record)
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "policy bundle reloaded", map[string]interface{}{
		"version": record.Version, "module_count": len(modules), "content_hash": record.ContentHash,
	})
	return nil
}

// ChangeLog returns the bundle's change history (§4.3).
func (e *Engine) ChangeLog() []gateway.PolicyChangeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]gateway.PolicyChangeRecord, len(e.changes))
	copy(out, e.changes)
	return out
}

func contentHash(modules map[string]string) string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	// sort for determinism
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(modules[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Evaluate evaluates the loaded bundle, then runs the plugin chain,
// composing conjunctively: a request is allowed iff the bundle allows and
// no plugin denies (§4.3). Any engine error — uncompiled bundle, rego
// evaluation failure, malformed result — fails closed with a distinguished
// reason, per §4.3's failure semantics.
func (e *Engine) Evaluate(ctx context.Context, input gateway.DecisionInput) (gateway.Decision, error) {
	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	if compiled == nil {
		if e.m != nil {
			e.m.PolicyErrors.Inc()
		}
		return denyClosed("policy engine has no bundle loaded"), gwerrors.New(gwerrors.KindInternal, "policy.Evaluate", "bundle not loaded")
	}

	inputMap, err := toMap(input)
	if err != nil {
		if e.m != nil {
			e.m.PolicyErrors.Inc()
		}
		return denyClosed("failed to encode policy input"), gwerrors.Wrap(gwerrors.KindInternal, "policy.Evaluate", "encode input", err)
	}

	results, err := compiled.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		if e.m != nil {
			e.m.PolicyErrors.Inc()
		}
		return denyClosed("policy evaluation error"), gwerrors.Wrap(gwerrors.KindInternal, "policy.Evaluate", "rego eval", err)
	}

	decision := parseResults(results)

	if !decision.Allow {
		if e.m != nil {
			e.m.PolicyDenies.WithLabelValues("bundle").Inc()
		}
		return decision, nil
	}

	if e.plugins != nil {
		pluginDecision, denied := e.plugins.Evaluate(ctx, input)
		if denied {
			if e.m != nil {
				e.m.PolicyDenies.WithLabelValues("plugin:" + pluginDecision.Reason).Inc()
			}
			return pluginDecision, nil
		}
	}

	if e.m != nil {
		e.m.PolicyAllows.WithLabelValues(string(input.Capability.EffectiveSensitivity(&input.Resource))).Inc()
	}
	return decision, nil
}

func denyClosed(reason string) gateway.Decision {
	return gateway.Decision{Allow: false, Reason: reason}
}

func toMap(input gateway.DecisionInput) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseResults(results rego.ResultSet) gateway.Decision {
	decision := gateway.Decision{Allow: false, Reason: "no matching policy rules"}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision
	}

	value := results[0].Expressions[0].Value
	valueMap, ok := value.(map[string]interface{})
	if !ok {
		if allow, ok := value.(bool); ok {
			decision.Allow = allow
			if allow {
				decision.Reason = "allowed by policy"
			} else {
				decision.Reason = "denied by policy"
			}
		}
		return decision
	}

	if allow, ok := valueMap["allow"].(bool); ok {
		decision.Allow = allow
	}
	if reason, ok := valueMap["reason"].(string); ok {
		decision.Reason = reason
	}
	switch ttl := valueMap["cache_ttl"].(type) {
	case json.Number:
		if n, err := ttl.Int64(); err == nil {
			decision.CacheTTLSeconds = int(n)
		}
	case float64:
		decision.CacheTTLSeconds = int(ttl)
	}
	if filtered, ok := valueMap["filtered_parameters"].(map[string]interface{}); ok {
		decision.FilteredArguments = filtered
	}
	return decision
}
