package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/pkg/gateway"
)

const testBundle = `package sark.authz

default decision = {"allow": false, "reason": "no rule matched"}

decision = {"allow": true, "reason": "service principals may read", "cache_ttl": 300} {
	input.principal.type == "service"
	input.action == "read"
}

decision = {"allow": false, "reason": "admin action requires human principal"} {
	input.action == "admin"
	input.principal.type != "human"
}
`

func writeBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "authz.rego"), []byte(testBundle), 0o644))
	return dir
}

func TestEngine_ReloadBundleThenAllow(t *testing.T) {
	dir := writeBundle(t)
	e := NewEngine(dir, nil)
	require.NoError(t, e.ReloadBundle(context.Background()))

	decision, err := e.Evaluate(context.Background(), gateway.DecisionInput{
		Principal: gateway.Principal{Type: gateway.PrincipalService},
		Action:    "read",
	})
	require.NoError(t, err)
	require.True(t, decision.Allow)
	require.Equal(t, 300, decision.CacheTTLSeconds)
}

func TestEngine_DeniesWhenBundleDenies(t *testing.T) {
	dir := writeBundle(t)
	e := NewEngine(dir, nil)
	require.NoError(t, e.ReloadBundle(context.Background()))

	decision, err := e.Evaluate(context.Background(), gateway.DecisionInput{
		Principal: gateway.Principal{Type: gateway.PrincipalAgent},
		Action:    "admin",
	})
	require.NoError(t, err)
	require.False(t, decision.Allow)
}

func TestEngine_FailsClosedWithoutLoadedBundle(t *testing.T) {
	e := NewEngine("/nonexistent", nil)
	decision, err := e.Evaluate(context.Background(), gateway.DecisionInput{})
	require.Error(t, err)
	require.False(t, decision.Allow, "an engine error must deny, never allow")
}

func TestEngine_ReloadBundleFailsOnEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(dir, nil)
	require.Error(t, e.ReloadBundle(context.Background()))
}

func TestEngine_ChangeLogRecordsEachReload(t *testing.T) {
	dir := writeBundle(t)
	e := NewEngine(dir, nil)
	require.NoError(t, e.ReloadBundle(context.Background()))
	require.NoError(t, e.ReloadBundle(context.Background()))

	log := e.ChangeLog()
	require.Len(t, log, 2)
	require.Equal(t, gateway.PolicyChangeCreated, log[0].Kind)
	require.Equal(t, gateway.PolicyChangeUpdated, log[1].Kind)
}

func TestEngine_PluginDenyOverridesBundleAllow(t *testing.T) {
	dir := writeBundle(t)
	registry := NewPluginRegistry()
	require.NoError(t, registry.Register(fakePlugin{name: "deny-all", priority: 1, allow: false}))

	e := NewEngine(dir, registry)
	require.NoError(t, e.ReloadBundle(context.Background()))

	decision, err := e.Evaluate(context.Background(), gateway.DecisionInput{
		Principal: gateway.Principal{Type: gateway.PrincipalService},
		Action:    "read",
	})
	require.NoError(t, err)
	require.False(t, decision.Allow, "a plugin deny must override a bundle allow")
}
