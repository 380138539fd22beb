package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/pkg/gateway"
)

func TestApply_Drop(t *testing.T) {
	f := New()
	args := map[string]interface{}{"password": "hunter2", "username": "alice"}

	out := f.Apply(args, []gateway.FilterDirective{{Kind: gateway.DirectiveDrop, Path: "password"}})

	require.NotContains(t, out, "password")
	require.Equal(t, "alice", out["username"])
	require.Equal(t, "hunter2", args["password"], "Apply must not mutate the original arguments")
}

func TestApply_RedactWithDefaultToken(t *testing.T) {
	f := New()
	args := map[string]interface{}{"ssn": "123-45-6789"}

	out := f.Apply(args, []gateway.FilterDirective{{Kind: gateway.DirectiveRedact, Path: "ssn"}})

	require.Equal(t, defaultRedactionToken, out["ssn"])
}

func TestApply_RedactWithCustomToken(t *testing.T) {
	f := New()
	args := map[string]interface{}{"ssn": "123-45-6789"}

	out := f.Apply(args, []gateway.FilterDirective{{Kind: gateway.DirectiveRedact, Path: "ssn", Token: "***"}})

	require.Equal(t, "***", out["ssn"])
}

func TestApply_AllowlistKeepsOnlyListedSubkeys(t *testing.T) {
	f := New()
	args := map[string]interface{}{
		"user": map[string]interface{}{"id": "u1", "email": "a@example.com", "internal_notes": "secret"},
	}

	out := f.Apply(args, []gateway.FilterDirective{{Kind: gateway.DirectiveAllowlist, Path: "user", Keys: []string{"id", "email"}}})

	user := out["user"].(map[string]interface{})
	require.Equal(t, "u1", user["id"])
	require.Equal(t, "a@example.com", user["email"])
	require.NotContains(t, user, "internal_notes")
}

func TestApply_ArrayIndexPath(t *testing.T) {
	f := New()
	args := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"name": "a", "secret": "x"},
			map[string]interface{}{"name": "b", "secret": "y"},
		},
	}

	out := f.Apply(args, []gateway.FilterDirective{{Kind: gateway.DirectiveDrop, Path: "items[1].secret"}})

	items := out["items"].([]interface{})
	first := items[0].(map[string]interface{})
	second := items[1].(map[string]interface{})
	require.Equal(t, "x", first["secret"], "only the targeted index should be affected")
	require.NotContains(t, second, "secret")
}

func TestApply_UnknownPathIsNoOp(t *testing.T) {
	f := New()
	args := map[string]interface{}{"username": "alice"}

	out := f.Apply(args, []gateway.FilterDirective{{Kind: gateway.DirectiveDrop, Path: "does.not.exist"}})

	require.Equal(t, "alice", out["username"])
}

func TestApply_MalformedDirectiveIsSkippedNotRaised(t *testing.T) {
	f := New()
	args := map[string]interface{}{"username": "alice"}

	require.NotPanics(t, func() {
		out := f.Apply(args, []gateway.FilterDirective{{Kind: gateway.DirectiveKind("bogus"), Path: "username"}})
		require.Equal(t, "alice", out["username"])
	})
}

func TestApply_EmptyPathIsSkipped(t *testing.T) {
	f := New()
	args := map[string]interface{}{"username": "alice"}

	require.NotPanics(t, func() {
		f.Apply(args, []gateway.FilterDirective{{Kind: gateway.DirectiveDrop, Path: ""}})
	})
}
