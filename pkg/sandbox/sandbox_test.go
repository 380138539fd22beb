package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/pkg/gwerrors"
)

func TestValidator_RejectsForbiddenPatterns(t *testing.T) {
	v := NewValidator()
	cases := []string{
		`result := eval(userInput)`,
		`cmd := exec.Command("rm", "-rf", "/")`,
		`f, _ := os.Open("/etc/passwd")`,
		`import "os/exec"`,
	}
	for _, src := range cases {
		violation := v.Validate(src)
		require.NotNil(t, violation, "expected violation for: %s", src)
		require.Equal(t, ViolationForbiddenPattern, violation.Kind)
	}
}

func TestValidator_RejectsDisallowedImport(t *testing.T) {
	v := NewValidator()
	violation := v.Validate(`import "net/http"`)
	require.NotNil(t, violation)
	require.Equal(t, ViolationDisallowedImport, violation.Kind)
}

func TestValidator_AllowsCleanSource(t *testing.T) {
	v := NewValidator()
	src := `
		import "strings"
		import "encoding/json"
		func decide(ctx) bool { return strings.Contains(ctx.Action, "read") }
	`
	require.Nil(t, v.Validate(src))
}

func TestSandbox_ValidateSourceReturnsGatewayError(t *testing.T) {
	s := New(DefaultEnvelope())
	err := s.ValidateSource(`eval(x)`)
	require.Error(t, err)
	require.Equal(t, gwerrors.KindSandboxViolation, gwerrors.KindOf(err))
}

func TestSandbox_RunSucceedsWithinWallTime(t *testing.T) {
	s := New(Envelope{WallTime: 100 * time.Millisecond, MaxMemoryMB: 64})
	val, err := s.Run(context.Background(), func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, val)
}

func TestSandbox_RunDeniesOnWallTimeExceeded(t *testing.T) {
	s := New(Envelope{WallTime: 5 * time.Millisecond, MaxMemoryMB: 64})
	_, err := s.Run(context.Background(), func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	require.Error(t, err)
	require.Equal(t, gwerrors.KindSandboxViolation, gwerrors.KindOf(err))
}
