// Package sandbox executes untrusted policy-decision-plugin source under a
// resource envelope and a static allow/deny-list check (§4.4). The
// regex-driven static validation is grounded on the compiled-pattern-table
// shape of pickjonathan-sdek-cli's internal/ai/redactor.go; the wall-time
// enforcement follows the teacher's resilience/circuit_breaker.go use of
// context.WithTimeout around a single guarded call.
package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"time"

	"github.com/sark/gateway/pkg/gwerrors"
)

// ViolationKind enumerates why a sandboxed plugin was denied.
type ViolationKind string

const (
	ViolationForbiddenPattern ViolationKind = "forbidden_pattern"
	ViolationDisallowedImport ViolationKind = "disallowed_import"
	ViolationWallTime         ViolationKind = "wall_time_exceeded"
	ViolationMemory           ViolationKind = "memory_exceeded"
)

// Violation is the deny returned by the sandbox when untrusted code breaches
// its envelope, per §4.4's "SandboxViolation{kind}".
type Violation struct {
	Kind    ViolationKind
	Message string
}

func (v *Violation) Error() string { return fmt.Sprintf("sandbox violation (%s): %s", v.Kind, v.Message) }

// Envelope bounds a single plugin execution.
type Envelope struct {
	WallTime    time.Duration
	MaxMemoryMB int64
	MaxFDs      int
}

// DefaultEnvelope mirrors the conservative defaults implied by §4.4.
func DefaultEnvelope() Envelope {
	return Envelope{WallTime: 50 * time.Millisecond, MaxMemoryMB: 64, MaxFDs: 8}
}

// allowedImports is the pure-computation import allow-list (§4.4: "pure
// collections/math/dates/regex/uuid/json").
var allowedImports = map[string]bool{
	"strings": true, "strconv": true, "sort": true, "math": true,
	"time": true, "regexp": true, "encoding/json": true,
	"github.com/google/uuid": true, "errors": true, "fmt": true,
}

// forbiddenPatterns are compiled once, grounded on the redactor's
// compile-at-construction-time idiom.
var forbiddenPatterns = map[string]*regexp.Regexp{
	"eval":            regexp.MustCompile(`\beval\s*\(`),
	"exec":            regexp.MustCompile(`\bexec\.(Command|Cmd)\b`),
	"dynamic_compile": regexp.MustCompile(`\b(plugin\.Open|go/parser\.Parse|reflect\.New)\b`),
	"file_open":       regexp.MustCompile(`\bos\.(Open|Create|OpenFile|Remove|RemoveAll)\s*\(`),
	"subprocess":      regexp.MustCompile(`\bos/exec\b`),
	"network":         regexp.MustCompile(`\bnet(/http)?\.(Dial|Listen|Get|Post)\w*\s*\(`),
}

// importPattern extracts quoted import paths from plugin source: an
// (optionally aliased) quoted path at the start of a line, after `;` or
// `*/`, or after `import` / `import (`. Text after the path, such as a
// trailing comment, does not stop the match.
var importPattern = regexp.MustCompile(`(?m)(?:^|;|\*/)\s*(?:import\s*\(?\s*)?(?:[A-Za-z_.]\w*\s+)?"([a-zA-Z0-9_./-]+)"`)

// Validator performs static validation of plugin source before it is ever
// executed.
type Validator struct{}

// NewValidator constructs a Validator.
func NewValidator() *Validator { return &Validator{} }

// Validate rejects source matching any forbidden pattern or referencing an
// import outside the allow-list. It never panics on malformed source —
// input that matches no forbidden pattern and names no disallowed import
// passes, whether or not it is well-formed.
func (v *Validator) Validate(source string) *Violation {
	for name, pattern := range forbiddenPatterns {
		if pattern.MatchString(source) {
			return &Violation{Kind: ViolationForbiddenPattern, Message: "matched forbidden pattern: " + name}
		}
	}
	for _, m := range importPattern.FindAllStringSubmatch(source, -1) {
		imp := m[1]
		if !allowedImports[imp] {
			return &Violation{Kind: ViolationDisallowedImport, Message: "import not in allow-list: " + imp}
		}
	}
	return nil
}

// Plugin is the unit of work a decision plugin runs under sandbox control.
type Plugin func(ctx context.Context) (interface{}, error)

// Sandbox runs validated plugin code under the configured Envelope.
type Sandbox struct {
	validator *Validator
	envelope  Envelope
}

// New constructs a Sandbox.
func New(envelope Envelope) *Sandbox {
	return &Sandbox{validator: NewValidator(), envelope: envelope}
}

// ValidateSource statically checks plugin source before it is ever loaded.
func (s *Sandbox) ValidateSource(source string) error {
	if v := s.validator.Validate(source); v != nil {
		return gwerrors.New(gwerrors.KindSandboxViolation, "sandbox.ValidateSource", v.Error()).
			WithDetails(map[string]interface{}{"kind": string(v.Kind)})
	}
	return nil
}

// Run executes fn under the sandbox's wall-time cap, reporting a
// ViolationWallTime deny when it is exceeded and a best-effort memory-growth
// check via runtime.ReadMemStats around the call.
func (s *Sandbox) Run(ctx context.Context, fn Plugin) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, s.envelope.WallTime)
	defer cancel()

	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	type outcome struct {
		val interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := fn(ctx)
		done <- outcome{val, err}
	}()

	select {
	case <-ctx.Done():
		return nil, gwerrors.New(gwerrors.KindSandboxViolation, "sandbox.Run", (&Violation{Kind: ViolationWallTime, Message: "plugin exceeded wall-time cap"}).Error())
	case o := <-done:
		var after runtime.MemStats
		runtime.ReadMemStats(&after)
		grown := int64(after.Alloc-before.Alloc) / (1024 * 1024)
		if s.envelope.MaxMemoryMB > 0 && grown > s.envelope.MaxMemoryMB {
			return nil, gwerrors.New(gwerrors.KindSandboxViolation, "sandbox.Run", (&Violation{Kind: ViolationMemory, Message: "plugin exceeded memory cap"}).Error())
		}
		return o.val, o.err
	}
}
