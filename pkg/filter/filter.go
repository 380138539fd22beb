// Package filter implements SARK's Parameter Filter (§4.13): a table-driven
// rewriter that applies a policy decision's drop/redact/allowlist
// directives to a request's arguments along dotted, array-index-aware JSON
// paths. It never raises — a malformed directive is logged and skipped and
// an unknown path is silently skipped, leaving the arguments at that path untouched, per
// §4.13. The token-replacement idiom (a typed redaction placeholder rather
// than deleting the field outright) is grounded on
// pickjonathan-sdek-cli/pkg/types/redaction.go's RedactionEntry.Placeholder
// convention.
package filter

import (
	"strconv"
	"strings"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/pkg/gateway"
)

const defaultRedactionToken = "[REDACTED]"

// Filter applies a decision's FilterDirectives to request arguments.
type Filter struct {
	logger logging.ComponentAwareLogger
}

// Option customizes a Filter.
type Option func(*Filter)

func WithLogger(l logging.ComponentAwareLogger) Option {
	return func(f *Filter) { f.logger = l.WithComponent("filter") }
}

// New constructs a Filter.
func New(opts ...Option) *Filter {
	f := &Filter{logger: logging.NoOp()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Apply walks directives in order against a deep copy of arguments,
// returning a structurally identical map with each directive's effect
// applied. Unknown paths are no-ops; malformed directives are logged and
// skipped (§4.13: "must never raise").
func (f *Filter) Apply(arguments map[string]interface{}, directives []gateway.FilterDirective) map[string]interface{} {
	result := deepCopyMap(arguments)

	for _, d := range directives {
		if err := f.applyOne(result, d); err != nil {
			f.logger.Warn("skipping malformed filter directive", map[string]interface{}{
				"kind": string(d.Kind), "path": d.Path, "error": err.Error(),
			})
		}
	}
	return result
}

func (f *Filter) applyOne(doc map[string]interface{}, d gateway.FilterDirective) error {
	segments, err := parsePath(d.Path)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return errInvalidPath
	}

	switch d.Kind {
	case gateway.DirectiveDrop:
		dropAt(doc, segments)
	case gateway.DirectiveRedact:
		token := d.Token
		if token == "" {
			token = defaultRedactionToken
		}
		setAt(doc, segments, token)
	case gateway.DirectiveAllowlist:
		allowlistAt(doc, segments, d.Keys)
	default:
		return errUnknownDirectiveKind
	}
	return nil
}

type pathError string

func (e pathError) Error() string { return string(e) }

const (
	errInvalidPath          = pathError("empty or malformed path")
	errUnknownDirectiveKind = pathError("unknown directive kind")
)

// pathSegment is either a map key or an array index.
type pathSegment struct {
	key     string
	index   int
	isIndex bool
}

// parsePath splits a dotted, array-index-aware path like "a.b[2].c" or
// "a.b.2.c" into segments. Both "[2]" and bare numeric segments are
// accepted as array indices.
func parsePath(path string) ([]pathSegment, error) {
	if path == "" {
		return nil, errInvalidPath
	}
	var segments []pathSegment
	for _, raw := range strings.Split(path, ".") {
		if raw == "" {
			return nil, errInvalidPath
		}
		for len(raw) > 0 {
			if idx := strings.IndexByte(raw, '['); idx >= 0 {
				if idx > 0 {
					segments = append(segments, pathSegment{key: raw[:idx]})
				}
				end := strings.IndexByte(raw, ']')
				if end < idx {
					return nil, errInvalidPath
				}
				n, err := strconv.Atoi(raw[idx+1 : end])
				if err != nil {
					return nil, errInvalidPath
				}
				segments = append(segments, pathSegment{index: n, isIndex: true})
				raw = raw[end+1:]
				continue
			}
			if n, err := strconv.Atoi(raw); err == nil {
				segments = append(segments, pathSegment{index: n, isIndex: true})
			} else {
				segments = append(segments, pathSegment{key: raw})
			}
			break
		}
	}
	return segments, nil
}

// navigate walks doc along segments[:len-1], returning the parent
// container and the final segment. ok is false if any intermediate
// segment doesn't exist or has the wrong shape (an unknown path, a no-op
// per §4.13).
func navigate(doc interface{}, segments []pathSegment) (parent interface{}, last pathSegment, ok bool) {
	cur := doc
	for i, seg := range segments {
		isLast := i == len(segments)-1
		if isLast {
			return cur, seg, true
		}
		switch v := cur.(type) {
		case map[string]interface{}:
			if seg.isIndex {
				return nil, pathSegment{}, false
			}
			next, exists := v[seg.key]
			if !exists {
				return nil, pathSegment{}, false
			}
			cur = next
		case []interface{}:
			if !seg.isIndex || seg.index < 0 || seg.index >= len(v) {
				return nil, pathSegment{}, false
			}
			cur = v[seg.index]
		default:
			return nil, pathSegment{}, false
		}
	}
	return nil, pathSegment{}, false
}

func dropAt(doc map[string]interface{}, segments []pathSegment) {
	parent, last, ok := navigate(doc, segments)
	if !ok {
		return
	}
	switch v := parent.(type) {
	case map[string]interface{}:
		if !last.isIndex {
			delete(v, last.key)
		}
	case []interface{}:
		if last.isIndex && last.index >= 0 && last.index < len(v) {
			v[last.index] = nil
		}
	}
}

func setAt(doc map[string]interface{}, segments []pathSegment, value interface{}) {
	parent, last, ok := navigate(doc, segments)
	if !ok {
		return
	}
	switch v := parent.(type) {
	case map[string]interface{}:
		if !last.isIndex {
			if _, exists := v[last.key]; exists {
				v[last.key] = value
			}
		}
	case []interface{}:
		if last.isIndex && last.index >= 0 && last.index < len(v) {
			v[last.index] = value
		}
	}
}

func allowlistAt(doc map[string]interface{}, segments []pathSegment, keep []string) {
	parent, last, ok := navigate(doc, segments)
	if !ok {
		return
	}
	allowed := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		allowed[k] = struct{}{}
	}

	var target interface{}
	switch v := parent.(type) {
	case map[string]interface{}:
		if last.isIndex {
			return
		}
		target = v[last.key]
	case []interface{}:
		if !last.isIndex || last.index < 0 || last.index >= len(v) {
			return
		}
		target = v[last.index]
	default:
		return
	}

	sub, ok := target.(map[string]interface{})
	if !ok {
		return
	}
	for k := range sub {
		if _, keep := allowed[k]; !keep {
			delete(sub, k)
		}
	}
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return t
	}
}
