package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/opencli/daemon/pkg/domain"
)

// Identifiers are matched verbatim: whitespace inside the braces is part of
// the identifier, so "{{ A.v }}" does not resolve and stays literal.
var refPattern = regexp.MustCompile(`\{\{([^{}]+?)\}\}`)

// fragment is one parsed piece of a template string: either literal text or
// a {{ref}} placeholder. Raw keeps the original placeholder text so an
// unresolvable ref passes through untouched.
type fragment struct {
	raw   string
	ref   string
	isRef bool
}

// Template is a pre-parsed parameter string. Parsing happens once when a
// pipeline run starts; resolution happens per wave against accumulated node
// results.
type Template struct {
	raw       string
	fragments []fragment
	singleRef bool
}

// ParseTemplate splits s into literal and {{ref}} fragments.
func ParseTemplate(s string) Template {
	t := Template{raw: s}
	idx := refPattern.FindAllStringSubmatchIndex(s, -1)
	if len(idx) == 0 {
		t.fragments = []fragment{{raw: s}}
		return t
	}
	pos := 0
	for _, m := range idx {
		if m[0] > pos {
			t.fragments = append(t.fragments, fragment{raw: s[pos:m[0]]})
		}
		t.fragments = append(t.fragments, fragment{raw: s[m[0]:m[1]], ref: s[m[2]:m[3]], isRef: true})
		pos = m[1]
	}
	if pos < len(s) {
		t.fragments = append(t.fragments, fragment{raw: s[pos:]})
	}
	t.singleRef = len(t.fragments) == 1 && t.fragments[0].isRef
	return t
}

// HasRefs reports whether the template contains any placeholder.
func (t Template) HasRefs() bool {
	for _, f := range t.fragments {
		if f.isRef {
			return true
		}
	}
	return false
}

// Resolve substitutes placeholders from node results and merged pipeline
// params. A template that is exactly one placeholder returns the referenced
// value with its type preserved; mixed templates render to a string.
// Unresolvable placeholders stay as their literal {{ref}} text either way.
func (t Template) Resolve(results map[string]domain.Result, params map[string]any) any {
	if t.singleRef {
		if v, ok := lookupRef(t.fragments[0].ref, results, params); ok {
			return v
		}
		return t.raw
	}
	var b strings.Builder
	for _, f := range t.fragments {
		if !f.isRef {
			b.WriteString(f.raw)
			continue
		}
		if v, ok := lookupRef(f.ref, results, params); ok {
			b.WriteString(stringify(v))
		} else {
			b.WriteString(f.raw)
		}
	}
	return b.String()
}

// ResolveValue resolves templates inside an arbitrary parameter value:
// strings are parsed and resolved, maps and slices recurse, everything else
// passes through.
func ResolveValue(v any, results map[string]domain.Result, params map[string]any) any {
	switch x := v.(type) {
	case string:
		return ParseTemplate(x).Resolve(results, params)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = ResolveValue(vv, results, params)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = ResolveValue(vv, results, params)
		}
		return out
	default:
		return v
	}
}

// lookupRef resolves "params.NAME" against merged params and "NODE.FIELD"
// against node results. The field part is a single key; dots after the first
// are part of the key.
func lookupRef(ref string, results map[string]domain.Result, params map[string]any) (any, bool) {
	if name, ok := strings.CutPrefix(ref, "params."); ok {
		v, found := params[name]
		return v, found
	}
	nodeID, field, ok := strings.Cut(ref, ".")
	if !ok {
		return nil, false
	}
	res, found := results[nodeID]
	if !found {
		return nil, false
	}
	v, found := res[field]
	return v, found
}

// stringify renders a value into a template string. JSON numbers arrive as
// float64; integral values render without a trailing ".0".
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return strconv.FormatFloat(x, 'f', 0, 64)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}
