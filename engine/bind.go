package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// templateRef matches one "{{nodes.<id>.output.<jsonpath>}}" reference.
// The jsonpath portion is handed to gjson, which
// already speaks the dotted/bracketed path syntax connector responses use
// (e.g. a Power BI "@odata.nextLink" style path).
var templateRef = regexp.MustCompile(`\{\{\s*nodes\.([A-Za-z0-9_-]+)\.output\.([^}]+?)\s*\}\}`)

// BindInput resolves every "{{nodes.<id>.output.<path>}}" reference in
// node's declared input template against outputs, the map of
// already-succeeded upstream nodes' outputs keyed by node id. It is
// performed once, at the moment a node becomes ready; unresolved
// required fields fail the node with bad_input.
//
// A template value is resolved in one of two ways:
//   - If a string field's value IS exactly one template (the whole
//     string, no surrounding text), the resolved value's native type
//     (object, array, number, bool, string) is substituted directly.
//   - Otherwise every template occurrence within the string is
//     interpolated as text.
func BindInput(node domain.Node, outputs map[string]map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(node.Input))
	var missing []string

	for key, raw := range node.Input {
		resolved, ok, err := bindValue(raw, outputs)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, key)
			continue
		}
		bound[key] = resolved
	}

	if len(missing) > 0 {
		return nil, domain.ErrMissingFields(dedupeStrings(missing))
	}
	return bound, nil
}

// bindValue resolves one input value, recursing into nested maps/slices
// so a template may appear anywhere in a structured parameter, not only at
// the top level.
func bindValue(raw any, outputs map[string]map[string]any) (any, bool, error) {
	switch v := raw.(type) {
	case string:
		if m := templateRef.FindStringSubmatch(v); m != nil && m[0] == strings.TrimSpace(v) {
			val, ok := lookup(m[1], m[2], outputs)
			return val, ok, nil
		}
		if !templateRef.MatchString(v) {
			return v, true, nil
		}
		missingAny := false
		out := templateRef.ReplaceAllStringFunc(v, func(tok string) string {
			m := templateRef.FindStringSubmatch(tok)
			val, ok := lookup(m[1], m[2], outputs)
			if !ok {
				missingAny = true
				return tok
			}
			return fmt.Sprint(val)
		})
		return out, !missingAny, nil

	case map[string]any:
		resolved := make(map[string]any, len(v))
		for k, sub := range v {
			val, ok, err := bindValue(sub, outputs)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			resolved[k] = val
		}
		return resolved, true, nil

	case []any:
		resolved := make([]any, len(v))
		for i, sub := range v {
			val, ok, err := bindValue(sub, outputs)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			resolved[i] = val
		}
		return resolved, true, nil

	default:
		return v, true, nil
	}
}

// lookup resolves a single "nodes.<nodeID>.output.<path>" reference
// against outputs.
func lookup(nodeID, path string, outputs map[string]map[string]any) (any, bool) {
	out, ok := outputs[nodeID]
	if !ok {
		return nil, false
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
