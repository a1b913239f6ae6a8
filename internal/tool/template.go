package tool

import (
	"strconv"
	"strings"
)

// Expand substitutes {{key}} tokens in s using lookup. Unknown keys expand to
// the empty string. This is a deliberate mini-language, not a templating
// engine: tool configs are semi-trusted admin data and the substitution
// surface must stay auditable. No nesting, no expressions, no escapes.
func Expand(s string, lookup func(key string) (string, bool)) string {
	var b strings.Builder
	b.Grow(len(s))
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[start+2:], "}}")
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:start])
		key := strings.TrimSpace(s[start+2 : start+2+end])
		if val, ok := lookup(key); ok {
			b.WriteString(val)
		}
		s = s[start+2+end+2:]
	}
}

// argEnvLookup builds the standard lookup chain: {{name}} resolves from the
// call's arguments, {{ENV.NAME}} from the environment function. Missing
// entries resolve to "" (found=true) so a half-configured template degrades
// to an empty substitution instead of leaking the token downstream.
func argEnvLookup(args map[string]any, getenv func(string) string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if name, ok := strings.CutPrefix(key, "ENV."); ok {
			return getenv(name), true
		}
		if v, ok := args[key]; ok {
			return stringify(v), true
		}
		return "", true
	}
}

// stringify renders an argument value for interpolation.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		// JSON numbers arrive as float64; print integers without a point.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case nil:
		return ""
	default:
		return ""
	}
}

// extractPath narrows a decoded JSON value by a dot path such as
// "data.results.0.name". Numeric segments index into arrays.
func extractPath(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	for _, seg := range strings.Split(path, ".") {
		switch cur := v.(type) {
		case map[string]any:
			next, ok := cur[seg]
			if !ok {
				return nil, false
			}
			v = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur) {
				return nil, false
			}
			v = cur[idx]
		default:
			return nil, false
		}
	}
	return v, true
}
