package actions

import (
	"encoding/json"
	"strconv"
)

// Float returns a numeric parameter. JSON numbers decode as float64; values
// built in Go may be any integer type, a json.Number, or a numeric string.
func (a *Action) Float(key string) (float64, bool) {
	return toFloat(a.Parameters[key])
}

// Text returns a non-empty string parameter.
func (a *Action) Text(key string) (string, bool) {
	s, ok := a.Parameters[key].(string)
	return s, ok && s != ""
}

// Bool returns a boolean parameter.
func (a *Action) Bool(key string) (bool, bool) {
	b, ok := a.Parameters[key].(bool)
	return b, ok
}

// Objects returns a parameter holding a list of JSON objects.
func (a *Action) Objects(key string) []map[string]any {
	raw, ok := a.Parameters[key].([]any)
	if !ok {
		if typed, ok := a.Parameters[key].([]map[string]any); ok {
			return typed
		}
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// FloatField reads a numeric field from a decoded JSON object.
func FloatField(m map[string]any, key string) (float64, bool) {
	return toFloat(m[key])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// WithParameters returns a copy of the action with params merged over its
// own parameters.
func (a *Action) WithParameters(params map[string]any) Action {
	cp := *a
	merged := make(map[string]any, len(a.Parameters)+len(params))
	for k, v := range a.Parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	cp.Parameters = merged
	return cp
}
