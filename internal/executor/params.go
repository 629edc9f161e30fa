package executor

import (
	"fmt"
	"net/url"

	"github.com/venuesync/backend/internal/actions"
)

func missing(key string) error {
	return fmt.Errorf("%w: %s", ErrMissingParameter, key)
}

func requireText(a *actions.Action, key string) (string, error) {
	v, ok := a.Text(key)
	if !ok {
		return "", missing(key)
	}
	return v, nil
}

func requireFloat(a *actions.Action, key string) (float64, error) {
	v, ok := a.Float(key)
	if !ok {
		return 0, missing(key)
	}
	return v, nil
}

func requireBool(a *actions.Action, key string) (bool, error) {
	v, ok := a.Bool(key)
	if !ok {
		return false, missing(key)
	}
	return v, nil
}

// dataText reads a string from captured rollback data.
func dataText(data map[string]any, key string) (string, error) {
	v, ok := data[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: rollback data %s", ErrMissingParameter, key)
	}
	return v, nil
}

func dataFloat(data map[string]any, key string) (float64, error) {
	v, ok := actions.FloatField(data, key)
	if !ok {
		return 0, fmt.Errorf("%w: rollback data %s", ErrMissingParameter, key)
	}
	return v, nil
}

func dataBool(data map[string]any, key string) (bool, error) {
	v, ok := data[key].(bool)
	if !ok {
		return false, fmt.Errorf("%w: rollback data %s", ErrMissingParameter, key)
	}
	return v, nil
}

// optional copies the parameters that are present into body.
func optional(a *actions.Action, body map[string]any, mapping map[string]string) {
	for param, field := range mapping {
		if v, ok := a.Parameters[param]; ok && v != nil {
			body[field] = v
		}
	}
}

func seg(s string) string { return url.PathEscape(s) }

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
