package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// arguments is the decoded argument object of a tool call.
type arguments map[string]any

// missing returns the required keys that are absent or null. Keys other
// than "namespace" must also be non-blank; a blank namespace selects the
// connection default.
func (a arguments) missing(required ...string) []string {
	var out []string
	for _, key := range required {
		v, ok := a[key]
		if !ok || v == nil {
			out = append(out, key)
			continue
		}
		if s, isString := v.(string); isString && key != "namespace" && strings.TrimSpace(s) == "" {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func (a arguments) str(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// optionalBool returns nil when key is absent or null.
func (a arguments) optionalBool(key string) (*bool, error) {
	switch v := a[key].(type) {
	case nil:
		return nil, nil
	case bool:
		return &v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%s must be a boolean, got %q", key, v)
		}
		return &b, nil
	default:
		return nil, fmt.Errorf("%s must be a boolean", key)
	}
}

func (a arguments) boolean(key string, def bool) (bool, error) {
	b, err := a.optionalBool(key)
	if err != nil || b == nil {
		return def, err
	}
	return *b, nil
}

// integer accepts JSON numbers, integral floats and numeric strings. Values
// outside the int32 range are rejected rather than wrapped.
func (a arguments) integer(key string, def int) (int, error) {
	var n int64
	switch v := a[key].(type) {
	case nil:
		return def, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return def, fmt.Errorf("%s must be an integer, got %v", key, v)
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return def, fmt.Errorf("%s is out of range: %v", key, v)
		}
		return int(v), nil
	case int:
		n = int64(v)
	case int64:
		n = v
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return def, fmt.Errorf("%s must be an integer, got %q", key, v.String())
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return def, fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		n = parsed
	default:
		return def, fmt.Errorf("%s must be an integer", key)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return def, fmt.Errorf("%s is out of range: %d", key, n)
	}
	return int(n), nil
}
