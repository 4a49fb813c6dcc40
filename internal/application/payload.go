package application

import (
	"encoding/json"
	"strconv"
)

// Raw webhook payloads arrive as decoded JSON with loosely agreed field names. These
// accessors return the first alias that is present and non-nil.

func lookup(m map[string]any, keys ...string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func str(m map[string]any, keys ...string) string {
	v, ok := lookup(m, keys...)
	if !ok {
		return ""
	}
	return toString(v)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func sub(m map[string]any, keys ...string) map[string]any {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	child, _ := v.(map[string]any)
	return child
}

func list(m map[string]any, keys ...string) []any {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	items, _ := v.([]any)
	return items
}

func integer(m map[string]any, keys ...string) int64 {
	v, ok := lookup(m, keys...)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func boolean(m map[string]any, keys ...string) bool {
	v, ok := lookup(m, keys...)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}

// flattenMessage lifts the Messenger-style nested "message" object onto the envelope so
// both {mid, text} and {message: {mid, text}} shapes read the same way.
func flattenMessage(raw map[string]any) map[string]any {
	inner := sub(raw, "message")
	if inner == nil {
		return raw
	}
	out := make(map[string]any, len(raw)+len(inner))
	for k, v := range raw {
		out[k] = v
	}
	for k, v := range inner {
		out[k] = v
	}
	return out
}
