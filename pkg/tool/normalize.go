package tool

import (
	"encoding/json"
	"strings"
)

// NormalizeArgs canonicalizes tool arguments before execution and cache
// keying: string values are whitespace-trimmed and case-folded, nested maps
// and lists are normalized recursively. Numbers and booleans pass through.
func NormalizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[strings.TrimSpace(k)] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(val))
	case map[string]any:
		return NormalizeArgs(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

// CacheKey derives the cache key for a call. json.Marshal sorts map keys, so
// identical normalized arguments always produce identical keys.
func CacheKey(name string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		// Unmarshalable arguments cannot be cached deterministically;
		// fall back to a per-tool key so at least identical misses
		// collapse per tool.
		return name
	}
	return name + ":" + string(data)
}
