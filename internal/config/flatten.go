package config

import (
	"maps"
	"slices"
	"strings"
)

// Flatten turns nested config sections into dotted keys, so
// {"http": {"listen": ":8787"}} becomes {"http.listen": ":8787"}.
// Empty sections produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, section map[string]any)
	walk = func(prefix string, section map[string]any) {
		for k, v := range section {
			if child, ok := v.(map[string]any); ok {
				walk(prefix+k+".", child)
				continue
			}
			out[prefix+k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. When a dotted key runs through a
// scalar, the scalar is replaced by a section.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		setPath(out, k, v)
	}
	return out
}

func setPath(m map[string]any, key string, v any) {
	for {
		head, rest, nested := strings.Cut(key, ".")
		if !nested {
			m[key] = v
			return
		}
		child, ok := m[head].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[head] = child
		}
		m, key = child, rest
	}
}

// SortedKeys returns the keys of a flat map in lexical order.
func SortedKeys(flat map[string]any) []string {
	return slices.Sorted(maps.Keys(flat))
}
