package templating

import (
	"fmt"
	"reflect"
)

// dict builds a map from alternating key/value arguments, so partials can be
// called with more than one value.
func dict(pairs ...any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("dict expects an even number of arguments, got %d", len(pairs))
	}
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict key at position %d is %T, not string", i, pairs[i])
		}
		m[key] = pairs[i+1]
	}
	return m, nil
}

// defaultValue returns val unless it is unset, in which case it returns fallback.
// Registered as "default", used as {{ .title | default "Untitled" }}.
func defaultValue(fallback, val any) any {
	v := reflect.ValueOf(val)
	if !v.IsValid() || v.IsZero() {
		return fallback
	}
	return val
}
