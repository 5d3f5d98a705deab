package syncengine

import (
	"strconv"
	"strings"
)

// ResolvePath walks a dot-notation path through a decoded JSON value.
// Object keys and numeric array indices are both valid segments, so
// "items.0.user.email" reaches into the first element of "items".
// The second return value is false when any segment cannot be resolved.
//
// This is deliberately a walker over map[string]interface{} / []interface{}
// rather than reflection over typed structs: raw records arrive from
// uncontrolled third parties and match no static shape.
func ResolvePath(value interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	current := value
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, false
		}
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			// Scalar or nil reached before the path was exhausted.
			return nil, false
		}
	}
	return current, true
}

// resolveNumberPath resolves a path and coerces the result to an int64.
// Used for total-count and total-pages response fields, which some APIs
// return as numbers and some as strings.
func resolveNumberPath(body interface{}, path string) (int64, bool) {
	raw, ok := ResolvePath(body, path)
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
