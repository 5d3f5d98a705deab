package syncengine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestResolvePath(t *testing.T) {
	body := decode(t, `{
		"user": {"name": "Ann", "tags": ["admin", "ops"]},
		"items": [{"sku": "a-1"}, {"sku": "b-2"}],
		"total": 42
	}`)

	tests := []struct {
		path  string
		want  interface{}
		found bool
	}{
		{"user.name", "Ann", true},
		{"user.tags.1", "ops", true},
		{"items.0.sku", "a-1", true},
		{"items.1.sku", "b-2", true},
		{"total", float64(42), true},
		{"user.missing", nil, false},
		{"items.5.sku", nil, false},
		{"items.x.sku", nil, false},
		{"total.deeper", nil, false},
		{"", nil, false},
	}
	for _, tc := range tests {
		got, ok := ResolvePath(body, tc.path)
		assert.Equal(t, tc.found, ok, "path %q", tc.path)
		if tc.found {
			assert.Equal(t, tc.want, got, "path %q", tc.path)
		}
	}
}

func TestResolveNumberPath(t *testing.T) {
	body := decode(t, `{"meta": {"total": 120, "pages": "12", "label": "x"}}`)

	n, ok := resolveNumberPath(body, "meta.total")
	assert.True(t, ok)
	assert.Equal(t, int64(120), n)

	n, ok = resolveNumberPath(body, "meta.pages")
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)

	_, ok = resolveNumberPath(body, "meta.label")
	assert.False(t, ok)

	_, ok = resolveNumberPath(body, "meta.missing")
	assert.False(t, ok)
}
