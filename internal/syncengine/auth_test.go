package syncengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthBinder_Basic(t *testing.T) {
	binder, err := NewAuthBinder("basic", map[string]string{"username": "ann", "password": "s3cret"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	binder.Apply(req)

	user, pass, ok := req.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "ann", user)
	assert.Equal(t, "s3cret", pass)
}

func TestAuthBinder_Bearer(t *testing.T) {
	binder, err := NewAuthBinder("bearer", map[string]string{"token": "tok-123"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	binder.Apply(req)
	assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
}

func TestAuthBinder_APIKey(t *testing.T) {
	binder, err := NewAuthBinder("api_key", map[string]string{"header": "X-Api-Key", "key": "k-9"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	binder.Apply(req)
	assert.Equal(t, "k-9", req.Header.Get("X-Api-Key"))
}

func TestAuthBinder_None(t *testing.T) {
	binder, err := NewAuthBinder("none", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	binder.Apply(req)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestAuthBinder_MissingCredentials(t *testing.T) {
	cases := []struct {
		authType string
		config   map[string]string
	}{
		{"basic", map[string]string{"username": "ann"}},
		{"bearer", map[string]string{}},
		{"api_key", map[string]string{"header": "X-Api-Key"}},
		{"kerberos", map[string]string{}},
	}
	for _, tc := range cases {
		_, err := NewAuthBinder(tc.authType, tc.config)
		var cfgErr *ConfigError
		assert.ErrorAs(t, err, &cfgErr, "auth type %s", tc.authType)
	}
}

func TestTestConnection_OK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	result := TestConnection(context.Background(), server.URL, "bearer", map[string]string{"token": "tok"}, 5*time.Second)
	assert.True(t, result.Reachable)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Contains(t, result.SampleBody, "ok")
	assert.Empty(t, result.Error)
}

func TestTestConnection_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	result := TestConnection(context.Background(), server.URL, "none", nil, 5*time.Second)
	assert.True(t, result.Reachable)
	assert.Equal(t, http.StatusServiceUnavailable, result.HTTPStatus)
	assert.NotEmpty(t, result.Error)
}

func TestTestConnection_UnreachableHost(t *testing.T) {
	start := time.Now()
	result := TestConnection(context.Background(), "http://127.0.0.1:1", "none", nil, 2*time.Second)
	assert.False(t, result.Reachable)
	assert.NotEmpty(t, result.Error)
	assert.Less(t, time.Since(start), 5*time.Second, "must fail within the configured timeout")
}

func TestTestConnection_BadAuthConfig(t *testing.T) {
	result := TestConnection(context.Background(), "http://example.com", "basic", nil, time.Second)
	assert.False(t, result.Reachable)
	assert.NotEmpty(t, result.Error)
}
