package syncengine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"integration-service/internal/models"
)

const sampleBodyLimit = 2048

// AuthBinder turns a stored authentication configuration into outgoing
// request credentials.
type AuthBinder struct {
	authType string
	config   map[string]string
}

// NewAuthBinder validates the auth configuration for the given type. A
// missing credential is a ConfigError and fails before any network call.
func NewAuthBinder(authType string, config map[string]string) (*AuthBinder, error) {
	switch authType {
	case "", "none":
		return &AuthBinder{authType: "none"}, nil
	case "basic":
		if config["username"] == "" || config["password"] == "" {
			return nil, &ConfigError{Reason: "basic auth requires username and password"}
		}
	case "bearer":
		if config["token"] == "" {
			return nil, &ConfigError{Reason: "bearer auth requires a token"}
		}
	case "api_key":
		if config["header"] == "" || config["key"] == "" {
			return nil, &ConfigError{Reason: "api_key auth requires header and key"}
		}
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported auth type %q", authType)}
	}
	return &AuthBinder{authType: authType, config: config}, nil
}

// Apply decorates an outgoing request with the bound credentials.
func (b *AuthBinder) Apply(req *http.Request) {
	switch b.authType {
	case "basic":
		req.SetBasicAuth(b.config["username"], b.config["password"])
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+b.config["token"])
	case "api_key":
		req.Header.Set(b.config["header"], b.config["key"])
	}
}

// TestConnection performs one minimal GET against the endpoint with the given
// credentials and reports the outcome. Nothing is persisted, and no failure
// mode escapes as an error: unreachable hosts, TLS problems, and non-2xx
// statuses all come back as a structured result.
func TestConnection(ctx context.Context, baseURL, authType string, authConfig map[string]string, timeout time.Duration) models.ConnectionTestResult {
	start := time.Now()

	binder, err := NewAuthBinder(authType, authConfig)
	if err != nil {
		return models.ConnectionTestResult{
			Reachable: false,
			ElapsedMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL, nil)
	if err != nil {
		return models.ConnectionTestResult{
			Reachable: false,
			ElapsedMs: time.Since(start).Milliseconds(),
			Error:     fmt.Sprintf("invalid endpoint URL: %v", err),
		}
	}
	binder.Apply(req)

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return models.ConnectionTestResult{
			Reachable: false,
			ElapsedMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}
	defer resp.Body.Close()

	result := models.ConnectionTestResult{
		Reachable:  true,
		HTTPStatus: resp.StatusCode,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Error = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		return result
	}

	sample, _ := io.ReadAll(io.LimitReader(resp.Body, sampleBodyLimit))
	result.SampleBody = string(sample)
	return result
}
