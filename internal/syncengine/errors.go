package syncengine

import (
	"errors"
	"fmt"
)

// ErrRunActive is returned when a sync is requested for a data source that
// already has a run in flight. The caller is expected to retry later; runs
// are never queued.
var ErrRunActive = errors.New("a sync run is already active for this data source")

// ConfigError reports invalid data source configuration (auth or pagination).
// It is surfaced before any network call and never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Reason
}

// TransientFetchError reports a failure that is worth retrying: a timeout,
// connection error, or 5xx response.
type TransientFetchError struct {
	StatusCode int // 0 when the request never got a response
	Cause      error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient fetch error (status %d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("transient fetch error: %v", e.Cause)
}

func (e *TransientFetchError) Unwrap() error { return e.Cause }

// PermanentFetchError reports a failure that retrying cannot fix: a 4xx
// response, an auth rejection, or a body that is not valid JSON. It aborts
// the run immediately.
type PermanentFetchError struct {
	StatusCode int
	Cause      error
}

func (e *PermanentFetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent fetch error (status %d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("permanent fetch error: %v", e.Cause)
}

func (e *PermanentFetchError) Unwrap() error { return e.Cause }
