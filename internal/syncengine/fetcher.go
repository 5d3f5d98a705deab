package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"integration-service/internal/models"
)

// RawPage is the result of one page fetch: the located records plus the full
// decoded body, which the pagination strategy inspects for cursors and
// totals.
type RawPage struct {
	Records  []map[string]interface{}
	Body     interface{}
	Skipped  int // entries in the records array that were not JSON objects
	Warnings []string
}

// Fetcher executes single page fetches against a data source.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher whose requests are bounded by the given
// timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// FetchPage performs one HTTP page fetch. Network-level failures and 5xx
// responses come back as *TransientFetchError; 4xx responses, auth
// rejections and non-JSON bodies as *PermanentFetchError. The orchestrator
// decides retry versus abort.
func (f *Fetcher) FetchPage(ctx context.Context, ds *models.DataSource, binder *AuthBinder, params map[string]string) (*RawPage, error) {
	reqURL, err := buildURL(ds.BaseURL, params)
	if err != nil {
		return nil, &PermanentFetchError{Cause: fmt.Errorf("failed to build request URL: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &PermanentFetchError{Cause: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	binder.Apply(req)

	resp, err := f.client.Do(req)
	if err != nil {
		// Timeouts, connection resets, DNS failures: all worth a retry.
		return nil, &TransientFetchError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &TransientFetchError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("server error from %s", ds.BaseURL)}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &PermanentFetchError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("authentication rejected by %s", ds.BaseURL)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &PermanentFetchError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("unexpected status from %s", ds.BaseURL)}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientFetchError{Cause: fmt.Errorf("failed to read response body: %w", err)}
	}

	var body interface{}
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return nil, &PermanentFetchError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("response body is not valid JSON: %w", err)}
	}

	page := &RawPage{Body: body}
	rawRecords, warning := locateRecords(body, ds.PaginationConfig.RecordsPath)
	if warning != "" {
		page.Warnings = append(page.Warnings, warning)
	}
	for _, entry := range rawRecords {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			page.Skipped++
			continue
		}
		page.Records = append(page.Records, obj)
	}
	return page, nil
}

func buildURL(baseURL string, params map[string]string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// locateRecords finds the records array within an arbitrary response body.
// A configured records path wins. Without one: the body itself if it is an
// array; otherwise the single array-valued top-level field; with multiple
// array fields the first in key order is used and a warning is returned,
// since the choice is a guess.
func locateRecords(body interface{}, recordsPath string) ([]interface{}, string) {
	if recordsPath != "" {
		raw, ok := ResolvePath(body, recordsPath)
		if !ok || raw == nil {
			return nil, fmt.Sprintf("configured records path %q not found in response; treating page as empty", recordsPath)
		}
		arr, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Sprintf("configured records path %q does not hold an array; treating page as empty", recordsPath)
		}
		return arr, ""
	}

	if arr, ok := body.([]interface{}); ok {
		return arr, ""
	}

	obj, ok := body.(map[string]interface{})
	if !ok {
		return nil, "response body is neither an array nor an object; treating page as empty"
	}

	var arrayKeys []string
	for k, v := range obj {
		if _, isArr := v.([]interface{}); isArr {
			arrayKeys = append(arrayKeys, k)
		}
	}
	if len(arrayKeys) == 0 {
		return nil, "no array-valued field found in response; treating page as empty"
	}
	sort.Strings(arrayKeys)
	key := arrayKeys[0]
	if len(arrayKeys) > 1 {
		return obj[key].([]interface{}),
			fmt.Sprintf("response has %d array-valued fields; using %q (configure records_path to disambiguate)", len(arrayKeys), key)
	}
	return obj[key].([]interface{}), ""
}
