package syncengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integration-service/internal/models"
)

func fetchFrom(t *testing.T, server *httptest.Server, cfg models.PaginationConfig, params map[string]string) (*RawPage, error) {
	t.Helper()
	ds := &models.DataSource{BaseURL: server.URL, PaginationConfig: cfg}
	binder, err := NewAuthBinder("none", nil)
	require.NoError(t, err)
	return NewFetcher(5 * time.Second).FetchPage(context.Background(), ds, binder, params)
}

func jsonServer(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func TestFetchPage_ConfiguredRecordsPath(t *testing.T) {
	server := jsonServer(`{"data": {"results": [{"id": 1}, {"id": 2}]}, "errors": []}`)
	defer server.Close()

	page, err := fetchFrom(t, server, models.PaginationConfig{RecordsPath: "data.results"}, nil)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Empty(t, page.Warnings)
}

func TestFetchPage_RecordsPathMissing(t *testing.T) {
	server := jsonServer(`{"items": [{"id": 1}]}`)
	defer server.Close()

	page, err := fetchFrom(t, server, models.PaginationConfig{RecordsPath: "data.results"}, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Records, "a mismatched records path yields an empty page, not a failure")
	require.Len(t, page.Warnings, 1)
	assert.Contains(t, page.Warnings[0], "data.results")
}

func TestFetchPage_BodyIsArray(t *testing.T) {
	server := jsonServer(`[{"id": 1}, {"id": 2}, {"id": 3}]`)
	defer server.Close()

	page, err := fetchFrom(t, server, models.PaginationConfig{}, nil)
	require.NoError(t, err)
	assert.Len(t, page.Records, 3)
}

func TestFetchPage_SingleArrayFieldInferred(t *testing.T) {
	server := jsonServer(`{"total": 2, "users": [{"id": 1}, {"id": 2}]}`)
	defer server.Close()

	page, err := fetchFrom(t, server, models.PaginationConfig{}, nil)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Empty(t, page.Warnings)
}

func TestFetchPage_MultipleArrayFieldsWarn(t *testing.T) {
	server := jsonServer(`{"users": [{"id": 1}], "errors": [{"code": "x"}]}`)
	defer server.Close()

	page, err := fetchFrom(t, server, models.PaginationConfig{}, nil)
	require.NoError(t, err)
	require.Len(t, page.Warnings, 1)
	assert.Contains(t, page.Warnings[0], `"errors"`, "ambiguity resolves to the first field in key order")
	require.Len(t, page.Records, 1)
	assert.Equal(t, "x", page.Records[0]["code"])
}

func TestFetchPage_NonObjectEntriesSkipped(t *testing.T) {
	server := jsonServer(`{"items": [{"id": 1}, "stray-string", 42, {"id": 2}]}`)
	defer server.Close()

	page, err := fetchFrom(t, server, models.PaginationConfig{}, nil)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 2, page.Skipped)
}

func TestFetchPage_QueryParamsMerged(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"items": []}`))
	}))
	defer server.Close()

	ds := &models.DataSource{BaseURL: server.URL + "/v2/users?expand=profile"}
	binder, err := NewAuthBinder("none", nil)
	require.NoError(t, err)
	_, err = NewFetcher(5*time.Second).FetchPage(context.Background(), ds, binder, map[string]string{"limit": "10", "offset": "20"})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "expand=profile", "existing query parameters survive")
	assert.Contains(t, gotQuery, "limit=10")
	assert.Contains(t, gotQuery, "offset=20")
}

func TestFetchPage_StatusClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		transient bool
	}{
		{"internal error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"forbidden", http.StatusForbidden, false},
		{"not found", http.StatusNotFound, false},
		{"gone", http.StatusGone, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			_, err := fetchFrom(t, server, models.PaginationConfig{}, nil)
			require.Error(t, err)
			if tc.transient {
				var transient *TransientFetchError
				assert.ErrorAs(t, err, &transient)
				assert.Equal(t, tc.status, transient.StatusCode)
			} else {
				var permanent *PermanentFetchError
				assert.ErrorAs(t, err, &permanent)
				assert.Equal(t, tc.status, permanent.StatusCode)
			}
		})
	}
}
