package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"integration-service/internal/models"
	"integration-service/internal/store"
)

func engineTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.DataSource{},
		&models.FieldMapping{},
		&models.IntegratedRecord{},
		&models.SyncLease{},
	))
	return db
}

func newTestOrchestrator(db *gorm.DB) *Orchestrator {
	return NewOrchestrator(db, store.NewRecordStore(db), Options{
		FetchTimeout:     5 * time.Second,
		RunTimeBudget:    time.Minute,
		LeaseTTL:         time.Minute,
		MaxFetchAttempts: 3,
		BackoffBase:      time.Millisecond,
	})
}

// offsetDataset builds n raw records with stable ids and an email field.
func offsetDataset(n int) []map[string]interface{} {
	records := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, map[string]interface{}{
			"id":    fmt.Sprintf("rec-%d", i),
			"email": fmt.Sprintf("user%d@example.com", i),
			"score": i * 10,
		})
	}
	return records
}

// offsetServer serves a dataset under offset/limit pagination as
// {"items": [...], "total": n}.
func offsetServer(dataset []map[string]interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if limit <= 0 {
			limit = len(dataset)
		}
		items := []map[string]interface{}{}
		if offset < len(dataset) {
			end := offset + limit
			if end > len(dataset) {
				end = len(dataset)
			}
			items = dataset[offset:end]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"items": items, "total": len(dataset)})
	}))
}

func createOffsetSource(t *testing.T, db *gorm.DB, baseURL string, pageSize int) *models.DataSource {
	t.Helper()
	ds := &models.DataSource{
		ID:                 uuid.New(),
		Name:               "src-" + uuid.NewString(),
		BaseURL:            baseURL,
		AuthType:           "none",
		IsActive:           true,
		SyncCadence:        "manual",
		SupportsPagination: true,
		PaginationType:     "offset",
		DefaultPageSize:    pageSize,
		MaxPageSize:        100,
		PaginationConfig:   models.PaginationConfig{TotalCountPath: "total"},
	}
	require.NoError(t, db.Create(ds).Error)
	return ds
}

func createMapping(t *testing.T, db *gorm.DB, sourceID uuid.UUID, m models.FieldMapping) {
	t.Helper()
	m.ID = uuid.New()
	m.DataSourceID = sourceID
	require.NoError(t, db.Create(&m).Error)
}

func defaultMappings(t *testing.T, db *gorm.DB, sourceID uuid.UUID) {
	createMapping(t, db, sourceID, models.FieldMapping{SourcePath: "email", TargetField: "email", FieldType: "string", Required: true})
	createMapping(t, db, sourceID, models.FieldMapping{SourcePath: "score", TargetField: "score", FieldType: "number"})
}

func recordCount(t *testing.T, db *gorm.DB, sourceID uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.IntegratedRecord{}).Where("data_source_id = ?", sourceID).Count(&count).Error)
	return count
}

func TestStartSync_OffsetPagination(t *testing.T) {
	server := offsetServer(offsetDataset(5))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 2)
	defaultMappings(t, db, ds.ID)
	orc := newTestOrchestrator(db)

	report, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusCompleted, report.Status)
	assert.Equal(t, 3, report.PagesFetched, "pages of [2,2,1] mean exactly 3 fetches")
	assert.Equal(t, 5, report.RecordsProcessed)
	assert.Equal(t, 5, report.RecordsUpserted)
	assert.Equal(t, 0, report.RecordsWithIssues)
	require.NotNil(t, report.SourceTotal)
	assert.Equal(t, int64(5), *report.SourceTotal)
	assert.Equal(t, int64(5), recordCount(t, db, ds.ID))

	var reloaded models.DataSource
	require.NoError(t, db.Where("id = ?", ds.ID).Take(&reloaded).Error)
	assert.NotNil(t, reloaded.LastSyncAt, "successful run updates last_sync_at")
}

func TestStartSync_Idempotent(t *testing.T) {
	server := offsetServer(offsetDataset(5))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 2)
	defaultMappings(t, db, ds.ID)
	orc := newTestOrchestrator(db)

	_, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)
	report, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)

	assert.Equal(t, 5, report.RecordsUpserted)
	assert.Equal(t, int64(5), recordCount(t, db, ds.ID), "stable identifiers dedupe across runs")
}

func TestStartSync_RunAlreadyActive(t *testing.T) {
	server := offsetServer(offsetDataset(2))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 10)
	defaultMappings(t, db, ds.ID)
	orc := newTestOrchestrator(db)

	leases := NewLeaseStore(db, time.Minute)
	token, err := leases.Acquire(ds.ID)
	require.NoError(t, err)

	_, err = orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	assert.ErrorIs(t, err, ErrRunActive)

	require.NoError(t, leases.Release(ds.ID, token))
	_, err = orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	assert.NoError(t, err, "run proceeds once the lease is free")
}

func TestStartSync_TransientErrorRetried(t *testing.T) {
	dataset := offsetDataset(2)
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"items": dataset})
	}))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 10)
	defaultMappings(t, db, ds.ID)
	orc := newTestOrchestrator(db)

	report, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, report.Status, "two 5xx responses are retried, third attempt succeeds")
	assert.Equal(t, 2, report.RecordsUpserted)
}

func TestStartSync_TransientErrorExhaustsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 10)
	defaultMappings(t, db, ds.ID)
	orc := newTestOrchestrator(db)

	report, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err, "failed runs still return a report")
	assert.Equal(t, models.SyncStatusFailed, report.Status)
	assert.NotEmpty(t, report.Error)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	var reloaded models.DataSource
	require.NoError(t, db.Where("id = ?", ds.ID).Take(&reloaded).Error)
	assert.Nil(t, reloaded.LastSyncAt, "failed run leaves last_sync_at untouched")
}

func TestStartSync_AuthFailureNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 10)
	defaultMappings(t, db, ds.ID)
	orc := newTestOrchestrator(db)

	report, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, report.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "auth failures abort without retry")
}

func TestStartSync_CursorPagination(t *testing.T) {
	// Two pages; the second response omits next_cursor, ending the run
	// cleanly.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"items":       []map[string]interface{}{{"id": "a"}, {"id": "b"}},
				"next_cursor": "page-2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{{"id": "c"}},
		})
	}))
	defer server.Close()

	db := engineTestDB(t)
	ds := &models.DataSource{
		ID:                 uuid.New(),
		Name:               "cursor-" + uuid.NewString(),
		BaseURL:            server.URL,
		AuthType:           "none",
		SupportsPagination: true,
		PaginationType:     "cursor",
		DefaultPageSize:    25,
		MaxPageSize:        100,
		PaginationConfig:   models.PaginationConfig{CursorPath: "next_cursor"},
	}
	require.NoError(t, db.Create(ds).Error)
	createMapping(t, db, ds.ID, models.FieldMapping{SourcePath: "id", TargetField: "ident", FieldType: "string"})
	orc := newTestOrchestrator(db)

	report, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, report.Status)
	assert.Equal(t, 2, report.PagesFetched)
	assert.Empty(t, report.Error)
	assert.Equal(t, int64(3), recordCount(t, db, ds.ID))
}

func TestStartSync_RequiredErrorsDoNotBlockSiblings(t *testing.T) {
	dataset := []map[string]interface{}{
		{"id": "ok-1", "email": "a@example.com"},
		{"id": "broken", "name": "no email here"},
		{"id": "ok-2", "email": "b@example.com"},
	}
	server := offsetServer(dataset)
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 10)
	createMapping(t, db, ds.ID, models.FieldMapping{SourcePath: "email", TargetField: "email", FieldType: "string", Required: true})
	orc := newTestOrchestrator(db)

	report, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, report.Status)
	assert.Equal(t, 3, report.RecordsUpserted, "records with mapping issues are stored, not dropped")
	assert.Equal(t, 1, report.RecordsWithIssues)

	var broken models.IntegratedRecord
	require.NoError(t, db.Where("data_source_id = ? AND record_identifier = ?", ds.ID, "broken").Take(&broken).Error)
	value, present := broken.MappedData["email"]
	assert.True(t, present)
	assert.Nil(t, value)
}

func TestStartSync_NullIdentifierAppendOnly(t *testing.T) {
	dataset := []map[string]interface{}{
		{"payload": map[string]interface{}{"a": 1}},
		{"payload": map[string]interface{}{"a": 2}},
	}
	server := offsetServer(dataset)
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 10)
	// A json-typed mapping yields no identifier candidates.
	createMapping(t, db, ds.ID, models.FieldMapping{SourcePath: "payload", TargetField: "payload", FieldType: "json"})
	orc := newTestOrchestrator(db)

	_, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)
	_, err = orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)

	assert.Equal(t, int64(4), recordCount(t, db, ds.ID), "records without identifiers are append-only")
}

func TestStartSync_MaxPagesCap(t *testing.T) {
	server := offsetServer(offsetDataset(10))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 2)
	defaultMappings(t, db, ds.ID)
	orc := newTestOrchestrator(db)

	report, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{MaxPages: 1})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPartial, report.Status)
	assert.Equal(t, 1, report.PagesFetched)
	assert.Equal(t, int64(2), recordCount(t, db, ds.ID))
}

func TestStartSync_RunTimeBudgetEndsPartial(t *testing.T) {
	// An endless source: every offset gets a full page, so only the run time
	// budget can stop the loop.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		offset := r.URL.Query().Get("offset")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": "a-" + offset, "email": "a@example.com"},
				{"id": "b-" + offset, "email": "b@example.com"},
			},
		})
	}))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 2)
	defaultMappings(t, db, ds.ID)
	orc := NewOrchestrator(db, store.NewRecordStore(db), Options{
		FetchTimeout:     5 * time.Second,
		RunTimeBudget:    100 * time.Millisecond,
		LeaseTTL:         time.Minute,
		MaxFetchAttempts: 3,
		BackoffBase:      time.Millisecond,
	})

	report, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPartial, report.Status)
	assert.Equal(t, 1, report.PagesFetched, "the budget check between pages stops after the slow first page")
	assert.Equal(t, int64(2), recordCount(t, db, ds.ID), "the page in flight when the budget ran out is still persisted")
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "budget")

	var reloaded models.DataSource
	require.NoError(t, db.Where("id = ?", ds.ID).Take(&reloaded).Error)
	assert.NotNil(t, reloaded.LastSyncAt, "a partial run landed data, so last_sync_at advances")
}

func TestStartSync_PersistFailureKeepsPriorPages(t *testing.T) {
	dataset := []map[string]interface{}{
		{"id": "ok-1", "email": "a@example.com"},
		{"id": "ok-2", "email": "b@example.com"},
		{"id": "bad-1", "email": "c@example.com", "poison": true},
		{"id": "bad-2", "email": "d@example.com", "poison": true},
	}
	server := offsetServer(dataset)
	defer server.Close()

	db := engineTestDB(t)
	// Reject inserts of the second page's records at the database level to
	// simulate a persistence failure mid-run.
	require.NoError(t, db.Exec(`
		CREATE TRIGGER reject_poisoned_inserts BEFORE INSERT ON integrated_records
		WHEN instr(NEW.raw_data, 'poison') > 0
		BEGIN
			SELECT RAISE(ABORT, 'insert rejected');
		END`).Error)

	ds := createOffsetSource(t, db, server.URL, 2)
	defaultMappings(t, db, ds.ID)
	orc := newTestOrchestrator(db)

	report, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, report.Status)
	assert.Contains(t, report.Error, "persist page 2")
	assert.Equal(t, 2, report.RecordsUpserted)
	assert.Equal(t, int64(2), recordCount(t, db, ds.ID), "pages committed before the failure stay committed")

	var reloaded models.DataSource
	require.NoError(t, db.Where("id = ?", ds.ID).Take(&reloaded).Error)
	assert.Nil(t, reloaded.LastSyncAt)
}

func TestStartSync_CanceledDuringRetryBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Cancel while the fetch is in flight; the orchestrator notices
		// during the retry backoff that follows this 500.
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 10)
	defaultMappings(t, db, ds.ID)
	orc := NewOrchestrator(db, store.NewRecordStore(db), Options{
		FetchTimeout:     5 * time.Second,
		RunTimeBudget:    time.Minute,
		LeaseTTL:         time.Minute,
		MaxFetchAttempts: 3,
		BackoffBase:      time.Minute, // only cancellation can end the backoff wait
	})

	report, err := orc.StartSync(ctx, ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCanceled, report.Status, "a cancel landing mid-retry is a cancellation, not a failure")
	assert.Empty(t, report.Error)
	assert.Equal(t, 0, report.PagesFetched)
}

func TestStartSync_CanceledBeforeFirstPage(t *testing.T) {
	server := offsetServer(offsetDataset(4))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 2)
	defaultMappings(t, db, ds.ID)
	orc := newTestOrchestrator(db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := orc.StartSync(ctx, ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCanceled, report.Status)
	assert.Equal(t, 0, report.PagesFetched)
}

func TestStartSync_UnknownDataSource(t *testing.T) {
	db := engineTestDB(t)
	orc := newTestOrchestrator(db)

	_, err := orc.StartSync(context.Background(), uuid.New(), models.StartSyncRequest{})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestStartSync_NoMappingsRejected(t *testing.T) {
	server := offsetServer(offsetDataset(1))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 10)
	orc := newTestOrchestrator(db)

	_, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStartSync_MalformedJSONBodyFailsRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	db := engineTestDB(t)
	ds := createOffsetSource(t, db, server.URL, 10)
	defaultMappings(t, db, ds.ID)
	orc := newTestOrchestrator(db)

	report, err := orc.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, report.Status)
	assert.Contains(t, report.Error, "JSON")
}
