package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"integration-service/internal/models"
	"integration-service/internal/store"
)

const skipReasonNotAnObject = "not_a_json_object"

// Options tunes a sync orchestrator. Zero values fall back to the defaults
// noted on each field.
type Options struct {
	FetchTimeout     time.Duration // per-page request timeout; default 30s
	RunTimeBudget    time.Duration // soft wall-clock budget per run; default 10m
	LeaseTTL         time.Duration // lease safety expiry; default 15m
	MaxFetchAttempts int           // attempts per page on transient errors; default 3
	BackoffBase      time.Duration // first retry delay, doubled per attempt; default 1s
	MappingWorkers   int           // parallel record mappers per page; default 4
}

func (o *Options) applyDefaults() {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.RunTimeBudget <= 0 {
		o.RunTimeBudget = 10 * time.Minute
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 15 * time.Minute
	}
	if o.MaxFetchAttempts <= 0 {
		o.MaxFetchAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.MappingWorkers <= 0 {
		o.MappingWorkers = 4
	}
}

// Orchestrator drives sync runs: it walks a data source's pages with the
// pagination strategy, maps each record, and persists raw/mapped pairs one
// page at a time. A run is incrementally durable; pages persisted before a
// failure or cancellation stay committed.
type Orchestrator struct {
	db      *gorm.DB
	records *store.RecordStore
	fetcher *Fetcher
	leases  *LeaseStore
	opts    Options
}

// NewOrchestrator wires an orchestrator over the given database and record
// store.
func NewOrchestrator(db *gorm.DB, records *store.RecordStore, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		db:      db,
		records: records,
		fetcher: NewFetcher(opts.FetchTimeout),
		leases:  NewLeaseStore(db, opts.LeaseTTL),
		opts:    opts,
	}
}

// StartSync executes one sync run for a data source and returns its report.
// An error is returned only for pre-run rejections: unknown data source,
// invalid configuration, or an already-active run (ErrRunActive). Failures
// after the run starts are carried inside the report, which is always
// produced.
func (o *Orchestrator) StartSync(ctx context.Context, dataSourceID uuid.UUID, req models.StartSyncRequest) (*models.SyncReport, error) {
	var ds models.DataSource
	err := o.db.Preload("FieldMappings").Where("id = ?", dataSourceID).Take(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gorm.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load data source %s: %w", dataSourceID, err)
	}

	binder, err := NewAuthBinder(ds.AuthType, ds.AuthConfig)
	if err != nil {
		return nil, err
	}
	strategy, err := NewStrategy(&ds)
	if err != nil {
		return nil, err
	}
	if len(ds.FieldMappings) == 0 {
		return nil, &ConfigError{Reason: "data source has no field mappings"}
	}

	token, err := o.leases.Acquire(dataSourceID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := o.leases.Release(dataSourceID, token); err != nil {
			log.Printf("Failed to release sync lease for data source %s: %v", dataSourceID, err)
		}
	}()

	log.Printf("Starting sync run for data source %s (%s)", ds.Name, dataSourceID)
	report := o.run(ctx, &ds, binder, strategy, req)

	if report.Status == models.SyncStatusCompleted || report.Status == models.SyncStatusPartial {
		now := report.FinishedAt
		update := o.db.Model(&models.DataSource{}).Where("id = ?", dataSourceID).Update("last_sync_at", now)
		if update.Error != nil {
			log.Printf("Failed to update last_sync_at for data source %s: %v", dataSourceID, update.Error)
		}
	}

	log.Printf("Sync run for data source %s finished: status=%s pages=%d processed=%d upserted=%d issues=%d skipped=%d elapsed=%dms",
		dataSourceID, report.Status, report.PagesFetched, report.RecordsProcessed,
		report.RecordsUpserted, report.RecordsWithIssues, report.RecordsSkipped, report.ElapsedMs)
	return report, nil
}

// run is the page loop: Fetching -> Mapping -> Persisting until the strategy
// signals done, a cap or the time budget is hit, the caller cancels, or a
// fetch/persist failure ends the run.
func (o *Orchestrator) run(ctx context.Context, ds *models.DataSource, binder *AuthBinder, strategy Strategy, req models.StartSyncRequest) *models.SyncReport {
	report := &models.SyncReport{
		DataSourceID: ds.ID,
		SkipReasons:  make(map[string]int),
		StartedAt:    time.Now().UTC(),
	}
	finish := func(status string) *models.SyncReport {
		report.Status = status
		report.FinishedAt = time.Now().UTC()
		report.ElapsedMs = report.FinishedAt.Sub(report.StartedAt).Milliseconds()
		if len(report.SkipReasons) == 0 {
			report.SkipReasons = nil
		}
		return report
	}

	mapper := NewMapper(ds.FieldMappings)
	deadline := report.StartedAt.Add(o.opts.RunTimeBudget)

	var prior *PageMeta
	for {
		// Cancellation and the time budget are checked between pages only;
		// a page in flight always finishes persisting.
		if ctx.Err() != nil {
			report.Warnings = append(report.Warnings, "run canceled by caller")
			return finish(models.SyncStatusCanceled)
		}
		if time.Now().After(deadline) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("run time budget of %s exhausted; completed partially", o.opts.RunTimeBudget))
			return finish(models.SyncStatusPartial)
		}
		if req.MaxPages > 0 && report.PagesFetched >= req.MaxPages {
			return finish(models.SyncStatusPartial)
		}
		if req.MaxRecords > 0 && report.RecordsProcessed >= req.MaxRecords {
			return finish(models.SyncStatusPartial)
		}

		next := strategy.Next(prior)
		if next.Warning != "" {
			report.Warnings = append(report.Warnings, next.Warning)
		}
		if next.Done {
			return finish(models.SyncStatusCompleted)
		}

		page, err := o.fetchWithRetry(ctx, ds, binder, next.Params)
		if err != nil {
			// A caller cancel that lands mid-fetch (e.g. during a retry
			// backoff) is a cancellation, not a run failure.
			if ctx.Err() != nil {
				report.Warnings = append(report.Warnings, "run canceled by caller")
				return finish(models.SyncStatusCanceled)
			}
			report.Error = err.Error()
			return finish(models.SyncStatusFailed)
		}
		report.PagesFetched++
		report.Warnings = append(report.Warnings, page.Warnings...)
		if page.Skipped > 0 {
			report.RecordsSkipped += page.Skipped
			report.SkipReasons[skipReasonNotAnObject] += page.Skipped
		}

		if report.SourceTotal == nil && ds.PaginationConfig.TotalCountPath != "" {
			if total, ok := resolveNumberPath(page.Body, ds.PaginationConfig.TotalCountPath); ok {
				report.SourceTotal = &total
			}
		}

		if len(page.Records) > 0 {
			results := o.mapPage(ctx, mapper, page.Records)
			pairs := make([]store.UpsertPair, 0, len(results))
			for i, res := range results {
				pairs = append(pairs, store.UpsertPair{
					RecordIdentifier: res.RecordIdentifier,
					RawData:          page.Records[i],
					MappedData:       res.Mapped,
				})
				if res.HasRequiredError {
					report.RecordsWithIssues++
				}
			}
			report.RecordsProcessed += len(results)

			upserted, err := o.records.UpsertBatch(ds.ID, pairs, time.Now().UTC())
			if err != nil {
				// Prior pages stay committed; only this page's batch is lost.
				report.Error = fmt.Sprintf("failed to persist page %d: %v", report.PagesFetched, err)
				return finish(models.SyncStatusFailed)
			}
			report.RecordsUpserted += upserted
		}

		prior = &PageMeta{
			PageIndex:   report.PagesFetched - 1,
			RecordCount: len(page.Records) + page.Skipped,
			Body:        page.Body,
		}
	}
}

// fetchWithRetry retries transient failures with exponential backoff up to
// the configured attempt bound. Permanent failures abort on the first
// occurrence.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, ds *models.DataSource, binder *AuthBinder, params map[string]string) (*RawPage, error) {
	var lastErr error
	for attempt := 1; attempt <= o.opts.MaxFetchAttempts; attempt++ {
		page, err := o.fetcher.FetchPage(ctx, ds, binder, params)
		if err == nil {
			return page, nil
		}

		var transient *TransientFetchError
		if !errors.As(err, &transient) {
			return nil, err
		}
		lastErr = err

		if attempt < o.opts.MaxFetchAttempts {
			delay := o.opts.BackoffBase << (attempt - 1)
			log.Printf("Transient fetch error for data source %s (attempt %d/%d), retrying in %s: %v",
				ds.ID, attempt, o.opts.MaxFetchAttempts, delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", o.opts.MaxFetchAttempts, lastErr)
}

// mapPage maps one page's records concurrently. Mapping is pure per record,
// so order is restored by index and a failure in one record cannot affect
// its siblings.
func (o *Orchestrator) mapPage(ctx context.Context, mapper *Mapper, records []map[string]interface{}) []MapResult {
	results := make([]MapResult, len(records))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MappingWorkers)
	for i := range records {
		i := i
		g.Go(func() error {
			results[i] = mapper.MapRecord(records[i])
			return nil
		})
	}
	// Workers never return errors; Wait only synchronizes.
	_ = g.Wait()
	return results
}
