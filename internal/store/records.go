package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"integration-service/internal/models"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 200
)

// AllowedSortFields are the record columns consumers may sort by. Mapped
// field sorting is not offered; the mapped payload is a JSON document.
var AllowedSortFields = map[string]bool{
	"synced_at":         true,
	"record_identifier": true,
}

// ListOptions controls pagination, sorting and filtering of a record listing.
// Filters match mapped fields against a string rendering of their values.
type ListOptions struct {
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
	Filters   map[string]string
}

// RecordStore is the persisted collection of raw/mapped record pairs. The
// read side serves widgets and the mapping UI; the write side is restricted
// to the sync orchestrator and operator deletes.
type RecordStore struct {
	db *gorm.DB
}

// NewRecordStore creates a RecordStore on top of the given database.
func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{db: db}
}

// UpsertPair is one raw/mapped pair to persist for a page.
type UpsertPair struct {
	RecordIdentifier *string
	RawData          map[string]interface{}
	MappedData       map[string]interface{}
}

// UpsertBatch persists one page of records as a single transaction. Pairs
// with an identifier overwrite any existing record with the same
// (data source, identifier); pairs without one are always inserted.
func (s *RecordStore) UpsertBatch(dataSourceID uuid.UUID, pairs []UpsertPair, syncedAt time.Time) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	upserted := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, pair := range pairs {
			if pair.RecordIdentifier != nil {
				res := tx.Model(&models.IntegratedRecord{}).
					Where("data_source_id = ? AND record_identifier = ?", dataSourceID, *pair.RecordIdentifier).
					Select("raw_data", "mapped_data", "synced_at").
					Updates(models.IntegratedRecord{
						RawData:    pair.RawData,
						MappedData: pair.MappedData,
						SyncedAt:   syncedAt,
					})
				if res.Error != nil {
					return fmt.Errorf("failed to update record %q: %w", *pair.RecordIdentifier, res.Error)
				}
				if res.RowsAffected > 0 {
					upserted++
					continue
				}
			}
			record := models.IntegratedRecord{
				ID:               uuid.New(),
				DataSourceID:     dataSourceID,
				RecordIdentifier: pair.RecordIdentifier,
				RawData:          pair.RawData,
				MappedData:       pair.MappedData,
				SyncedAt:         syncedAt,
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("failed to insert record: %w", err)
			}
			upserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return upserted, nil
}

// List returns one page of a data source's records plus the total match
// count. Unfiltered listings paginate in SQL; filtered listings match mapped
// fields in memory, since the mapped payload is stored as a JSON document.
func (s *RecordStore) List(dataSourceID uuid.UUID, opts ListOptions) ([]models.IntegratedRecord, int64, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	} else if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	sortBy := opts.SortBy
	if !AllowedSortFields[sortBy] {
		sortBy = "synced_at"
	}
	order := "desc"
	if opts.SortOrder == "asc" {
		order = "asc"
	}
	orderClause := fmt.Sprintf("%s %s", sortBy, order)

	if len(opts.Filters) == 0 {
		var total int64
		err := s.db.Model(&models.IntegratedRecord{}).
			Where("data_source_id = ?", dataSourceID).
			Count(&total).Error
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count records: %w", err)
		}
		var records []models.IntegratedRecord
		err = s.db.Where("data_source_id = ?", dataSourceID).
			Order(orderClause).
			Limit(pageSize).
			Offset((page - 1) * pageSize).
			Find(&records).Error
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list records: %w", err)
		}
		return records, total, nil
	}

	var all []models.IntegratedRecord
	err := s.db.Where("data_source_id = ?", dataSourceID).
		Order(orderClause).
		Find(&all).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}

	matched := make([]models.IntegratedRecord, 0, len(all))
	for _, rec := range all {
		if matchesFilters(rec.MappedData, opts.Filters) {
			matched = append(matched, rec)
		}
	}

	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []models.IntegratedRecord{}, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func matchesFilters(mapped map[string]interface{}, filters map[string]string) bool {
	for field, want := range filters {
		value, ok := mapped[field]
		if !ok || value == nil {
			return false
		}
		if fmt.Sprintf("%v", value) != want {
			return false
		}
	}
	return true
}

// Sample returns the most recently synced raw record for a data source, used
// to populate the mapping-authoring UI with real field names. Returns nil
// when the source has no records yet.
func (s *RecordStore) Sample(dataSourceID uuid.UUID) (*models.IntegratedRecord, error) {
	var record models.IntegratedRecord
	err := s.db.Where("data_source_id = ?", dataSourceID).
		Order("synced_at desc").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sample record: %w", err)
	}
	return &record, nil
}

// GetByID loads a single record.
func (s *RecordStore) GetByID(recordID uuid.UUID) (*models.IntegratedRecord, error) {
	var record models.IntegratedRecord
	err := s.db.Where("id = ?", recordID).Take(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteByID removes one record, for operator use.
func (s *RecordStore) DeleteByID(recordID uuid.UUID) (bool, error) {
	res := s.db.Where("id = ?", recordID).Delete(&models.IntegratedRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteByDataSource removes every record a data source owns. Used by the
// registry when cascading a data source delete.
func (s *RecordStore) DeleteByDataSource(tx *gorm.DB, dataSourceID uuid.UUID) error {
	return tx.Where("data_source_id = ?", dataSourceID).Delete(&models.IntegratedRecord{}).Error
}
