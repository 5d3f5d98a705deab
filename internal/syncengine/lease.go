package syncengine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"integration-service/internal/models"
)

// LeaseStore implements per-data-source mutual exclusion for sync runs using
// a persisted lease row instead of an in-memory flag, so a lock survives
// process restarts and expires on its own after a crash.
type LeaseStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewLeaseStore returns a LeaseStore whose leases expire after ttl.
func NewLeaseStore(db *gorm.DB, ttl time.Duration) *LeaseStore {
	return &LeaseStore{db: db, ttl: ttl}
}

// Acquire takes the lease for a data source. It returns ErrRunActive when an
// unexpired lease is held by another run. An expired lease is taken over.
func (s *LeaseStore) Acquire(dataSourceID uuid.UUID) (uuid.UUID, error) {
	token := uuid.New()
	now := time.Now().UTC()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var lease models.SyncLease
		err := tx.Where("data_source_id = ?", dataSourceID).Take(&lease).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			create := tx.Create(&models.SyncLease{
				DataSourceID: dataSourceID,
				Token:        token,
				ExpiresAt:    now.Add(s.ttl),
			})
			if create.Error != nil {
				// A duplicate key means a concurrent run created the row
				// first. Anything else is a real database failure.
				if isDuplicateLease(create.Error) {
					return ErrRunActive
				}
				return fmt.Errorf("failed to create sync lease: %w", create.Error)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read sync lease: %w", err)
		}

		if lease.ExpiresAt.After(now) {
			return ErrRunActive
		}

		// Take over the expired lease. The token guard makes this a
		// compare-and-swap: if another run got here first, zero rows match.
		res := tx.Model(&models.SyncLease{}).
			Where("data_source_id = ? AND token = ?", dataSourceID, lease.Token).
			Updates(map[string]interface{}{
				"token":      token,
				"expires_at": now.Add(s.ttl),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to take over expired lease: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrRunActive
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return token, nil
}

// isDuplicateLease reports whether err is a primary-key violation on the
// lease row, covering PostgreSQL in production and SQLite in tests.
func isDuplicateLease(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Release frees the lease, but only when the caller still holds it; a lease
// that expired and was taken over by another run is left alone.
func (s *LeaseStore) Release(dataSourceID, token uuid.UUID) error {
	return s.db.Where("data_source_id = ? AND token = ?", dataSourceID, token).
		Delete(&models.SyncLease{}).Error
}
