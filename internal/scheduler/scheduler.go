package scheduler

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"integration-service/internal/models"
	"integration-service/internal/syncengine"
)

// SyncStarter is the trigger interface the scheduler calls into. It is the
// same entrypoint manual triggers use; the scheduler stays outside the
// engine.
type SyncStarter interface {
	StartSync(ctx context.Context, dataSourceID uuid.UUID, req models.StartSyncRequest) (*models.SyncReport, error)
}

// Scheduler starts cadence-based sync runs for active data sources. Sources
// with a "manual" cadence are never scheduled.
type Scheduler struct {
	db      *gorm.DB
	starter SyncStarter
	cron    *cron.Cron
}

// New creates a Scheduler over the given database and sync entrypoint.
func New(db *gorm.DB, starter SyncStarter) *Scheduler {
	return &Scheduler{
		db:      db,
		starter: starter,
		cron:    cron.New(),
	}
}

// Start registers the cadence jobs and begins the cron loop.
func (s *Scheduler) Start() {
	for cadence, spec := range map[string]string{
		"hourly": "@hourly",
		"daily":  "@daily",
		"weekly": "@weekly",
	} {
		if _, err := s.cron.AddFunc(spec, func() { s.runCadence(cadence) }); err != nil {
			log.Printf("Failed to register %s sync schedule: %v", cadence, err)
		}
	}
	s.cron.Start()
	log.Println("Sync scheduler started")
}

// Stop halts the cron loop. Runs already started are left to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Sync scheduler stopped")
}

// runCadence starts a sync for every active data source on the given
// cadence. Sources with a run already in flight are skipped, not queued.
func (s *Scheduler) runCadence(cadence string) {
	var sources []models.DataSource
	err := s.db.Where("is_active = ? AND sync_cadence = ?", true, cadence).Find(&sources).Error
	if err != nil {
		log.Printf("Failed to list %s-cadence data sources: %v", cadence, err)
		return
	}
	if len(sources) == 0 {
		return
	}
	log.Printf("Scheduler triggering %d %s-cadence sync(s)", len(sources), cadence)

	for _, ds := range sources {
		report, err := s.starter.StartSync(context.Background(), ds.ID, models.StartSyncRequest{})
		if errors.Is(err, syncengine.ErrRunActive) {
			log.Printf("Skipping scheduled sync for data source %s: a run is already active", ds.ID)
			continue
		}
		if err != nil {
			log.Printf("Scheduled sync for data source %s failed to start: %v", ds.ID, err)
			continue
		}
		if report.Status == models.SyncStatusFailed {
			log.Printf("Scheduled sync for data source %s failed: %s", ds.ID, report.Error)
		}
	}
}
