// Package jobhistory persists a durable audit trail of every terminal job
// (SPEC_FULL §B.3), against the administration database connection kept
// separate from the raw pgx connection the pull protocol uses.
//
// Grounded in the teacher's src/postgres/resourcectrl/resource.go: a gorm
// model, a thin service wrapping *gorm.DB, gorm.io/driver/postgres for the
// dialect.
package jobhistory

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/batyrsync/batyrd/internal/jobmodel"
	"github.com/batyrsync/batyrd/internal/log"
)

// Record is the persisted row for one terminal job.
type Record struct {
	ID           string     `gorm:"primaryKey;column:id" json:"id"`
	LayerName    string     `gorm:"column:layer_name;not null" json:"layerName"`
	Filter       string     `gorm:"column:filter" json:"filter"`
	Status       string     `gorm:"column:status;not null" json:"status"`
	Message      string     `gorm:"column:message" json:"message"`
	Pulled       int        `gorm:"column:pulled" json:"pulled"`
	Created      int        `gorm:"column:created" json:"created"`
	Updated      int        `gorm:"column:updated" json:"updated"`
	Deleted      int        `gorm:"column:deleted" json:"deleted"`
	TimeAdded    time.Time  `gorm:"column:time_added" json:"timeAdded"`
	TimeStarted  *time.Time `gorm:"column:time_started" json:"timeStarted,omitempty"`
	TimeFinished *time.Time `gorm:"column:time_finished" json:"timeFinished,omitempty"`
}

// TableName pins the table name regardless of gorm's pluralization rules.
func (Record) TableName() string { return "batyr_job_history" }

// Store persists finished jobs for later audit/reporting.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the history table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("jobhistory: failed to connect: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("jobhistory: failed to migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// JobFinished implements worker.Lifecycle: only terminal jobs are recorded,
// so a call while the job is still IN_PROCESS is silently ignored.
func (s *Store) JobFinished(job *jobmodel.Job) {
	if !job.Terminal() {
		return
	}
	snap := job.Snapshot()
	rec := Record{
		ID:           snap.ID,
		LayerName:    snap.LayerName,
		Filter:       snap.Filter,
		Status:       string(snap.Status),
		Message:      snap.Message,
		Pulled:       snap.Statistics.Pulled,
		Created:      snap.Statistics.Created,
		Updated:      snap.Statistics.Updated,
		Deleted:      snap.Statistics.Deleted,
		TimeAdded:    snap.TimeAdded,
		TimeStarted:  snap.TimeStarted,
		TimeFinished: snap.TimeFinished,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		// The worker's Lifecycle notification is fire-and-forget; a history
		// write failure must never fail the job itself.
		log.Error(err, "jobhistory: failed to record job", "job", snap.ID)
	}
}

// JobStarted implements worker.Lifecycle; job history only records terminal
// state, so starts are a no-op.
func (s *Store) JobStarted(job *jobmodel.Job) {}

// List returns the most recent count history records for layerName, newest
// first.
func (s *Store) List(ctx context.Context, layerName string, count int) ([]Record, error) {
	var out []Record
	q := s.db.WithContext(ctx).Order("time_added DESC").Limit(count)
	if layerName != "" {
		q = q.Where("layer_name = ?", layerName)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("jobhistory: failed to list: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
