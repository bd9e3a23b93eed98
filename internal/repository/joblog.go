package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ridgeline-systems/zvault/internal/store"
)

// JobLogRepository persists append-only JobLog rows: one Create at attempt
// start, one Complete at attempt end.
type JobLogRepository interface {
	Create(ctx context.Context, l *store.JobLog) error
	Complete(ctx context.Context, id uuid.UUID, status store.LogStatus, message, stdout, stderr string, durationSeconds float64, transferred string) error
	GetByID(ctx context.Context, id uuid.UUID) (*store.JobLog, error)
	ListByJob(ctx context.Context, jobID uuid.UUID, opts ListOptions) ([]store.JobLog, error)
	// ListRunningOlderThan returns JobLog rows still Status=started with
	// StartedAt before cutoff — candidates for the Scheduler's startup
	// stale-run-recovery sweep (S6).
	ListRunningOlderThan(ctx context.Context, cutoff time.Time) ([]store.JobLog, error)
	// DeleteOlderThan removes completed JobLog rows past the configured
	// retention window.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type gormJobLogRepository struct {
	db *gorm.DB
}

// NewJobLogRepository constructs a JobLogRepository backed by db.
func NewJobLogRepository(db *gorm.DB) JobLogRepository {
	return &gormJobLogRepository{db: db}
}

func (r *gormJobLogRepository) Create(ctx context.Context, l *store.JobLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *gormJobLogRepository) Complete(ctx context.Context, id uuid.UUID, status store.LogStatus, message, stdout, stderr string, durationSeconds float64, transferred string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&store.JobLog{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":           status,
		"message":          message,
		"stdout":           stdout,
		"stderr":           stderr,
		"duration_seconds": durationSeconds,
		"transferred":      transferred,
		"completed_at":     now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormJobLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*store.JobLog, error) {
	var l store.JobLog
	if err := r.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *gormJobLogRepository) ListByJob(ctx context.Context, jobID uuid.UUID, opts ListOptions) ([]store.JobLog, error) {
	var logs []store.JobLog
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Limit(opts.limit()).Offset(opts.offset()).
		Order("started_at DESC").
		Find(&logs).Error
	return logs, err
}

func (r *gormJobLogRepository) ListRunningOlderThan(ctx context.Context, cutoff time.Time) ([]store.JobLog, error) {
	var logs []store.JobLog
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", store.LogStatusStarted, cutoff).
		Find(&logs).Error
	return logs, err
}

func (r *gormJobLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("started_at < ? AND status <> ?", cutoff, store.LogStatusStarted).
		Delete(&store.JobLog{})
	return res.RowsAffected, res.Error
}
