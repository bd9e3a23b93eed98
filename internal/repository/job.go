package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ridgeline-systems/zvault/internal/store"
)

// JobRepository persists Job records and answers the hot-path queries
// (ListActiveWithCron, ListByGroup, ListSince).
type JobRepository interface {
	Create(ctx context.Context, j *store.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*store.Job, error)
	Update(ctx context.Context, j *store.Job) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]store.Job, error)

	// ListActiveWithCron returns every Active Job with a non-empty Cron,
	// read by the Scheduler at startup and on every tick, and by the
	// Notifier's daily digest.
	ListActiveWithCron(ctx context.Context) ([]store.Job, error)

	// ListByGroup returns all Jobs sharing a VMGroupID, in no particular
	// order; the caller (APIFacade.RunGroup) fans them out independently.
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]store.Job, error)

	// ListSince returns Active Jobs whose LastRunAt is before cutoff (or
	// nil).
	ListSince(ctx context.Context, cutoff time.Time) ([]store.Job, error)

	RecordRunStart(ctx context.Context, id uuid.UUID) error
	RecordRunResult(ctx context.Context, id uuid.UUID, status store.JobStatus, durationSeconds float64, transferred string, success bool) error
}

type gormJobRepository struct {
	db *gorm.DB
}

// NewJobRepository constructs a JobRepository backed by db.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &gormJobRepository{db: db}
}

func (r *gormJobRepository) Create(ctx context.Context, j *store.Job) error {
	if err := r.checkGroupInvariant(ctx, j); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(j).Error; err != nil {
		if isUniqueConstraintErr(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// checkGroupInvariant enforces the Store invariant that every Job sharing a
// VMGroupID references the same source/dest Node pair and the same guest id
// (§3). A nil VMGroupID opts a Job out of the group entirely and is never
// checked.
func (r *gormJobRepository) checkGroupInvariant(ctx context.Context, j *store.Job) error {
	if j.VMGroupID == nil {
		return nil
	}

	var members []store.Job
	q := r.db.WithContext(ctx).Where("vm_group_id = ?", *j.VMGroupID)
	if j.ID != uuid.Nil {
		q = q.Where("id <> ?", j.ID)
	}
	if err := q.Find(&members).Error; err != nil {
		return err
	}

	for _, m := range members {
		if m.SourceNodeID != j.SourceNodeID || m.DestNodeID != j.DestNodeID || !guestIDsEqual(m.SourceGuestID, j.SourceGuestID) {
			return ErrInvariant
		}
	}
	return nil
}

func guestIDsEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (r *gormJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	var j store.Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *gormJobRepository) Update(ctx context.Context, j *store.Job) error {
	if err := r.checkGroupInvariant(ctx, j); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(j).Error; err != nil {
		if isUniqueConstraintErr(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (r *gormJobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&store.Job{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormJobRepository) List(ctx context.Context, opts ListOptions) ([]store.Job, error) {
	var jobs []store.Job
	err := r.db.WithContext(ctx).
		Limit(opts.limit()).Offset(opts.offset()).
		Order("name").
		Find(&jobs).Error
	return jobs, err
}

func (r *gormJobRepository) ListActiveWithCron(ctx context.Context) ([]store.Job, error) {
	var jobs []store.Job
	err := r.db.WithContext(ctx).Where("active = ? AND cron <> ?", true, "").Find(&jobs).Error
	return jobs, err
}

func (r *gormJobRepository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]store.Job, error) {
	var jobs []store.Job
	err := r.db.WithContext(ctx).Where("vm_group_id = ?", groupID).Find(&jobs).Error
	return jobs, err
}

func (r *gormJobRepository) ListSince(ctx context.Context, cutoff time.Time) ([]store.Job, error) {
	var jobs []store.Job
	err := r.db.WithContext(ctx).
		Where("active = ? AND (last_run_at IS NULL OR last_run_at < ?)", true, cutoff).
		Find(&jobs).Error
	return jobs, err
}

func (r *gormJobRepository) RecordRunStart(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&store.Job{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_status": store.JobStatusRunning})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordRunResult atomically applies the outcome of one attempt: updates
// LastRunAt/LastStatus/LastDurationSeconds/LastTransferred, increments
// RunCount always, increments ErrorCount on failure, and either resets or
// increments ConsecutiveFailures.
func (r *gormJobRepository) RecordRunResult(ctx context.Context, id uuid.UUID, status store.JobStatus, durationSeconds float64, transferred string, success bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j store.Job
		if err := tx.First(&j, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		updates := map[string]interface{}{
			"last_run_at":            time.Now().UTC(),
			"last_status":            status,
			"last_duration_seconds":  durationSeconds,
			"last_transferred":       transferred,
			"run_count":              j.RunCount + 1,
		}
		if success {
			updates["consecutive_failures"] = 0
		} else {
			updates["error_count"] = j.ErrorCount + 1
			updates["consecutive_failures"] = j.ConsecutiveFailures + 1
		}

		return tx.Model(&store.Job{}).Where("id = ?", id).Updates(updates).Error
	})
}
