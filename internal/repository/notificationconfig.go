package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ridgeline-systems/zvault/internal/store"
)

// singletonID is the fixed well-known primary key of the single
// NotificationConfig row. Generated once; never regenerated.
var singletonID = uuid.MustParse("00000000-0000-7000-8000-000000000001")

// NotificationConfigRepository manages the single NotificationConfig row.
type NotificationConfigRepository interface {
	// Get returns the singleton row, creating it with the model's column
	// defaults if it does not yet exist.
	Get(ctx context.Context) (*store.NotificationConfig, error)
	Upsert(ctx context.Context, cfg *store.NotificationConfig) error
}

type gormNotificationConfigRepository struct {
	db *gorm.DB
}

// NewNotificationConfigRepository constructs a NotificationConfigRepository
// backed by db.
func NewNotificationConfigRepository(db *gorm.DB) NotificationConfigRepository {
	return &gormNotificationConfigRepository{db: db}
}

func (r *gormNotificationConfigRepository) Get(ctx context.Context) (*store.NotificationConfig, error) {
	var cfg store.NotificationConfig
	err := r.db.WithContext(ctx).First(&cfg, "id = ?", singletonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = store.NotificationConfig{}
		cfg.ID = singletonID
		if err := r.db.WithContext(ctx).Create(&cfg).Error; err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *gormNotificationConfigRepository) Upsert(ctx context.Context, cfg *store.NotificationConfig) error {
	cfg.ID = singletonID
	return r.db.WithContext(ctx).Save(cfg).Error
}
