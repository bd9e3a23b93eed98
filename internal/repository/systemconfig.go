package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ridgeline-systems/zvault/internal/store"
)

// SystemConfigRepository manages the open-ended SystemConfig key-value set.
type SystemConfigRepository interface {
	Get(ctx context.Context, key string) (*store.SystemConfig, error)
	Set(ctx context.Context, cfg *store.SystemConfig) error
	List(ctx context.Context) ([]store.SystemConfig, error)
	ListByCategory(ctx context.Context, category string) ([]store.SystemConfig, error)
}

type gormSystemConfigRepository struct {
	db *gorm.DB
}

// NewSystemConfigRepository constructs a SystemConfigRepository backed by db.
func NewSystemConfigRepository(db *gorm.DB) SystemConfigRepository {
	return &gormSystemConfigRepository{db: db}
}

func (r *gormSystemConfigRepository) Get(ctx context.Context, key string) (*store.SystemConfig, error) {
	var cfg store.SystemConfig
	if err := r.db.WithContext(ctx).First(&cfg, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *gormSystemConfigRepository) Set(ctx context.Context, cfg *store.SystemConfig) error {
	return r.db.WithContext(ctx).Save(cfg).Error
}

func (r *gormSystemConfigRepository) List(ctx context.Context) ([]store.SystemConfig, error) {
	var configs []store.SystemConfig
	err := r.db.WithContext(ctx).Order("category, key").Find(&configs).Error
	return configs, err
}

func (r *gormSystemConfigRepository) ListByCategory(ctx context.Context, category string) ([]store.SystemConfig, error) {
	var configs []store.SystemConfig
	err := r.db.WithContext(ctx).Where("category = ?", category).Order("key").Find(&configs).Error
	return configs, err
}
