package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ridgeline-systems/zvault/internal/store"
)

// DatasetRepository persists Dataset records, one row per (NodeID, Path).
type DatasetRepository interface {
	Create(ctx context.Context, d *store.Dataset) error
	GetByID(ctx context.Context, id uuid.UUID) (*store.Dataset, error)
	GetByNodeAndPath(ctx context.Context, nodeID uuid.UUID, path string) (*store.Dataset, error)
	Upsert(ctx context.Context, d *store.Dataset) error
	Update(ctx context.Context, d *store.Dataset) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByNode(ctx context.Context, nodeID uuid.UUID, opts ListOptions) ([]store.Dataset, error)
}

type gormDatasetRepository struct {
	db *gorm.DB
}

// NewDatasetRepository constructs a DatasetRepository backed by db.
func NewDatasetRepository(db *gorm.DB) DatasetRepository {
	return &gormDatasetRepository{db: db}
}

func (r *gormDatasetRepository) Create(ctx context.Context, d *store.Dataset) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		if isUniqueConstraintErr(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (r *gormDatasetRepository) GetByID(ctx context.Context, id uuid.UUID) (*store.Dataset, error) {
	var d store.Dataset
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *gormDatasetRepository) GetByNodeAndPath(ctx context.Context, nodeID uuid.UUID, path string) (*store.Dataset, error) {
	var d store.Dataset
	err := r.db.WithContext(ctx).First(&d, "node_id = ? AND path = ?", nodeID, path).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// Upsert creates or refreshes the cached view of a dataset discovered during
// a Node scan, keyed by (NodeID, Path).
func (r *gormDatasetRepository) Upsert(ctx context.Context, d *store.Dataset) error {
	existing, err := r.GetByNodeAndPath(ctx, d.NodeID, d.Path)
	if errors.Is(err, ErrNotFound) {
		return r.Create(ctx, d)
	}
	if err != nil {
		return err
	}
	d.ID = existing.ID
	return r.Update(ctx, d)
}

func (r *gormDatasetRepository) Update(ctx context.Context, d *store.Dataset) error {
	if err := r.db.WithContext(ctx).Save(d).Error; err != nil {
		if isUniqueConstraintErr(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (r *gormDatasetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&store.Dataset{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormDatasetRepository) ListByNode(ctx context.Context, nodeID uuid.UUID, opts ListOptions) ([]store.Dataset, error) {
	var datasets []store.Dataset
	err := r.db.WithContext(ctx).
		Where("node_id = ?", nodeID).
		Limit(opts.limit()).Offset(opts.offset()).
		Order("path").
		Find(&datasets).Error
	return datasets, err
}
