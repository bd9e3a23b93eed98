package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ridgeline-systems/zvault/internal/store"
)

// NodeRepository persists Node records, enforcing unique names and the
// at-most-one-auth-node invariant (P2) above the database layer.
type NodeRepository interface {
	Create(ctx context.Context, n *store.Node) error
	GetByID(ctx context.Context, id uuid.UUID) (*store.Node, error)
	GetByName(ctx context.Context, name string) (*store.Node, error)
	Update(ctx context.Context, n *store.Node) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]store.Node, error)
	AuthNode(ctx context.Context) (*store.Node, error)
	SetOnline(ctx context.Context, id uuid.UUID, online bool, toolPresent bool, toolVersion string) error
	// ReferencedByActiveJob reports whether id is used as a source or dest
	// node by any Job with Active=true, used to enforce node-deletion
	// refusal (§9).
	ReferencedByActiveJob(ctx context.Context, id uuid.UUID) (bool, error)
}

type gormNodeRepository struct {
	db *gorm.DB
}

// NewNodeRepository constructs a NodeRepository backed by db.
func NewNodeRepository(db *gorm.DB) NodeRepository {
	return &gormNodeRepository{db: db}
}

func (r *gormNodeRepository) Create(ctx context.Context, n *store.Node) error {
	if n.IsAuthNode {
		var count int64
		if err := r.db.WithContext(ctx).Model(&store.Node{}).
			Where("is_auth_node = ?", true).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrInvariant
		}
	}

	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		if isUniqueConstraintErr(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (r *gormNodeRepository) GetByID(ctx context.Context, id uuid.UUID) (*store.Node, error) {
	var n store.Node
	if err := r.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *gormNodeRepository) GetByName(ctx context.Context, name string) (*store.Node, error) {
	var n store.Node
	if err := r.db.WithContext(ctx).First(&n, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *gormNodeRepository) Update(ctx context.Context, n *store.Node) error {
	if n.IsAuthNode {
		var count int64
		if err := r.db.WithContext(ctx).Model(&store.Node{}).
			Where("is_auth_node = ? AND id <> ?", true, n.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrInvariant
		}
	}

	if err := r.db.WithContext(ctx).Save(n).Error; err != nil {
		if isUniqueConstraintErr(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (r *gormNodeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	referenced, err := r.ReferencedByActiveJob(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return ErrInvariant
	}

	res := r.db.WithContext(ctx).Delete(&store.Node{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormNodeRepository) List(ctx context.Context, opts ListOptions) ([]store.Node, error) {
	var nodes []store.Node
	err := r.db.WithContext(ctx).
		Limit(opts.limit()).Offset(opts.offset()).
		Order("name").
		Find(&nodes).Error
	return nodes, err
}

func (r *gormNodeRepository) AuthNode(ctx context.Context) (*store.Node, error) {
	var n store.Node
	if err := r.db.WithContext(ctx).First(&n, "is_auth_node = ?", true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *gormNodeRepository) SetOnline(ctx context.Context, id uuid.UUID, online bool, toolPresent bool, toolVersion string) error {
	updates := map[string]interface{}{
		"online":       online,
		"tool_present": toolPresent,
		"tool_version": toolVersion,
	}
	res := r.db.WithContext(ctx).Model(&store.Node{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormNodeRepository) ReferencedByActiveJob(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&store.Job{}).
		Where("active = ? AND (source_node_id = ? OR dest_node_id = ?)", true, id, id).
		Count(&count).Error
	return count > 0, err
}
