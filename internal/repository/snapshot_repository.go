package repository

import (
	"context"
	"time"

	"vault-backend/internal/models"

	"gorm.io/gorm"
)

// SnapshotRepository vault price history
type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *models.VaultSnapshot) error
	Latest(ctx context.Context, vaultAddr string) (*models.VaultSnapshot, error)
	FindRange(ctx context.Context, vaultAddr string, from, to time.Time, limit int) ([]*models.VaultSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type snapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a new SnapshotRepository instance
func NewSnapshotRepository(db *gorm.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Create(ctx context.Context, snapshot *models.VaultSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *snapshotRepository) Latest(ctx context.Context, vaultAddr string) (*models.VaultSnapshot, error) {
	var snapshot models.VaultSnapshot
	err := r.db.WithContext(ctx).
		Where("vault_address = ?", vaultAddr).
		Order("created_at DESC").
		First(&snapshot).Error
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// FindRange lists snapshots in [from, to] in ascending time. A zero bound
// is open.
func (r *snapshotRepository) FindRange(ctx context.Context, vaultAddr string, from, to time.Time, limit int) ([]*models.VaultSnapshot, error) {
	if limit < 1 || limit > 1000 {
		limit = 1000
	}
	query := r.db.WithContext(ctx).Where("vault_address = ?", vaultAddr)
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("created_at <= ?", to)
	}
	var snapshots []*models.VaultSnapshot
	err := query.Order("created_at ASC").Limit(limit).Find(&snapshots).Error
	return snapshots, err
}

// DeleteBefore prunes old snapshots and reports how many were removed
func (r *snapshotRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.VaultSnapshot{})
	return result.RowsAffected, result.Error
}
