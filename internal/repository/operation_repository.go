package repository

import (
	"context"
	"time"

	"vault-backend/internal/models"

	"gorm.io/gorm"
)

// OperationRepository read access to the operation log
type OperationRepository interface {
	Recent(ctx context.Context, op string, limit int) ([]*models.OperationRecord, error)
	FindByCaller(ctx context.Context, caller string, page, pageSize int) ([]*models.OperationRecord, int64, error)
	CountSince(ctx context.Context, op string, since time.Time) (int64, error)
}

type operationRepository struct {
	db *gorm.DB
}

// NewOperationRepository creates a new OperationRepository instance
func NewOperationRepository(db *gorm.DB) OperationRepository {
	return &operationRepository{db: db}
}

// Recent returns the latest operations, optionally of one kind
func (r *operationRepository) Recent(ctx context.Context, op string, limit int) ([]*models.OperationRecord, error) {
	_, limit = normalizePage(1, limit)
	query := r.db.WithContext(ctx)
	if op != "" {
		query = query.Where("op = ?", op)
	}
	var records []*models.OperationRecord
	err := query.Order("created_at DESC").Limit(limit).Find(&records).Error
	return records, err
}

// FindByCaller lists the operations a caller submitted, newest first
func (r *operationRepository) FindByCaller(ctx context.Context, caller string, page, pageSize int) ([]*models.OperationRecord, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	query := r.db.WithContext(ctx).Model(&models.OperationRecord{}).Where("caller = ?", caller)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var records []*models.OperationRecord
	err := query.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&records).Error
	return records, total, err
}

// CountSince counts operations of one kind committed at or after since
func (r *operationRepository) CountSince(ctx context.Context, op string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OperationRecord{}).
		Where("op = ? AND created_at >= ?", op, since).
		Count(&count).Error
	return count, err
}
