package repository

import (
	"context"

	"vault-backend/internal/models"

	"gorm.io/gorm"
)

// WithdrawalRequestRepository read access to journaled withdrawal requests.
// Writes go through Journal only.
type WithdrawalRequestRepository interface {
	GetByID(ctx context.Context, id uint64) (*models.WithdrawalRequest, error)
	FindByOwner(ctx context.Context, owner string, status models.WithdrawalRequestStatus, page, pageSize int) ([]*models.WithdrawalRequest, int64, error)
	FindByStatus(ctx context.Context, status models.WithdrawalRequestStatus) ([]*models.WithdrawalRequest, error)
	CountByStatus(ctx context.Context, status models.WithdrawalRequestStatus) (int64, error)
}

// withdrawalRequestRepository implements WithdrawalRequestRepository
type withdrawalRequestRepository struct {
	db *gorm.DB
}

// NewWithdrawalRequestRepository creates a new WithdrawalRequestRepository instance
func NewWithdrawalRequestRepository(db *gorm.DB) WithdrawalRequestRepository {
	return &withdrawalRequestRepository{db: db}
}

// GetByID retrieves a withdrawal request by ID
func (r *withdrawalRequestRepository) GetByID(ctx context.Context, id uint64) (*models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// FindByOwner lists an owner's requests, newest first. An empty status
// matches every status.
func (r *withdrawalRequestRepository) FindByOwner(ctx context.Context, owner string, status models.WithdrawalRequestStatus, page, pageSize int) ([]*models.WithdrawalRequest, int64, error) {
	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&models.WithdrawalRequest{}).Where("owner = ?", owner)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []*models.WithdrawalRequest
	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&requests).Error
	return requests, total, err
}

// FindByStatus finds withdrawal requests by status, oldest first
func (r *withdrawalRequestRepository) FindByStatus(ctx context.Context, status models.WithdrawalRequestStatus) ([]*models.WithdrawalRequest, error) {
	var requests []*models.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Find(&requests).Error
	return requests, err
}

// CountByStatus counts withdrawal requests by status
func (r *withdrawalRequestRepository) CountByStatus(ctx context.Context, status models.WithdrawalRequestStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WithdrawalRequest{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
