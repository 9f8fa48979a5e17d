package repository

import (
	"context"

	"vault-backend/internal/models"

	"gorm.io/gorm"
)

// ConversionRepository keeper idle-conversion attempts
type ConversionRepository interface {
	Create(ctx context.Context, record *models.ConversionRecord) error
	Recent(ctx context.Context, assetIn string, limit int) ([]*models.ConversionRecord, error)
	LastSuccess(ctx context.Context, assetIn string) (*models.ConversionRecord, error)
}

type conversionRepository struct {
	db *gorm.DB
}

// NewConversionRepository creates a new ConversionRepository instance
func NewConversionRepository(db *gorm.DB) ConversionRepository {
	return &conversionRepository{db: db}
}

// Create stores one attempt
func (r *conversionRepository) Create(ctx context.Context, record *models.ConversionRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// Recent lists the latest attempts, optionally for one input asset
func (r *conversionRepository) Recent(ctx context.Context, assetIn string, limit int) ([]*models.ConversionRecord, error) {
	_, limit = normalizePage(1, limit)
	query := r.db.WithContext(ctx)
	if assetIn != "" {
		query = query.Where("asset_in = ?", assetIn)
	}
	var records []*models.ConversionRecord
	err := query.Order("created_at DESC").Limit(limit).Find(&records).Error
	return records, err
}

// LastSuccess returns the latest successful conversion of assetIn
func (r *conversionRepository) LastSuccess(ctx context.Context, assetIn string) (*models.ConversionRecord, error) {
	var record models.ConversionRecord
	err := r.db.WithContext(ctx).
		Where("asset_in = ? AND status = ?", assetIn, models.ConversionStatusSuccess).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
