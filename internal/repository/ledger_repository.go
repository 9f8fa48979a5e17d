package repository

import (
	"context"

	"vault-backend/internal/models"

	"gorm.io/gorm"
)

// LedgerRepository read access to journaled balances
type LedgerRepository interface {
	BalancesOf(ctx context.Context, holder string) ([]*models.LedgerBalance, error)
	Holders(ctx context.Context, asset string, limit int) ([]*models.LedgerBalance, error)
	Supplies(ctx context.Context) ([]*models.LedgerSupply, error)
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new LedgerRepository instance
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

// BalancesOf lists every non-zero balance of holder
func (r *ledgerRepository) BalancesOf(ctx context.Context, holder string) ([]*models.LedgerBalance, error) {
	var rows []*models.LedgerBalance
	err := r.db.WithContext(ctx).
		Where("holder = ? AND amount <> ?", holder, "0").
		Order("asset ASC").
		Find(&rows).Error
	return rows, err
}

// Holders lists the holders of asset with a non-zero balance
func (r *ledgerRepository) Holders(ctx context.Context, asset string, limit int) ([]*models.LedgerBalance, error) {
	_, limit = normalizePage(1, limit)
	var rows []*models.LedgerBalance
	err := r.db.WithContext(ctx).
		Where("asset = ? AND amount <> ?", asset, "0").
		Order("holder ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *ledgerRepository) Supplies(ctx context.Context) ([]*models.LedgerSupply, error) {
	var rows []*models.LedgerSupply
	err := r.db.WithContext(ctx).Order("asset ASC").Find(&rows).Error
	return rows, err
}
