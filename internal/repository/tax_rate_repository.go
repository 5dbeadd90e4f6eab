package repository

import (
	"context"

	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TaxRateRepository struct {
	db *gorm.DB
}

func NewTaxRateRepository(db *gorm.DB) *TaxRateRepository {
	return &TaxRateRepository{db: db}
}

// Upsert sets the rate for a category, creating the row when absent
func (r *TaxRateRepository) Upsert(ctx context.Context, rate *domain.TaxRate) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category"}},
			DoUpdates: clause.AssignmentColumns([]string{"rate", "updated_at"}),
		}).
		Create(rate).Error
}

func (r *TaxRateRepository) List(ctx context.Context) ([]domain.TaxRate, error) {
	var rates []domain.TaxRate
	err := r.db.WithContext(ctx).Order("category ASC").Find(&rates).Error
	return rates, err
}

// RatesByCategory loads every rate keyed by category
func (r *TaxRateRepository) RatesByCategory(ctx context.Context, tx *gorm.DB) (map[string]domain.TaxRate, error) {
	db := r.db
	if tx != nil {
		db = tx
	}
	var rates []domain.TaxRate
	if err := db.WithContext(ctx).Find(&rates).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.TaxRate, len(rates))
	for _, rate := range rates {
		out[rate.Category] = rate
	}
	return out, nil
}
