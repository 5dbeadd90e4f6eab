package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaterialRepository handles catalog persistence. Lookups are by lower-cased name.
type MaterialRepository struct {
	db *gorm.DB
}

func NewMaterialRepository(db *gorm.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

func (r *MaterialRepository) Create(ctx context.Context, tx *gorm.DB, material *domain.Material) error {
	return r.conn(tx).WithContext(ctx).Create(material).Error
}

// GetByName returns the material with the given name, case-insensitively
func (r *MaterialRepository) GetByName(ctx context.Context, tx *gorm.DB, name string) (*domain.Material, error) {
	var material domain.Material
	err := r.conn(tx).WithContext(ctx).Where("name_key = ?", domain.Key(name)).First(&material).Error
	if err != nil {
		return nil, err
	}
	return &material, nil
}

// GetByNameForUpdate is GetByName with a row lock
func (r *MaterialRepository) GetByNameForUpdate(ctx context.Context, tx *gorm.DB, name string) (*domain.Material, error) {
	var material domain.Material
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name_key = ?", domain.Key(name)).
		First(&material).Error
	if err != nil {
		return nil, err
	}
	return &material, nil
}

func (r *MaterialRepository) Update(ctx context.Context, tx *gorm.DB, material *domain.Material) error {
	return r.conn(tx).WithContext(ctx).Save(material).Error
}

func (r *MaterialRepository) List(ctx context.Context, search, category string) ([]domain.Material, error) {
	var materials []domain.Material
	query := r.db.WithContext(ctx).Model(&domain.Material{})
	if search != "" {
		query = query.Where("name_key LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	if category != "" {
		query = query.Where("category = ?", domain.Key(category))
	}
	err := query.Order("name_key ASC").Find(&materials).Error
	return materials, err
}

func (r *MaterialRepository) CreatePriceChange(ctx context.Context, tx *gorm.DB, change *domain.MaterialPriceChange) error {
	return r.conn(tx).WithContext(ctx).Create(change).Error
}

// ListPriceChanges returns the price history of a material, newest first
func (r *MaterialRepository) ListPriceChanges(ctx context.Context, materialID uuid.UUID) ([]domain.MaterialPriceChange, error) {
	var changes []domain.MaterialPriceChange
	err := r.db.WithContext(ctx).
		Where("material_id = ?", materialID).
		Order("changed_at DESC").
		Find(&changes).Error
	return changes, err
}

func (r *MaterialRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
