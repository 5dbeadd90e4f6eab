package repository

import (
	"context"
	"iter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryFilter narrows ListBatches
type InventoryFilter struct {
	Material    string
	Color       string
	InStockOnly bool
}

// InventoryRepository handles inventory batches. Deductions run inside the
// caller's transaction on rows locked FOR UPDATE.
type InventoryRepository struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

func (r *InventoryRepository) Create(ctx context.Context, tx *gorm.DB, batch *domain.InventoryBatch) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(batch).Error
}

func (r *InventoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.InventoryBatch, error) {
	var batch domain.InventoryBatch
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// LockBatches returns the batches of one material and color in FIFO order with a row lock
func (r *InventoryRepository) LockBatches(ctx context.Context, tx *gorm.DB, material, color string) ([]domain.InventoryBatch, error) {
	var batches []domain.InventoryBatch
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("material_key = ? AND color_key = ?", domain.Key(material), domain.Key(color)).
		Order("created_at ASC, id ASC").
		Find(&batches).Error
	return batches, err
}

// UpdateCounters writes the roll and loose meter counters of a batch
func (r *InventoryRepository) UpdateCounters(ctx context.Context, tx *gorm.DB, id uuid.UUID, rolls int, loose decimal.Decimal) error {
	return tx.WithContext(ctx).
		Model(&domain.InventoryBatch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"rolls_available":        rolls,
			"loose_meters_available": loose,
		}).Error
}

// ListBatches returns batches matching filter, oldest first
func (r *InventoryRepository) ListBatches(ctx context.Context, filter InventoryFilter) ([]domain.InventoryBatch, error) {
	var batches []domain.InventoryBatch
	query := r.db.WithContext(ctx).Model(&domain.InventoryBatch{})
	if filter.Material != "" {
		query = query.Where("material_key = ?", domain.Key(filter.Material))
	}
	if filter.Color != "" {
		query = query.Where("color_key = ?", domain.Key(filter.Color))
	}
	if filter.InStockOnly {
		query = query.Where("(rolls_available > 0 OR loose_meters_available > 0)")
	}
	err := query.Order("material_key ASC, color_key ASC, created_at ASC, id ASC").Find(&batches).Error
	return batches, err
}

// ListRelated returns in-stock batches that share the material or the color
func (r *InventoryRepository) ListRelated(ctx context.Context, tx *gorm.DB, material, color string) ([]domain.InventoryBatch, error) {
	db := r.db
	if tx != nil {
		db = tx
	}
	var batches []domain.InventoryBatch
	err := db.WithContext(ctx).
		Where("(material_key = ? OR color_key = ?)", domain.Key(material), domain.Key(color)).
		Where("(rolls_available > 0 OR loose_meters_available > 0)").
		Order("created_at ASC, id ASC").
		Find(&batches).Error
	return batches, err
}

// StreamLowStock yields batches whose available meters are below threshold.
// Rows are read lazily and hold a pooled connection until iteration ends,
// so the loop body must not query through the same pool.
func (r *InventoryRepository) StreamLowStock(ctx context.Context, threshold decimal.Decimal) iter.Seq2[domain.InventoryBatch, error] {
	return func(yield func(domain.InventoryBatch, error) bool) {
		db := r.db.WithContext(ctx)
		rows, err := db.Model(&domain.InventoryBatch{}).
			Where("rolls_available * meters_per_roll + loose_meters_available < ?", threshold.InexactFloat64()).
			Order("material_key ASC, color_key ASC, created_at ASC").
			Rows()
		if err != nil {
			yield(domain.InventoryBatch{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var batch domain.InventoryBatch
			if err := db.ScanRows(rows, &batch); err != nil {
				yield(domain.InventoryBatch{}, err)
				return
			}
			if !yield(batch, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.InventoryBatch{}, err)
		}
	}
}
