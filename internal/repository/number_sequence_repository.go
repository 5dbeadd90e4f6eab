package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NumberSequenceRepository hands out gap-free yearly numbers per sequence name
type NumberSequenceRepository struct {
	db *gorm.DB
}

// NewNumberSequenceRepository creates a new NumberSequenceRepository
func NewNumberSequenceRepository(db *gorm.DB) *NumberSequenceRepository {
	return &NumberSequenceRepository{db: db}
}

// GetNextNumber increments and returns the sequence for name/year under a row lock.
// With a non-nil tx the increment joins the caller's transaction and is rolled
// back with it; otherwise it runs in its own transaction.
func (r *NumberSequenceRepository) GetNextNumber(ctx context.Context, tx *gorm.DB, name string, year int) (int, error) {
	if tx != nil {
		return r.next(ctx, tx, name, year)
	}

	var next int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		next, err = r.next(ctx, tx, name, year)
		return err
	})
	return next, err
}

func (r *NumberSequenceRepository) next(ctx context.Context, tx *gorm.DB, name string, year int) (int, error) {
	now := time.Now().UTC()

	// A missing row takes no lock, so the row is created first. A concurrent
	// insert of the same name/year waits for the winner and then does nothing.
	seed := domain.NumberSequence{Name: name, Year: year, CreatedAt: now, UpdatedAt: now}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return 0, fmt.Errorf("failed to create number sequence: %w", err)
	}

	var seq domain.NumberSequence
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ? AND year = ?", name, year).
		First(&seq).Error; err != nil {
		return 0, fmt.Errorf("failed to get number sequence: %w", err)
	}

	next := seq.LastSequence + 1
	if err := tx.WithContext(ctx).
		Model(&domain.NumberSequence{}).
		Where("name = ? AND year = ?", name, year).
		Updates(map[string]interface{}{
			"last_sequence": next,
			"updated_at":    now,
		}).Error; err != nil {
		return 0, fmt.Errorf("failed to update number sequence: %w", err)
	}
	return next, nil
}
