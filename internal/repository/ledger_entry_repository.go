package repository

import (
	"context"

	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
)

// LedgerEntryRepository stores customer statement lines. Entries are append-only.
type LedgerEntryRepository struct {
	db *gorm.DB
}

func NewLedgerEntryRepository(db *gorm.DB) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: db}
}

func (r *LedgerEntryRepository) Create(ctx context.Context, tx *gorm.DB, entry *domain.LedgerEntry) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(entry).Error
}

// ListByCustomer returns the statement of a customer in posting order
func (r *LedgerEntryRepository) ListByCustomer(ctx context.Context, phone string, limit int) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	query := r.db.WithContext(ctx).
		Where("customer_phone = ?", phone).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&entries).Error
	return entries, err
}
