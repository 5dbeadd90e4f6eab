package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
)

type OrderStatusHistoryRepository struct {
	db *gorm.DB
}

func NewOrderStatusHistoryRepository(db *gorm.DB) *OrderStatusHistoryRepository {
	return &OrderStatusHistoryRepository{db: db}
}

func (r *OrderStatusHistoryRepository) Create(ctx context.Context, tx *gorm.DB, history *domain.OrderStatusHistory) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(history).Error
}

// ListByOrder returns the transitions of an order in the order they happened
func (r *OrderStatusHistoryRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.OrderStatusHistory, error) {
	var history []domain.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("changed_at ASC, created_at ASC").
		Find(&history).Error
	return history, err
}
