package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
)

// OrderFilter narrows List
type OrderFilter struct {
	Status        *domain.OrderStatus
	CustomerPhone string
}

// OrderRepository handles orders and their lines. Status changes go through
// TransitionStatus, a compare-and-set on the current status.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts an order together with its items
func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	return r.conn(tx).WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Order, error) {
	var order domain.Order
	err := r.conn(tx).WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// TransitionStatus moves an order from one status to another, setting extra
// columns in the same statement. It returns the number of rows changed, which
// is zero when the order was not in the expected status.
func (r *OrderRepository) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to domain.OrderStatus, extra map[string]interface{}) (int64, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	result := r.conn(tx).WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// SetLineStatus updates every line of an order
func (r *OrderRepository) SetLineStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status domain.LineStatus) error {
	return r.conn(tx).WithContext(ctx).
		Model(&domain.OrderItem{}).
		Where("order_id = ?", orderID).
		Update("line_status", status).Error
}

// FlagCreditLimitExceeded marks an order as taking the customer over their credit limit
func (r *OrderRepository) FlagCreditLimitExceeded(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", orderID).
		Update("credit_limit_exceeded", true).Error
}

func (r *OrderRepository) SetInvoice(ctx context.Context, tx *gorm.DB, orderID, invoiceID uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", orderID).
		Update("invoice_id", invoiceID).Error
}

// List returns orders newest first
func (r *OrderRepository) List(ctx context.Context, page, pageSize int, filter OrderFilter) ([]domain.Order, int64, error) {
	return r.list(ctx, page, pageSize, filter, "created_at DESC, id DESC")
}

// ListPending returns orders awaiting the owner, oldest first
func (r *OrderRepository) ListPending(ctx context.Context, page, pageSize int) ([]domain.Order, int64, error) {
	status := domain.OrderStatusWaiting
	return r.list(ctx, page, pageSize, OrderFilter{Status: &status}, "created_at ASC, id ASC")
}

func (r *OrderRepository) list(ctx context.Context, page, pageSize int, filter OrderFilter, order string) ([]domain.Order, int64, error) {
	var orders []domain.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Order{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.CustomerPhone != "" {
		query = query.Where("customer_phone = ?", filter.CustomerPhone)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Offset(offset).Limit(pageSize).
		Order(order).
		Find(&orders).Error
	return orders, total, err
}

// PendingTotals returns the number and summed estimate of orders awaiting the owner
func (r *OrderRepository) PendingTotals(ctx context.Context) (int64, decimal.Decimal, error) {
	var totals []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("status = ?", domain.OrderStatusWaiting).
		Pluck("total_estimate", &totals).Error
	if err != nil {
		return 0, decimal.Zero, err
	}
	return int64(len(totals)), decimal.Sum(decimal.Zero, totals...), nil
}

func (r *OrderRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
