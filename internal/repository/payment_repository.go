package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
)

// PaymentRepository stores payments. Payments are append-only.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	return r.conn(tx).WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*domain.Payment, error) {
	var payment domain.Payment
	if err := r.conn(tx).WithContext(ctx).Where("idempotency_key = ?", key).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListByCustomer returns payments of a customer newest first
func (r *PaymentRepository) ListByCustomer(ctx context.Context, phone string, page, pageSize int) ([]domain.Payment, int64, error) {
	var payments []domain.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Payment{}).Where("customer_phone = ?", phone)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Offset(offset).Limit(pageSize).Order("created_at DESC, id DESC").Find(&payments).Error
	return payments, total, err
}

// SumBetween totals payments received in [from, to)
func (r *PaymentRepository) SumBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("created_at >= ? AND created_at < ?", from, to).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

func (r *PaymentRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
