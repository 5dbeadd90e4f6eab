package repository

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerFilter narrows List
type CustomerFilter struct {
	Search          string
	WithBalanceOnly bool
	Status          *domain.CustomerStatus
}

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) Create(ctx context.Context, tx *gorm.DB, customer *domain.Customer) error {
	return r.conn(tx).WithContext(ctx).Create(customer).Error
}

func (r *CustomerRepository) GetByPhone(ctx context.Context, tx *gorm.DB, phone string) (*domain.Customer, error) {
	var customer domain.Customer
	if err := r.conn(tx).WithContext(ctx).Where("phone_number = ?", phone).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetForUpdate loads a customer row with a row lock
func (r *CustomerRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, phone string) (*domain.Customer, error) {
	var customer domain.Customer
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("phone_number = ?", phone).
		First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// UpdateBalances writes the balance fields computed by the caller
func (r *CustomerRepository) UpdateBalances(ctx context.Context, tx *gorm.DB, customer *domain.Customer) error {
	return tx.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("phone_number = ?", customer.PhoneNumber).
		Updates(map[string]interface{}{
			"outstanding_balance": customer.OutstandingBalance,
			"lifetime_value":      customer.LifetimeValue,
			"last_payment_at":     customer.LastPaymentAt,
			"updated_at":          time.Now().UTC(),
		}).Error
}

// ProfileChanges lists the profile columns to write. Nil fields are left as stored.
type ProfileChanges struct {
	BusinessName *string
	ContactName  *string
	Status       *domain.CustomerStatus
}

// UpdateProfile writes only the profile columns set in changes
func (r *CustomerRepository) UpdateProfile(ctx context.Context, tx *gorm.DB, phone string, changes ProfileChanges) error {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if changes.BusinessName != nil {
		updates["business_name"] = *changes.BusinessName
	}
	if changes.ContactName != nil {
		updates["contact_name"] = *changes.ContactName
	}
	if changes.Status != nil {
		updates["status"] = *changes.Status
	}
	return r.conn(tx).WithContext(ctx).
		Model(&domain.Customer{}).
		Where("phone_number = ?", phone).
		Updates(updates).Error
}

// UpdateCreditLimit writes the credit limit column alone
func (r *CustomerRepository) UpdateCreditLimit(ctx context.Context, tx *gorm.DB, phone string, limit decimal.Decimal) error {
	return r.conn(tx).WithContext(ctx).
		Model(&domain.Customer{}).
		Where("phone_number = ?", phone).
		Updates(map[string]interface{}{
			"credit_limit": limit,
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (r *CustomerRepository) List(ctx context.Context, page, pageSize int, filter CustomerFilter) ([]domain.Customer, int64, error) {
	var customers []domain.Customer
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Customer{})

	if filter.Search != "" {
		searchPattern := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where("LOWER(business_name) LIKE ? OR LOWER(contact_name) LIKE ? OR phone_number LIKE ?",
			searchPattern, searchPattern, "%"+filter.Search+"%")
	}
	if filter.WithBalanceOnly {
		query = query.Where("outstanding_balance > 0")
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Offset(offset).Limit(pageSize).Order("outstanding_balance DESC, phone_number ASC").Find(&customers).Error
	return customers, total, err
}

// ListReminderCandidates returns active customers that owe money, have not paid
// since paidBefore and were not reminded since remindedBefore.
func (r *CustomerRepository) ListReminderCandidates(ctx context.Context, paidBefore, remindedBefore time.Time, limit int) ([]domain.Customer, error) {
	var customers []domain.Customer
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.CustomerStatusActive).
		Where("outstanding_balance > 0").
		Where("(last_payment_at IS NULL OR last_payment_at < ?)", paidBefore).
		Where("created_at < ?", paidBefore).
		Where("(last_reminder_at IS NULL OR last_reminder_at < ?)", remindedBefore).
		Order("outstanding_balance DESC").
		Limit(limit).
		Find(&customers).Error
	return customers, err
}

func (r *CustomerRepository) MarkReminded(ctx context.Context, tx *gorm.DB, phone string, at time.Time) error {
	return r.conn(tx).WithContext(ctx).
		Model(&domain.Customer{}).
		Where("phone_number = ?", phone).
		Update("last_reminder_at", at).Error
}

// TotalOutstanding sums positive balances
func (r *CustomerRepository) TotalOutstanding(ctx context.Context) (decimal.Decimal, error) {
	var balances []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("outstanding_balance > 0").
		Pluck("outstanding_balance", &balances).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, balances...), nil
}

func (r *CustomerRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
