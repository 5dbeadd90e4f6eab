package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
)

// InvoiceFilter narrows List
type InvoiceFilter struct {
	Search        string
	CustomerPhone string
}

// InvoiceRepository handles invoices. order_id and invoice_number are unique.
type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	return r.conn(tx).WithContext(ctx).Create(invoice).Error
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *InvoiceRepository) GetByOrderID(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := r.conn(tx).WithContext(ctx).Where("order_id = ?", orderID).First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// List returns invoices newest first
func (r *InvoiceRepository) List(ctx context.Context, page, pageSize int, filter InvoiceFilter) ([]domain.Invoice, int64, error) {
	var invoices []domain.Invoice
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.Search != "" {
		pattern := "%" + strings.ToUpper(filter.Search) + "%"
		query = query.Where("UPPER(invoice_number) LIKE ? OR customer_phone LIKE ?", pattern, "%"+filter.Search+"%")
	}
	if filter.CustomerPhone != "" {
		query = query.Where("customer_phone = ?", filter.CustomerPhone)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Offset(offset).Limit(pageSize).Order("created_at DESC, id DESC").Find(&invoices).Error
	return invoices, total, err
}

// MarkPDFGenerated records the stored PDF location. Amounts are never touched.
func (r *InvoiceRepository) MarkPDFGenerated(ctx context.Context, id uuid.UUID, path string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"pdf_generated": true,
			"pdf_path":      path,
		}).Error
}

// ListIssuedBetween returns invoices created in [from, to)
func (r *InvoiceRepository) ListIssuedBetween(ctx context.Context, from, to time.Time) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC").
		Find(&invoices).Error
	return invoices, err
}

func (r *InvoiceRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
