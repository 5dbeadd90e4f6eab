package service

import (
	"context"

	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
)

// TakeFromBatch exposes the per-batch cutting rule to service_test
var TakeFromBatch = takeFromBatch

// IssueTx exposes invoice issuing outside an approval
func (s *InvoiceService) IssueTx(ctx context.Context, tx *gorm.DB, order *domain.Order) (*domain.Invoice, error) {
	return s.issueTx(ctx, tx, order)
}
