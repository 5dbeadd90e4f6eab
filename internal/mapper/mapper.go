package mapper

import (
	"time"

	"github.com/straye-as/merchant-ledger/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// ToMaterialDTO converts Material to MaterialDTO
func ToMaterialDTO(m *domain.Material) domain.MaterialDTO {
	return domain.MaterialDTO{
		ID:            m.ID,
		MaterialName:  m.MaterialName,
		PricePerMeter: m.PricePerMeter,
		Category:      m.Category,
		CreatedAt:     formatTime(m.CreatedAt),
		UpdatedAt:     formatTime(m.UpdatedAt),
	}
}

func ToMaterialPriceChangeDTO(c *domain.MaterialPriceChange) domain.MaterialPriceChangeDTO {
	return domain.MaterialPriceChangeDTO{
		MaterialName: c.MaterialName,
		OldPrice:     c.OldPrice,
		NewPrice:     c.NewPrice,
		ChangedBy:    c.ChangedBy,
		ChangedAt:    formatTime(c.ChangedAt),
	}
}

func ToTaxRateDTO(r *domain.TaxRate) domain.TaxRateDTO {
	return domain.TaxRateDTO{Category: r.Category, Rate: r.Rate}
}

// ToInventoryBatchDTO converts InventoryBatch to InventoryBatchDTO
func ToInventoryBatchDTO(b *domain.InventoryBatch) domain.InventoryBatchDTO {
	return domain.InventoryBatchDTO{
		ID:                   b.ID,
		MaterialName:         b.MaterialName,
		Color:                b.Color,
		DyeLot:               b.DyeLot,
		RollsAvailable:       b.RollsAvailable,
		MetersPerRoll:        b.MetersPerRoll,
		LooseMetersAvailable: b.LooseMetersAvailable,
		AvailableMeters:      b.AvailableMeters(),
		CreatedAt:            formatTime(b.CreatedAt),
	}
}

// ToCustomerDTO converts Customer to CustomerDTO
func ToCustomerDTO(c *domain.Customer) domain.CustomerDTO {
	return domain.CustomerDTO{
		PhoneNumber:        c.PhoneNumber,
		BusinessName:       c.BusinessName,
		ContactName:        c.ContactName,
		CreditLimit:        c.CreditLimit,
		OutstandingBalance: c.OutstandingBalance,
		LifetimeValue:      c.LifetimeValue,
		Status:             c.Status,
		LastPaymentAt:      formatTimePtr(c.LastPaymentAt),
		CreatedAt:          formatTime(c.CreatedAt),
		UpdatedAt:          formatTime(c.UpdatedAt),
	}
}

func ToCustomerBalanceDTO(c *domain.Customer) domain.CustomerBalanceDTO {
	return domain.CustomerBalanceDTO{
		PhoneNumber:        c.PhoneNumber,
		OutstandingBalance: c.OutstandingBalance,
		CreditLimit:        c.CreditLimit,
		AvailableCredit:    c.AvailableCredit(),
		LifetimeValue:      c.LifetimeValue,
	}
}

func ToLedgerEntryDTO(e *domain.LedgerEntry) domain.LedgerEntryDTO {
	return domain.LedgerEntryDTO{
		ID:           e.ID,
		EntryType:    e.EntryType,
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		OrderID:      e.OrderID,
		InvoiceID:    e.InvoiceID,
		PaymentID:    e.PaymentID,
		Description:  e.Description,
		CreatedAt:    formatTime(e.CreatedAt),
	}
}

func ToPaymentDTO(p *domain.Payment) domain.PaymentDTO {
	return domain.PaymentDTO{
		ID:            p.ID,
		CustomerPhone: p.CustomerPhone,
		Amount:        p.Amount,
		Mode:          p.Mode,
		Reference:     p.Reference,
		RecordedBy:    p.RecordedBy,
		CreatedAt:     formatTime(p.CreatedAt),
	}
}

// ToOrderDTO converts an Order with its items. Invoice and history are optional.
func ToOrderDTO(o *domain.Order, invoice *domain.Invoice, history []domain.OrderStatusHistory) domain.OrderDTO {
	dto := domain.OrderDTO{
		ID:                  o.ID,
		CustomerPhone:       o.CustomerPhone,
		Items:               make([]domain.OrderItemDTO, len(o.Items)),
		TotalEstimate:       o.TotalEstimate,
		Status:              o.Status,
		CreditLimitExceeded: o.CreditLimitExceeded,
		Source:              o.Source,
		Notes:               o.Notes,
		CreatedBy:           o.CreatedBy,
		ApprovedBy:          o.ApprovedBy,
		ApprovedAt:          formatTimePtr(o.ApprovedAt),
		RejectedBy:          o.RejectedBy,
		RejectedAt:          formatTimePtr(o.RejectedAt),
		RejectReason:        o.RejectReason,
		CreatedAt:           formatTime(o.CreatedAt),
	}
	for i := range o.Items {
		item := &o.Items[i]
		dto.Items[i] = domain.OrderItemDTO{
			ID:             item.ID,
			Position:       item.Position,
			MaterialName:   item.MaterialName,
			Color:          item.Color,
			QuantityMeters: item.QuantityMeters,
			PricePerMeter:  item.PricePerMeter,
			LineTotal:      item.LineTotal,
			LineStatus:     item.LineStatus,
		}
	}
	if invoice != nil {
		dto.Invoice = &domain.InvoiceSummaryDTO{
			ID:            invoice.ID,
			InvoiceNumber: invoice.InvoiceNumber,
			Amount:        invoice.Amount,
			PDFGenerated:  invoice.PDFGenerated,
		}
	}
	for i := range history {
		h := &history[i]
		dto.History = append(dto.History, domain.OrderStatusHistoryDTO{
			FromStatus: h.FromStatus,
			ToStatus:   h.ToStatus,
			ChangedBy:  h.ChangedBy,
			Note:       h.Note,
			ChangedAt:  formatTime(h.ChangedAt),
		})
	}
	return dto
}

func ToInvoiceDTO(inv *domain.Invoice) domain.InvoiceDTO {
	return domain.InvoiceDTO{
		ID:            inv.ID,
		OrderID:       inv.OrderID,
		InvoiceNumber: inv.InvoiceNumber,
		CustomerPhone: inv.CustomerPhone,
		Subtotal:      inv.Subtotal,
		GSTAmount:     inv.GSTAmount,
		Amount:        inv.Amount,
		PDFGenerated:  inv.PDFGenerated,
		CreatedAt:     formatTime(inv.CreatedAt),
	}
}

func ToActivityDTO(a *domain.Activity) domain.ActivityDTO {
	return domain.ActivityDTO{
		ID:            a.ID,
		Kind:          a.Kind,
		Title:         a.Title,
		Body:          a.Body,
		ReferenceID:   a.ReferenceID,
		CustomerPhone: a.CustomerPhone,
		Amount:        a.Amount,
		ActorName:     a.ActorName,
		OccurredAt:    formatTime(a.OccurredAt),
	}
}
