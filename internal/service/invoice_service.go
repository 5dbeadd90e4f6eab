package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/mapper"
	"github.com/straye-as/merchant-ledger/internal/pdf"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InvoiceRenderer turns an invoice document into PDF bytes
type InvoiceRenderer interface {
	Render(ctx context.Context, doc pdf.InvoiceDocument) ([]byte, error)
}

// InvoiceRenderRequest is the payload of an invoice.render_pdf message
type InvoiceRenderRequest struct {
	InvoiceID string `json:"invoiceId"`
	// SkipDelivery stores the PDF without sending it to the customer
	SkipDelivery bool `json:"skipDelivery,omitempty"`
}

// InvoiceNotice is the payload of an invoice.whatsapp message
type InvoiceNotice struct {
	InvoiceID     string          `json:"invoiceId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	PhoneNumber   string          `json:"phoneNumber"`
	CustomerName  string          `json:"customerName,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PDFPath       string          `json:"pdfPath,omitempty"`
}

// InvoiceService issues invoices and manages their PDF documents. Amounts are
// fixed at issue time; rendering only ever adds the PDF location.
type InvoiceService struct {
	invoiceRepo  *repository.InvoiceRepository
	orderRepo    *repository.OrderRepository
	customerRepo *repository.CustomerRepository
	taxRateRepo  *repository.TaxRateRepository
	sequenceRepo *repository.NumberSequenceRepository
	outboxRepo   *repository.OutboxRepository
	storage      storage.Storage
	renderer     InvoiceRenderer
	business     pdf.Business
	opts         LedgerOptions
	logger       *zap.Logger
	db           *gorm.DB
}

// NewInvoiceService creates a new InvoiceService instance
func NewInvoiceService(
	invoiceRepo *repository.InvoiceRepository,
	orderRepo *repository.OrderRepository,
	customerRepo *repository.CustomerRepository,
	taxRateRepo *repository.TaxRateRepository,
	sequenceRepo *repository.NumberSequenceRepository,
	outboxRepo *repository.OutboxRepository,
	store storage.Storage,
	renderer InvoiceRenderer,
	business pdf.Business,
	opts LedgerOptions,
	logger *zap.Logger,
	db *gorm.DB,
) *InvoiceService {
	return &InvoiceService{
		invoiceRepo:  invoiceRepo,
		orderRepo:    orderRepo,
		customerRepo: customerRepo,
		taxRateRepo:  taxRateRepo,
		sequenceRepo: sequenceRepo,
		outboxRepo:   outboxRepo,
		storage:      store,
		renderer:     renderer,
		business:     business,
		opts:         opts,
		logger:       logger,
		db:           db,
	}
}

// issueTx creates the invoice of an approved order inside tx. The number is
// drawn from the yearly sequence in the same transaction, so a rollback
// leaves no gap.
func (s *InvoiceService) issueTx(ctx context.Context, tx *gorm.DB, order *domain.Order) (*domain.Invoice, error) {
	if _, err := s.invoiceRepo.GetByOrderID(ctx, tx, order.ID); err == nil {
		return nil, ErrInvoiceAlreadyExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing invoice: %w", err)
	}

	rates, err := s.taxRateRepo.RatesByCategory(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tax rates: %w", err)
	}
	gst := decimal.Zero
	for _, item := range order.Items {
		gst = gst.Add(item.LineTotal.Mul(taxRateFor(rates, item.Category, s.opts.DefaultGSTRate)))
	}
	gst = gst.Round(2)

	year := time.Now().Year()
	next, err := s.sequenceRepo.GetNextNumber(ctx, tx, invoiceSequenceName, year)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: invoice number taken by a concurrent approval", ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to allocate invoice number: %w", err)
	}

	invoice := &domain.Invoice{
		OrderID:       order.ID,
		InvoiceNumber: fmt.Sprintf("%s-%d-%04d", s.opts.InvoicePrefix, year, next),
		CustomerPhone: order.CustomerPhone,
		Subtotal:      order.TotalEstimate,
		GSTAmount:     gst,
		Amount:        order.TotalEstimate.Add(gst),
	}
	if err := s.invoiceRepo.Create(ctx, tx, invoice); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrInvoiceAlreadyExists
		}
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	return invoice, nil
}

// Get returns an invoice by id
func (s *InvoiceService) Get(ctx context.Context, id uuid.UUID) (*domain.InvoiceDTO, error) {
	invoice, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToInvoiceDTO(invoice)
	return &dto, nil
}

// GetByOrder returns the invoice issued for an order
func (s *InvoiceService) GetByOrder(ctx context.Context, orderID uuid.UUID) (*domain.InvoiceDTO, error) {
	invoice, err := s.invoiceRepo.GetByOrderID(ctx, nil, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	dto := mapper.ToInvoiceDTO(invoice)
	return &dto, nil
}

// List returns a page of invoices, newest first
func (s *InvoiceService) List(ctx context.Context, page, pageSize int, filter repository.InvoiceFilter) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)
	if filter.CustomerPhone != "" {
		phone, err := normalizePhone(filter.CustomerPhone, s.opts.PhoneRegion)
		if err != nil {
			return nil, err
		}
		filter.CustomerPhone = phone
	}

	invoices, total, err := s.invoiceRepo.List(ctx, page, pageSize, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	dtos := make([]domain.InvoiceDTO, len(invoices))
	for i := range invoices {
		dtos[i] = mapper.ToInvoiceDTO(&invoices[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}

// Download opens the stored PDF of an invoice. When the PDF is not available
// yet ready is false, the reader is nil and a render is queued if none is stored.
func (s *InvoiceService) Download(ctx context.Context, id uuid.UUID) (io.ReadCloser, *domain.InvoiceDTO, bool, error) {
	invoice, err := s.get(ctx, id)
	if err != nil {
		return nil, nil, false, err
	}
	dto := mapper.ToInvoiceDTO(invoice)

	if !invoice.PDFGenerated || invoice.PDFPath == "" {
		return nil, &dto, false, nil
	}

	rc, err := s.storage.Get(ctx, invoice.PDFPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("invoice pdf missing from storage, queueing render",
				zap.String("invoice_number", invoice.InvoiceNumber),
				zap.String("path", invoice.PDFPath))
			if _, err := s.queueRender(ctx, invoice, false); err != nil {
				s.logger.Warn("failed to queue invoice render", zap.Error(err))
			}
			return nil, &dto, false, nil
		}
		return nil, nil, false, fmt.Errorf("failed to open invoice pdf: %w", err)
	}
	return rc, &dto, true, nil
}

// Resend queues the invoice for delivery to the customer again. An invoice
// without a PDF is rendered first, which delivers it on completion.
func (s *InvoiceService) Resend(ctx context.Context, id uuid.UUID) error {
	invoice, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	if !invoice.PDFGenerated {
		var queued bool
		queued, err = s.queueRender(ctx, invoice, true)
		if err == nil && !queued {
			actorLogger(ctx, s.logger).Info("invoice render already pending, resend skipped",
				zap.String("invoice_number", invoice.InvoiceNumber))
			return nil
		}
	} else {
		_, err = s.outboxRepo.Enqueue(ctx, nil, domain.OutboxInvoiceWhatsApp, invoice.ID.String(),
			s.notice(ctx, invoice))
	}
	if err != nil {
		return fmt.Errorf("failed to queue invoice delivery: %w", err)
	}

	actorLogger(ctx, s.logger).Info("invoice resend queued", zap.String("invoice_number", invoice.InvoiceNumber))
	return nil
}

// queueRender enqueues a render unless a pending one already covers it. A
// pending render that delivers satisfies any request, one that skips delivery
// only satisfies another silent render.
func (s *InvoiceService) queueRender(ctx context.Context, invoice *domain.Invoice, deliver bool) (bool, error) {
	msgs, err := s.outboxRepo.ListByAggregate(ctx, invoice.ID.String())
	if err != nil {
		return false, fmt.Errorf("failed to check pending renders: %w", err)
	}
	for i := range msgs {
		if msgs[i].Kind != domain.OutboxInvoiceRenderPDF || msgs[i].Status != domain.OutboxStatusPending {
			continue
		}
		var pending InvoiceRenderRequest
		if err := decodePayload(&msgs[i], &pending); err != nil || !deliver || !pending.SkipDelivery {
			return false, nil
		}
	}
	_, err = s.outboxRepo.Enqueue(ctx, nil, domain.OutboxInvoiceRenderPDF, invoice.ID.String(),
		InvoiceRenderRequest{InvoiceID: invoice.ID.String(), SkipDelivery: !deliver})
	if err != nil {
		return false, err
	}
	return true, nil
}

// RenderPDF renders and stores the PDF of an invoice, then queues delivery
// when deliver is set. Rendering an invoice that already has a PDF replaces
// the stored file.
func (s *InvoiceService) RenderPDF(ctx context.Context, id uuid.UUID, deliver bool) error {
	invoice, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	order, err := s.orderRepo.GetByID(ctx, nil, invoice.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", invoice.OrderID, err)
	}

	doc := pdf.InvoiceDocument{
		Business:      s.business,
		InvoiceNumber: invoice.InvoiceNumber,
		IssuedAt:      invoice.CreatedAt,
		CustomerPhone: invoice.CustomerPhone,
		CustomerName:  invoice.CustomerPhone,
		Lines:         make([]pdf.Line, len(order.Items)),
		Subtotal:      invoice.Subtotal,
		GST:           invoice.GSTAmount,
		Total:         invoice.Amount,
	}
	if customer, err := s.customerRepo.GetByPhone(ctx, nil, invoice.CustomerPhone); err == nil {
		doc.CustomerName = displayName(customer)
	}
	for i, item := range order.Items {
		doc.Lines[i] = pdf.Line{
			Position:     i + 1,
			MaterialName: item.MaterialName,
			Color:        item.Color,
			Quantity:     item.QuantityMeters,
			Rate:         item.PricePerMeter,
			Amount:       item.LineTotal,
		}
	}

	data, err := s.renderer.Render(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to render invoice %s: %w", invoice.InvoiceNumber, err)
	}

	key := invoicePDFKey(invoice)
	if _, err := s.storage.Put(ctx, key, "application/pdf", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to store invoice %s: %w", invoice.InvoiceNumber, err)
	}
	if err := s.invoiceRepo.MarkPDFGenerated(ctx, invoice.ID, key); err != nil {
		return fmt.Errorf("failed to mark invoice pdf: %w", err)
	}
	invoice.PDFGenerated = true
	invoice.PDFPath = key

	if deliver {
		if _, err := s.outboxRepo.Enqueue(ctx, nil, domain.OutboxInvoiceWhatsApp, invoice.ID.String(), s.notice(ctx, invoice)); err != nil {
			return fmt.Errorf("failed to queue invoice delivery: %w", err)
		}
	}

	s.logger.Info("invoice pdf stored",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("path", key),
		zap.Int("bytes", len(data)))
	return nil
}

func (s *InvoiceService) notice(ctx context.Context, invoice *domain.Invoice) InvoiceNotice {
	n := InvoiceNotice{
		InvoiceID:     invoice.ID.String(),
		InvoiceNumber: invoice.InvoiceNumber,
		PhoneNumber:   invoice.CustomerPhone,
		Amount:        invoice.Amount,
		PDFPath:       invoice.PDFPath,
	}
	if customer, err := s.customerRepo.GetByPhone(ctx, nil, invoice.CustomerPhone); err == nil {
		n.CustomerName = displayName(customer)
	}
	return n
}

func (s *InvoiceService) get(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return invoice, nil
}

func invoicePDFKey(invoice *domain.Invoice) string {
	return fmt.Sprintf("invoices/%d/%s.pdf", invoice.CreatedAt.Year(), invoice.InvoiceNumber)
}
