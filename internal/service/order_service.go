package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/auth"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/lock"
	"github.com/straye-as/merchant-ledger/internal/logger"
	"github.com/straye-as/merchant-ledger/internal/mapper"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderApprovalRequest is the payload of an order.approval_request message
type OrderApprovalRequest struct {
	OrderID             string          `json:"orderId"`
	OwnerPhone          string          `json:"ownerPhone"`
	CustomerPhone       string          `json:"customerPhone"`
	CustomerName        string          `json:"customerName,omitempty"`
	TotalEstimate       decimal.Decimal `json:"totalEstimate"`
	Lines               []string        `json:"lines"`
	CreditLimitExceeded bool            `json:"creditLimitExceeded"`
}

// OrderService runs the order lifecycle:
// proposed -> waiting_owner_confirmation -> approved | rejected.
// Approval is the only operation that moves stock and balances, and it does
// so in a single transaction under the stock and customer key locks.
type OrderService struct {
	orderRepo       *repository.OrderRepository
	historyRepo     *repository.OrderStatusHistoryRepository
	materialRepo    *repository.MaterialRepository
	customerRepo    *repository.CustomerRepository
	ledgerEntryRepo *repository.LedgerEntryRepository
	invoiceRepo     *repository.InvoiceRepository
	activityRepo    *repository.ActivityRepository
	outboxRepo      *repository.OutboxRepository
	customers       *CustomerService
	inventory       *InventoryService
	invoices        *InvoiceService
	locker          lock.Locker
	opts            LedgerOptions
	logger          *zap.Logger
	db              *gorm.DB
}

// NewOrderService creates a new OrderService instance
func NewOrderService(
	orderRepo *repository.OrderRepository,
	historyRepo *repository.OrderStatusHistoryRepository,
	materialRepo *repository.MaterialRepository,
	customerRepo *repository.CustomerRepository,
	ledgerEntryRepo *repository.LedgerEntryRepository,
	invoiceRepo *repository.InvoiceRepository,
	activityRepo *repository.ActivityRepository,
	outboxRepo *repository.OutboxRepository,
	customers *CustomerService,
	inventory *InventoryService,
	invoices *InvoiceService,
	locker lock.Locker,
	opts LedgerOptions,
	logger *zap.Logger,
	db *gorm.DB,
) *OrderService {
	return &OrderService{
		orderRepo:       orderRepo,
		historyRepo:     historyRepo,
		materialRepo:    materialRepo,
		customerRepo:    customerRepo,
		ledgerEntryRepo: ledgerEntryRepo,
		invoiceRepo:     invoiceRepo,
		activityRepo:    activityRepo,
		outboxRepo:      outboxRepo,
		customers:       customers,
		inventory:       inventory,
		invoices:        invoices,
		locker:          locker,
		opts:            opts,
		logger:          logger,
		db:              db,
	}
}

// Propose records a new order and puts it in front of the owner. Prices are
// frozen from the catalog; inventory is not touched.
func (s *OrderService) Propose(ctx context.Context, req *domain.ProposeOrderRequest) (*domain.ProposeOrderResult, error) {
	phone, err := normalizePhone(req.CustomerPhone, s.opts.PhoneRegion)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, invalid("items", "order must have at least one item")
	}
	source := req.Source
	if source == "" {
		source = domain.OrderSourceManual
	}

	var (
		order    *domain.Order
		warnings []string
		customer *domain.Customer
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items := make([]domain.OrderItem, 0, len(req.Items))
		total := decimal.Zero
		for i, line := range req.Items {
			if !line.QuantityMeters.IsPositive() {
				return invalid(fmt.Sprintf("items[%d].quantityMeters", i), "quantity must be greater than 0")
			}
			name := strings.TrimSpace(line.MaterialName)
			if name == "" {
				return invalid(fmt.Sprintf("items[%d].materialName", i), "material name is required")
			}
			material, err := s.materialRepo.GetByName(ctx, tx, name)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return &UnknownMaterialError{MaterialName: name}
				}
				return fmt.Errorf("failed to look up material: %w", err)
			}

			lineTotal := line.QuantityMeters.Mul(material.PricePerMeter).Round(2)
			items = append(items, domain.OrderItem{
				Position:       i + 1,
				MaterialName:   material.MaterialName,
				Color:          colorOrDefault(line.Color),
				Category:       material.Category,
				QuantityMeters: line.QuantityMeters,
				PricePerMeter:  material.PricePerMeter,
				LineTotal:      lineTotal,
				LineStatus:     domain.LineStatusPending,
			})
			total = total.Add(lineTotal)
		}

		var err error
		customer, _, err = s.customers.ensureCustomerTx(ctx, tx, phone, req.BusinessName)
		if err != nil {
			return err
		}

		order = &domain.Order{
			CustomerPhone: phone,
			Items:         items,
			TotalEstimate: total,
			Status:        domain.OrderStatusProposed,
			Source:        source,
			Notes:         strings.TrimSpace(req.Notes),
			CreatedBy:     auth.ActorName(ctx),
		}
		if customer.ExceedsCredit(total) {
			order.CreditLimitExceeded = true
			warnings = append(warnings, creditWarning(customer, total))
		}

		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		if err := s.recordTransition(ctx, tx, order.ID, "", domain.OrderStatusProposed, ""); err != nil {
			return err
		}

		rows, err := s.orderRepo.TransitionStatus(ctx, tx, order.ID, domain.OrderStatusProposed, domain.OrderStatusWaiting, nil)
		if err != nil {
			return fmt.Errorf("failed to submit order: %w", err)
		}
		if rows == 0 {
			return ErrInvalidState
		}
		order.Status = domain.OrderStatusWaiting
		if err := s.recordTransition(ctx, tx, order.ID, domain.OrderStatusProposed, domain.OrderStatusWaiting, ""); err != nil {
			return err
		}

		if err := recordActivity(ctx, tx, s.activityRepo, activityEntry{
			kind:          domain.ActivityOrderProposed,
			title:         "New order from " + displayName(customer),
			body:          fmt.Sprintf("%d item(s), estimate ₹%s", len(items), total.StringFixed(2)),
			referenceID:   &order.ID,
			customerPhone: phone,
			amount:        total,
		}); err != nil {
			return err
		}

		if s.opts.OwnerPhone != "" {
			if _, err := s.outboxRepo.Enqueue(ctx, tx, domain.OutboxOrderApprovalAlert, order.ID.String(),
				approvalRequest(order, customer, s.opts.OwnerPhone)); err != nil {
				return fmt.Errorf("failed to enqueue approval request: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithOrder(actorLogger(ctx, s.logger), order.ID.String(), phone).Info("order proposed",
		zap.Int("items", len(order.Items)),
		zap.String("total", order.TotalEstimate.String()),
		zap.Bool("credit_limit_exceeded", order.CreditLimitExceeded))

	return &domain.ProposeOrderResult{
		Order:    mapper.ToOrderDTO(order, nil, nil),
		Warnings: warnings,
	}, nil
}

// Approve confirms a waiting order: stock is deducted, the invoice is issued
// and the customer balance raised, all in one transaction. Any failure rolls
// everything back and the order stays waiting.
func (s *OrderService) Approve(ctx context.Context, orderID uuid.UUID) (*domain.ApproveOrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ApproveTimeout)
	defer cancel()

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	log := logger.WithOrder(actorLogger(ctx, s.logger), orderID.String(), order.CustomerPhone)
	if order.Status != domain.OrderStatusWaiting {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}

	keys := make([]string, 0, len(order.Items)+1)
	for _, item := range order.Items {
		keys = append(keys, lock.StockKey(domain.Key(item.MaterialName), domain.Key(colorOrDefault(item.Color))))
	}
	keys = append(keys, lock.CustomerKey(order.CustomerPhone))

	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return nil, lockError(ctx, err)
	}
	defer release()

	var (
		invoice  *domain.Invoice
		warnings []string
	)
	approvedBy := auth.ActorName(ctx)
	approvedAt := time.Now().UTC()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.orderRepo.TransitionStatus(ctx, tx, orderID, domain.OrderStatusWaiting, domain.OrderStatusApproved,
			map[string]interface{}{
				"approved_by": approvedBy,
				"approved_at": approvedAt,
			})
		if err != nil {
			return fmt.Errorf("failed to approve order: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: order is no longer waiting for confirmation", ErrInvalidState)
		}

		// Lines are read again inside the transaction
		order, err = s.orderRepo.GetByID(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("failed to reload order: %w", err)
		}

		for _, item := range order.Items {
			if err := s.inventory.DeductTx(ctx, tx, item.MaterialName, item.Color, item.QuantityMeters); err != nil {
				return err
			}
		}

		customer, err := s.customerRepo.GetForUpdate(ctx, tx, order.CustomerPhone)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCustomerNotFound
			}
			return fmt.Errorf("failed to lock customer: %w", err)
		}

		invoice, err = s.invoices.issueTx(ctx, tx, order)
		if err != nil {
			return err
		}

		if customer.ExceedsCredit(invoice.Amount) {
			if s.opts.CreditPolicy == CreditPolicyBlock {
				return fmt.Errorf("%w: %s", ErrCreditLimitExceeded, creditWarning(customer, invoice.Amount))
			}
			warnings = append(warnings, creditWarning(customer, invoice.Amount))
			if err := s.orderRepo.FlagCreditLimitExceeded(ctx, tx, orderID); err != nil {
				return fmt.Errorf("failed to flag credit limit: %w", err)
			}
			order.CreditLimitExceeded = true
		}

		customer.OutstandingBalance = customer.OutstandingBalance.Add(invoice.Amount)
		customer.LifetimeValue = customer.LifetimeValue.Add(invoice.Amount)
		if err := s.customerRepo.UpdateBalances(ctx, tx, customer); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		entry := &domain.LedgerEntry{
			CustomerPhone: customer.PhoneNumber,
			EntryType:     domain.LedgerEntryInvoice,
			Amount:        invoice.Amount,
			BalanceAfter:  customer.OutstandingBalance,
			OrderID:       &order.ID,
			InvoiceID:     &invoice.ID,
			Description:   "Invoice " + invoice.InvoiceNumber,
		}
		if err := s.ledgerEntryRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		if err := s.orderRepo.SetLineStatus(ctx, tx, orderID, domain.LineStatusFulfilled); err != nil {
			return fmt.Errorf("failed to fulfil order lines: %w", err)
		}
		if err := s.orderRepo.SetInvoice(ctx, tx, orderID, invoice.ID); err != nil {
			return fmt.Errorf("failed to link invoice: %w", err)
		}
		if err := s.recordTransition(ctx, tx, orderID, domain.OrderStatusWaiting, domain.OrderStatusApproved, ""); err != nil {
			return err
		}

		if err := recordActivity(ctx, tx, s.activityRepo, activityEntry{
			kind:          domain.ActivityOrderApproved,
			title:         "Order approved: " + invoice.InvoiceNumber,
			body:          fmt.Sprintf("₹%s billed to %s", invoice.Amount.StringFixed(2), displayName(customer)),
			referenceID:   &order.ID,
			customerPhone: customer.PhoneNumber,
			amount:        invoice.Amount,
		}); err != nil {
			return err
		}

		if _, err := s.outboxRepo.Enqueue(ctx, tx, domain.OutboxInvoiceRenderPDF, invoice.ID.String(),
			InvoiceRenderRequest{InvoiceID: invoice.ID.String()}); err != nil {
			return fmt.Errorf("failed to enqueue invoice render: %w", err)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrTimeout) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		log.Info("order approval failed", zap.Error(err))
		return nil, err
	}

	order.Status = domain.OrderStatusApproved
	order.ApprovedBy = approvedBy
	order.ApprovedAt = &approvedAt
	order.InvoiceID = &invoice.ID
	for i := range order.Items {
		order.Items[i].LineStatus = domain.LineStatusFulfilled
	}

	log.Info("order approved",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("amount", invoice.Amount.String()),
		zap.Int("warnings", len(warnings)))

	return &domain.ApproveOrderResult{
		Order:    mapper.ToOrderDTO(order, invoice, nil),
		Invoice:  mapper.ToInvoiceDTO(invoice),
		Warnings: warnings,
	}, nil
}

// Reject closes a waiting order without touching stock or balances
func (s *OrderService) Reject(ctx context.Context, orderID uuid.UUID, req *domain.RejectOrderRequest) (*domain.OrderDTO, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusWaiting {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}

	reason := ""
	if req != nil {
		reason = strings.TrimSpace(req.Reason)
	}
	rejectedBy := auth.ActorName(ctx)
	rejectedAt := time.Now().UTC()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.orderRepo.TransitionStatus(ctx, tx, orderID, domain.OrderStatusWaiting, domain.OrderStatusRejected,
			map[string]interface{}{
				"rejected_by":   rejectedBy,
				"rejected_at":   rejectedAt,
				"reject_reason": reason,
			})
		if err != nil {
			return fmt.Errorf("failed to reject order: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: order is no longer waiting for confirmation", ErrInvalidState)
		}
		if err := s.orderRepo.SetLineStatus(ctx, tx, orderID, domain.LineStatusCancelled); err != nil {
			return fmt.Errorf("failed to cancel order lines: %w", err)
		}
		if err := s.recordTransition(ctx, tx, orderID, domain.OrderStatusWaiting, domain.OrderStatusRejected, reason); err != nil {
			return err
		}

		body := fmt.Sprintf("Estimate ₹%s", order.TotalEstimate.StringFixed(2))
		if reason != "" {
			body += ": " + reason
		}
		return recordActivity(ctx, tx, s.activityRepo, activityEntry{
			kind:          domain.ActivityOrderRejected,
			title:         "Order rejected",
			body:          body,
			referenceID:   &order.ID,
			customerPhone: order.CustomerPhone,
			amount:        order.TotalEstimate,
		})
	})
	if err != nil {
		return nil, err
	}

	order.Status = domain.OrderStatusRejected
	order.RejectedBy = rejectedBy
	order.RejectedAt = &rejectedAt
	order.RejectReason = reason
	for i := range order.Items {
		order.Items[i].LineStatus = domain.LineStatusCancelled
	}

	logger.WithOrder(actorLogger(ctx, s.logger), orderID.String(), order.CustomerPhone).Info("order rejected", zap.String("reason", reason))
	dto := mapper.ToOrderDTO(order, nil, nil)
	return &dto, nil
}

// Get returns an order with its invoice summary and status history
func (s *OrderService) Get(ctx context.Context, orderID uuid.UUID) (*domain.OrderDTO, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var invoice *domain.Invoice
	if order.InvoiceID != nil {
		invoice, err = s.invoiceRepo.GetByID(ctx, *order.InvoiceID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to get invoice: %w", err)
		}
	}

	history, err := s.historyRepo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}

	dto := mapper.ToOrderDTO(order, invoice, history)
	return &dto, nil
}

// List returns a page of orders, newest first
func (s *OrderService) List(ctx context.Context, page, pageSize int, filter repository.OrderFilter) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)
	if filter.CustomerPhone != "" {
		phone, err := normalizePhone(filter.CustomerPhone, s.opts.PhoneRegion)
		if err != nil {
			return nil, err
		}
		filter.CustomerPhone = phone
	}

	orders, total, err := s.orderRepo.List(ctx, page, pageSize, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return paginated(orderDTOs(orders), total, page, pageSize), nil
}

// ListPending returns orders waiting for the owner, oldest first
func (s *OrderService) ListPending(ctx context.Context, page, pageSize int) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)

	orders, total, err := s.orderRepo.ListPending(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	return paginated(orderDTOs(orders), total, page, pageSize), nil
}

func (s *OrderService) getOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, nil, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (s *OrderService) recordTransition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from, to domain.OrderStatus, note string) error {
	history := &domain.OrderStatusHistory{
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  auth.ActorName(ctx),
		Note:       note,
		ChangedAt:  time.Now().UTC(),
	}
	if err := s.historyRepo.Create(ctx, tx, history); err != nil {
		return fmt.Errorf("failed to record status history: %w", err)
	}
	return nil
}

func orderDTOs(orders []domain.Order) []domain.OrderDTO {
	dtos := make([]domain.OrderDTO, len(orders))
	for i := range orders {
		dtos[i] = mapper.ToOrderDTO(&orders[i], nil, nil)
	}
	return dtos
}

func creditWarning(c *domain.Customer, amount decimal.Decimal) string {
	return fmt.Sprintf("credit limit exceeded: outstanding ₹%s + ₹%s > limit ₹%s",
		c.OutstandingBalance.StringFixed(2), amount.StringFixed(2), c.CreditLimit.StringFixed(2))
}

func approvalRequest(o *domain.Order, c *domain.Customer, ownerPhone string) OrderApprovalRequest {
	lines := make([]string, len(o.Items))
	for i, item := range o.Items {
		lines[i] = fmt.Sprintf("%s (%s) %s m", item.MaterialName, item.Color, item.QuantityMeters.String())
	}
	return OrderApprovalRequest{
		OrderID:             o.ID.String(),
		OwnerPhone:          ownerPhone,
		CustomerPhone:       o.CustomerPhone,
		CustomerName:        displayName(c),
		TotalEstimate:       o.TotalEstimate,
		Lines:               lines,
		CreditLimitExceeded: o.CreditLimitExceeded,
	}
}
