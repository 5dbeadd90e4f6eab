package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/auth"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/lock"
	"github.com/straye-as/merchant-ledger/internal/mapper"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentService records customer payments against outstanding balances
type PaymentService struct {
	paymentRepo     *repository.PaymentRepository
	customerRepo    *repository.CustomerRepository
	ledgerEntryRepo *repository.LedgerEntryRepository
	activityRepo    *repository.ActivityRepository
	outboxRepo      *repository.OutboxRepository
	locker          lock.Locker
	opts            LedgerOptions
	logger          *zap.Logger
	db              *gorm.DB
}

// NewPaymentService creates a new PaymentService instance
func NewPaymentService(
	paymentRepo *repository.PaymentRepository,
	customerRepo *repository.CustomerRepository,
	ledgerEntryRepo *repository.LedgerEntryRepository,
	activityRepo *repository.ActivityRepository,
	outboxRepo *repository.OutboxRepository,
	locker lock.Locker,
	opts LedgerOptions,
	logger *zap.Logger,
	db *gorm.DB,
) *PaymentService {
	return &PaymentService{
		paymentRepo:     paymentRepo,
		customerRepo:    customerRepo,
		ledgerEntryRepo: ledgerEntryRepo,
		activityRepo:    activityRepo,
		outboxRepo:      outboxRepo,
		locker:          locker,
		opts:            opts,
		logger:          logger,
		db:              db,
	}
}

// PaymentReceipt is the payload of a payment.whatsapp_receipt message
type PaymentReceipt struct {
	PaymentID    string          `json:"paymentId"`
	PhoneNumber  string          `json:"phoneNumber"`
	Amount       decimal.Decimal `json:"amount"`
	Mode         string          `json:"mode"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
}

// RecordPayment applies a payment to a customer balance. The balance may go
// negative (credit in favor of the customer). A repeated idempotency key
// returns the original payment without applying it again.
func (s *PaymentService) RecordPayment(ctx context.Context, rawPhone string, req *domain.RecordPaymentRequest) (*domain.RecordPaymentResult, error) {
	phone, err := normalizePhone(rawPhone, s.opts.PhoneRegion)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, invalid("amount", "amount must be greater than 0")
	}
	if !req.Mode.IsValid() {
		return nil, invalid("mode", "mode must be one of upi, cash, bank_transfer, cheque")
	}
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)

	ctx, cancel := context.WithTimeout(ctx, s.opts.ApproveTimeout)
	defer cancel()

	release, err := s.locker.Acquire(ctx, lock.CustomerKey(phone))
	if err != nil {
		return nil, lockError(ctx, err)
	}
	defer release()

	log := actorLogger(ctx, s.logger)
	var result *domain.RecordPaymentResult

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.customerRepo.GetForUpdate(ctx, tx, phone)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCustomerNotFound
			}
			return fmt.Errorf("failed to lock customer: %w", err)
		}

		if idempotencyKey != "" {
			existing, err := s.paymentRepo.GetByIdempotencyKey(ctx, tx, idempotencyKey)
			if err == nil {
				if existing.CustomerPhone != phone {
					return fmt.Errorf("%w: idempotency key already used for another customer", ErrConflict)
				}
				result = &domain.RecordPaymentResult{
					Payment:    mapper.ToPaymentDTO(existing),
					NewBalance: customer.OutstandingBalance,
					Replayed:   true,
				}
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to check idempotency key: %w", err)
			}
		}

		payment := &domain.Payment{
			CustomerPhone: phone,
			Amount:        req.Amount,
			Mode:          req.Mode,
			Reference:     strings.TrimSpace(req.Reference),
			RecordedBy:    auth.ActorName(ctx),
		}
		if idempotencyKey != "" {
			payment.IdempotencyKey = &idempotencyKey
		}
		if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: idempotency key already used", ErrConflict)
			}
			return fmt.Errorf("failed to create payment: %w", err)
		}

		now := time.Now().UTC()
		customer.OutstandingBalance = customer.OutstandingBalance.Sub(req.Amount)
		customer.LastPaymentAt = &now
		if err := s.customerRepo.UpdateBalances(ctx, tx, customer); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		entry := &domain.LedgerEntry{
			CustomerPhone: phone,
			EntryType:     domain.LedgerEntryPayment,
			Amount:        req.Amount,
			BalanceAfter:  customer.OutstandingBalance,
			PaymentID:     &payment.ID,
			Description:   fmt.Sprintf("Payment received (%s)", req.Mode),
		}
		if err := s.ledgerEntryRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		if err := recordActivity(ctx, tx, s.activityRepo, activityEntry{
			kind:          domain.ActivityPaymentReceived,
			title:         "Payment received",
			body:          fmt.Sprintf("₹%s via %s from %s", req.Amount.StringFixed(2), req.Mode, displayName(customer)),
			referenceID:   &payment.ID,
			customerPhone: phone,
			amount:        req.Amount,
		}); err != nil {
			return err
		}

		receipt := PaymentReceipt{
			PaymentID:    payment.ID.String(),
			PhoneNumber:  phone,
			Amount:       req.Amount,
			Mode:         string(req.Mode),
			BalanceAfter: customer.OutstandingBalance,
		}
		if _, err := s.outboxRepo.Enqueue(ctx, tx, domain.OutboxPaymentReceipt, payment.ID.String(), receipt); err != nil {
			return fmt.Errorf("failed to enqueue payment receipt: %w", err)
		}

		result = &domain.RecordPaymentResult{
			Payment:    mapper.ToPaymentDTO(payment),
			NewBalance: customer.OutstandingBalance,
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}

	if result.Replayed {
		log.Info("payment replayed", zap.String("phone", phone), zap.String("payment_id", result.Payment.ID.String()))
	} else {
		log.Info("payment recorded",
			zap.String("phone", phone),
			zap.String("payment_id", result.Payment.ID.String()),
			zap.String("amount", req.Amount.String()),
			zap.String("new_balance", result.NewBalance.String()))
	}
	return result, nil
}

// ListPayments returns a page of a customer's payments, newest first
func (s *PaymentService) ListPayments(ctx context.Context, rawPhone string, page, pageSize int) (*domain.PaginatedResponse, error) {
	phone, err := normalizePhone(rawPhone, s.opts.PhoneRegion)
	if err != nil {
		return nil, err
	}
	if _, err := s.customerRepo.GetByPhone(ctx, nil, phone); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	page, pageSize = normalizePage(page, pageSize)
	payments, total, err := s.paymentRepo.ListByCustomer(ctx, phone, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	dtos := make([]domain.PaymentDTO, len(payments))
	for i := range payments {
		dtos[i] = mapper.ToPaymentDTO(&payments[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}

func displayName(c *domain.Customer) string {
	if c.BusinessName != "" {
		return c.BusinessName
	}
	if c.ContactName != "" {
		return c.ContactName
	}
	return c.PhoneNumber
}
