package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/mapper"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	statementLimit     = 500
	reminderBatchLimit = 100
)

// CustomerService manages customer accounts. Balances are only changed by
// order approval and payments; this service never writes them.
type CustomerService struct {
	customerRepo    *repository.CustomerRepository
	ledgerEntryRepo *repository.LedgerEntryRepository
	activityRepo    *repository.ActivityRepository
	outboxRepo      *repository.OutboxRepository
	opts            LedgerOptions
	logger          *zap.Logger
	db              *gorm.DB
}

// NewCustomerService creates a new CustomerService instance
func NewCustomerService(
	customerRepo *repository.CustomerRepository,
	ledgerEntryRepo *repository.LedgerEntryRepository,
	activityRepo *repository.ActivityRepository,
	outboxRepo *repository.OutboxRepository,
	opts LedgerOptions,
	logger *zap.Logger,
	db *gorm.DB,
) *CustomerService {
	return &CustomerService{
		customerRepo:    customerRepo,
		ledgerEntryRepo: ledgerEntryRepo,
		activityRepo:    activityRepo,
		outboxRepo:      outboxRepo,
		opts:            opts,
		logger:          logger,
		db:              db,
	}
}

// NormalizePhone parses raw into E.164 using the configured default region
func (s *CustomerService) NormalizePhone(raw string) (string, error) {
	return normalizePhone(raw, s.opts.PhoneRegion)
}

func normalizePhone(raw, region string) (string, error) {
	phone, err := domain.NormalizePhone(raw, region)
	if err != nil {
		return "", invalid("phoneNumber", fmt.Sprintf("%q is not a valid phone number", raw))
	}
	return phone, nil
}

// Register creates a customer account. The phone number must not be registered yet.
func (s *CustomerService) Register(ctx context.Context, req *domain.RegisterCustomerRequest) (*domain.CustomerDTO, error) {
	phone, err := s.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	limit := s.opts.DefaultCreditLimit
	if req.CreditLimit != nil {
		if req.CreditLimit.IsNegative() {
			return nil, invalid("creditLimit", "credit limit must not be negative")
		}
		limit = *req.CreditLimit
	}

	customer := &domain.Customer{
		PhoneNumber:        phone,
		BusinessName:       strings.TrimSpace(req.BusinessName),
		ContactName:        strings.TrimSpace(req.ContactName),
		CreditLimit:        limit,
		OutstandingBalance: decimal.Zero,
		LifetimeValue:      decimal.Zero,
		Status:             domain.CustomerStatusActive,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.customerRepo.Create(ctx, tx, customer); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: customer %s already exists", ErrConflict, phone)
			}
			return fmt.Errorf("failed to create customer: %w", err)
		}
		return recordActivity(ctx, tx, s.activityRepo, customerAddedEntry(customer))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("customer registered", zap.String("phone", phone))
	dto := mapper.ToCustomerDTO(customer)
	return &dto, nil
}

// ensureCustomerTx returns the customer for phone, creating it with the default
// credit limit when absent. The bool is true when the account was created.
func (s *CustomerService) ensureCustomerTx(ctx context.Context, tx *gorm.DB, phone, businessName string) (*domain.Customer, bool, error) {
	customer, err := s.customerRepo.GetByPhone(ctx, tx, phone)
	if err == nil {
		return customer, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to get customer: %w", err)
	}

	customer = &domain.Customer{
		PhoneNumber:        phone,
		BusinessName:       strings.TrimSpace(businessName),
		CreditLimit:        s.opts.DefaultCreditLimit,
		OutstandingBalance: decimal.Zero,
		LifetimeValue:      decimal.Zero,
		Status:             domain.CustomerStatusActive,
	}
	// A concurrent first order for the same phone may win the insert.
	result := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(customer)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create customer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		existing, err := s.customerRepo.GetByPhone(ctx, tx, phone)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get customer: %w", err)
		}
		return existing, false, nil
	}
	if err := recordActivity(ctx, tx, s.activityRepo, customerAddedEntry(customer)); err != nil {
		return nil, false, err
	}
	return customer, true, nil
}

func customerAddedEntry(c *domain.Customer) activityEntry {
	title := "New customer"
	if c.BusinessName != "" {
		title = "New customer: " + c.BusinessName
	}
	return activityEntry{
		kind:          domain.ActivityCustomerAdded,
		title:         title,
		body:          fmt.Sprintf("%s added with credit limit ₹%s", c.PhoneNumber, c.CreditLimit.StringFixed(2)),
		customerPhone: c.PhoneNumber,
		amount:        c.CreditLimit,
	}
}

// Update changes the profile fields of a customer. Only the fields present in
// req are written.
func (s *CustomerService) Update(ctx context.Context, rawPhone string, req *domain.UpdateCustomerRequest) (*domain.CustomerDTO, error) {
	customer, err := s.get(ctx, rawPhone)
	if err != nil {
		return nil, err
	}

	var changes repository.ProfileChanges
	if req.BusinessName != nil {
		name := strings.TrimSpace(*req.BusinessName)
		changes.BusinessName = &name
	}
	if req.ContactName != nil {
		contact := strings.TrimSpace(*req.ContactName)
		changes.ContactName = &contact
	}
	if req.Status != nil {
		switch *req.Status {
		case domain.CustomerStatusActive, domain.CustomerStatusInactive:
			changes.Status = req.Status
		default:
			return nil, invalid("status", "status must be active or inactive")
		}
	}

	if err := s.customerRepo.UpdateProfile(ctx, nil, customer.PhoneNumber, changes); err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}
	return s.Get(ctx, customer.PhoneNumber)
}

// SetCreditLimit replaces the credit limit of a customer. Existing balances
// are not re-checked.
func (s *CustomerService) SetCreditLimit(ctx context.Context, rawPhone string, req *domain.SetCreditLimitRequest) (*domain.CustomerDTO, error) {
	if req.CreditLimit.IsNegative() {
		return nil, invalid("creditLimit", "credit limit must not be negative")
	}
	customer, err := s.get(ctx, rawPhone)
	if err != nil {
		return nil, err
	}

	if err := s.customerRepo.UpdateCreditLimit(ctx, nil, customer.PhoneNumber, req.CreditLimit); err != nil {
		return nil, fmt.Errorf("failed to update credit limit: %w", err)
	}

	s.logger.Info("credit limit changed",
		zap.String("phone", customer.PhoneNumber),
		zap.String("credit_limit", req.CreditLimit.String()))

	return s.Get(ctx, customer.PhoneNumber)
}

// Get returns a customer by phone number
func (s *CustomerService) Get(ctx context.Context, rawPhone string) (*domain.CustomerDTO, error) {
	customer, err := s.get(ctx, rawPhone)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToCustomerDTO(customer)
	return &dto, nil
}

// GetBalance returns the outstanding balance and credit position of a customer
func (s *CustomerService) GetBalance(ctx context.Context, rawPhone string) (*domain.CustomerBalanceDTO, error) {
	customer, err := s.get(ctx, rawPhone)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToCustomerBalanceDTO(customer)
	return &dto, nil
}

// GetStatement returns the customer balance with their ledger entries, newest first
func (s *CustomerService) GetStatement(ctx context.Context, rawPhone string) (*domain.CustomerStatementDTO, error) {
	customer, err := s.get(ctx, rawPhone)
	if err != nil {
		return nil, err
	}

	entries, err := s.ledgerEntryRepo.ListByCustomer(ctx, customer.PhoneNumber, statementLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	statement := &domain.CustomerStatementDTO{
		Customer: mapper.ToCustomerBalanceDTO(customer),
		Entries:  make([]domain.LedgerEntryDTO, len(entries)),
	}
	for i := range entries {
		statement.Entries[i] = mapper.ToLedgerEntryDTO(&entries[i])
	}
	return statement, nil
}

// List returns a page of customers, largest balance first
func (s *CustomerService) List(ctx context.Context, page, pageSize int, filter repository.CustomerFilter) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)

	customers, total, err := s.customerRepo.List(ctx, page, pageSize, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	dtos := make([]domain.CustomerDTO, len(customers))
	for i := range customers {
		dtos[i] = mapper.ToCustomerDTO(&customers[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}

// PaymentReminder is the payload of a customer.payment_reminder message
type PaymentReminder struct {
	PhoneNumber        string          `json:"phoneNumber"`
	BusinessName       string          `json:"businessName,omitempty"`
	OutstandingBalance decimal.Decimal `json:"outstandingBalance"`
}

// QueueOverdueReminders enqueues a reminder for every active customer who owes
// money and has not paid within the overdue window. A customer is reminded at
// most once per window.
func (s *CustomerService) QueueOverdueReminders(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.opts.OverdueAfter)
	candidates, err := s.customerRepo.ListReminderCandidates(ctx, cutoff, cutoff, reminderBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list reminder candidates: %w", err)
	}

	queued := 0
	for i := range candidates {
		c := &candidates[i]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			payload := PaymentReminder{
				PhoneNumber:        c.PhoneNumber,
				BusinessName:       c.BusinessName,
				OutstandingBalance: c.OutstandingBalance,
			}
			if _, err := s.outboxRepo.Enqueue(ctx, tx, domain.OutboxPaymentReminder, c.PhoneNumber, payload); err != nil {
				return err
			}
			return s.customerRepo.MarkReminded(ctx, tx, c.PhoneNumber, now)
		})
		if err != nil {
			s.logger.Warn("failed to queue payment reminder", zap.String("phone", c.PhoneNumber), zap.Error(err))
			continue
		}
		queued++
	}

	if queued > 0 {
		s.logger.Info("payment reminders queued", zap.Int("count", queued))
	}
	return queued, nil
}

func (s *CustomerService) get(ctx context.Context, rawPhone string) (*domain.Customer, error) {
	phone, err := s.NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	customer, err := s.customerRepo.GetByPhone(ctx, nil, phone)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return customer, nil
}
