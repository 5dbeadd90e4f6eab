package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/lock"
	"github.com/straye-as/merchant-ledger/internal/notify"
	"github.com/straye-as/merchant-ledger/internal/pdf"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/service"
	"github.com/straye-as/merchant-ledger/internal/storage"
	"github.com/straye-as/merchant-ledger/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testPhone      = "+919876543210"
	otherTestPhone = "+919812345678"
	ownerTestPhone = "+919800000001"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
}

func (n *recordingNotifier) Send(ctx context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) sent() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.messages...)
}

type fakeRenderer struct {
	mu   sync.Mutex
	docs []pdf.InvoiceDocument
	err  error
}

func (r *fakeRenderer) Render(ctx context.Context, doc pdf.InvoiceDocument) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.docs = append(r.docs, doc)
	return []byte("%PDF-1.4 " + doc.InvoiceNumber), nil
}

// ledger wires every service against one test database
type ledger struct {
	db         *gorm.DB
	locker     lock.Locker
	opts       service.LedgerOptions
	store      storage.Storage
	renderer   *fakeRenderer
	notifier   *recordingNotifier
	outboxRepo *repository.OutboxRepository

	catalog    *service.CatalogService
	inventory  *service.InventoryService
	customers  *service.CustomerService
	payments   *service.PaymentService
	invoices   *service.InvoiceService
	orders     *service.OrderService
	activity   *service.ActivityService
	analytics  *service.AnalyticsService
	dispatcher *service.OutboxDispatcher
}

func newLedger(t *testing.T, configure ...func(*service.LedgerOptions)) *ledger {
	t.Helper()
	return newLedgerWithLocker(t, lock.NewLocal(), configure...)
}

// newLedgerWithLocker wires the services around locker
func newLedgerWithLocker(t *testing.T, locker lock.Locker, configure ...func(*service.LedgerOptions)) *ledger {
	t.Helper()

	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	opts := service.DefaultLedgerOptions()
	opts.OwnerPhone = ownerTestPhone
	for _, fn := range configure {
		fn(&opts)
	}

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	materialRepo := repository.NewMaterialRepository(db)
	taxRateRepo := repository.NewTaxRateRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	ledgerEntryRepo := repository.NewLedgerEntryRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	historyRepo := repository.NewOrderStatusHistoryRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	sequenceRepo := repository.NewNumberSequenceRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	l := &ledger{
		db:         db,
		locker:     locker,
		opts:       opts,
		store:      store,
		renderer:   &fakeRenderer{},
		notifier:   &recordingNotifier{},
		outboxRepo: outboxRepo,
	}

	l.catalog = service.NewCatalogService(materialRepo, taxRateRepo, activityRepo, opts, logger, db)
	l.inventory = service.NewInventoryService(inventoryRepo, materialRepo, activityRepo, outboxRepo, l.locker, opts, logger, db)
	l.customers = service.NewCustomerService(customerRepo, ledgerEntryRepo, activityRepo, outboxRepo, opts, logger, db)
	l.payments = service.NewPaymentService(paymentRepo, customerRepo, ledgerEntryRepo, activityRepo, outboxRepo, l.locker, opts, logger, db)
	l.invoices = service.NewInvoiceService(invoiceRepo, orderRepo, customerRepo, taxRateRepo, sequenceRepo, outboxRepo,
		store, l.renderer, pdf.Business{Name: "Sharma Textiles", GSTIN: "27ABCDE1234F1Z5"}, opts, logger, db)
	l.orders = service.NewOrderService(orderRepo, historyRepo, materialRepo, customerRepo, ledgerEntryRepo, invoiceRepo,
		activityRepo, outboxRepo, l.customers, l.inventory, l.invoices, l.locker, opts, logger, db)
	l.activity = service.NewActivityService(activityRepo, logger)
	l.analytics = service.NewAnalyticsService(invoiceRepo, paymentRepo, customerRepo, orderRepo, l.inventory, l.activity, logger)
	l.dispatcher = service.NewOutboxDispatcher(outboxRepo, l.invoices, l.notifier, service.DispatcherOptions{
		WorkerID:     "test-worker",
		BatchSize:    50,
		LockTTL:      time.Minute,
		MaxAttempts:  3,
		Timeout:      10 * time.Second,
		BusinessName: "Sharma Textiles",
		OwnerPhone:   ownerTestPhone,
	}, logger)
	return l
}

// seedCotton adds Cotton at ₹150/m with 10 red rolls of 5 m
func (l *ledger) seedCotton(t *testing.T) {
	t.Helper()
	testutil.CreateMaterial(t, l.db, "Cotton", "150", "cotton")
	testutil.CreateBatch(t, l.db, "Cotton", "Red", 10, "5", "0")
}

func (l *ledger) propose(t *testing.T, phone string, items ...domain.OrderItemRequest) *domain.OrderDTO {
	t.Helper()
	result, err := l.orders.Propose(testutil.StaffContext(), &domain.ProposeOrderRequest{
		CustomerPhone: phone,
		BusinessName:  "Gupta Traders",
		Items:         items,
	})
	require.NoError(t, err)
	return &result.Order
}

func line(material, color, meters string) domain.OrderItemRequest {
	return domain.OrderItemRequest{MaterialName: material, Color: color, QuantityMeters: decimal.RequireFromString(meters)}
}

func outboxKinds(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var kinds []string
	require.NoError(t, db.Model(&domain.OutboxMessage{}).Order("created_at ASC").Pluck("kind", &kinds).Error)
	return kinds
}

var errBoom = errors.New("boom")

// recordingLocker records every key set acquired through it
type recordingLocker struct {
	lock.Locker
	mu       sync.Mutex
	acquired [][]string
}

func (r *recordingLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	r.mu.Lock()
	r.acquired = append(r.acquired, lock.NormalizeKeys(keys))
	r.mu.Unlock()
	return r.Locker.Acquire(ctx, keys...)
}

func (r *recordingLocker) calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.acquired...)
}
