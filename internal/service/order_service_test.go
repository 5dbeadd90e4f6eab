package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/lock"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/service"
	"github.com/straye-as/merchant-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOrderService_Propose(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)

	t.Run("creates customer and waits for owner", func(t *testing.T) {
		result, err := l.orders.Propose(testutil.StaffContext(), &domain.ProposeOrderRequest{
			CustomerPhone: "98765 43210",
			BusinessName:  "Gupta Traders",
			Items:         []domain.OrderItemRequest{line("cotton", "Red", "30")},
			Source:        domain.OrderSourceVoice,
		})
		require.NoError(t, err)

		order := result.Order
		assert.Equal(t, domain.OrderStatusWaiting, order.Status)
		assert.Equal(t, testPhone, order.CustomerPhone)
		assert.Equal(t, domain.OrderSourceVoice, order.Source)
		assert.True(t, testutil.D("4500").Equal(order.TotalEstimate))
		require.Len(t, order.Items, 1)
		assert.Equal(t, "Cotton", order.Items[0].MaterialName)
		assert.True(t, testutil.D("150").Equal(order.Items[0].PricePerMeter))
		assert.Equal(t, domain.LineStatusPending, order.Items[0].LineStatus)
		assert.Equal(t, "Counter Staff", order.CreatedBy)

		customer := testutil.ReloadCustomer(t, l.db, testPhone)
		assert.Equal(t, "Gupta Traders", customer.BusinessName)
		assert.True(t, customer.OutstandingBalance.IsZero())

		// Proposing never touches stock
		assert.True(t, testutil.D("50").Equal(testutil.AvailableMeters(t, l.db, "Cotton", "Red")))
		assert.Contains(t, outboxKinds(t, l.db), domain.OutboxOrderApprovalAlert)
	})

	t.Run("price is frozen at proposal", func(t *testing.T) {
		order := l.propose(t, testPhone, line("Cotton", "Red", "10"))

		_, _, err := l.catalog.UpsertMaterialPrice(testutil.OwnerContext(), "Cotton", &domain.UpdateMaterialPriceRequest{PricePerMeter: testutil.D("200")})
		require.NoError(t, err)

		approved, err := l.orders.Approve(testutil.OwnerContext(), order.ID)
		require.NoError(t, err)
		assert.True(t, testutil.D("1500").Equal(approved.Invoice.Amount))
	})

	t.Run("missing color defaults to Unknown", func(t *testing.T) {
		order := l.propose(t, testPhone, line("Cotton", "", "1"))
		assert.Equal(t, domain.DefaultColor, order.Items[0].Color)
	})
}

func TestOrderService_Propose_Validation(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)

	tests := []struct {
		name    string
		req     *domain.ProposeOrderRequest
		wantErr error
	}{
		{
			name:    "unknown material",
			req:     &domain.ProposeOrderRequest{CustomerPhone: testPhone, Items: []domain.OrderItemRequest{line("Velvet", "Red", "5")}},
			wantErr: service.ErrNotFound,
		},
		{
			name:    "zero quantity",
			req:     &domain.ProposeOrderRequest{CustomerPhone: testPhone, Items: []domain.OrderItemRequest{line("Cotton", "Red", "0")}},
			wantErr: service.ErrInvalidInput,
		},
		{
			name:    "no items",
			req:     &domain.ProposeOrderRequest{CustomerPhone: testPhone},
			wantErr: service.ErrInvalidInput,
		},
		{
			name:    "bad phone",
			req:     &domain.ProposeOrderRequest{CustomerPhone: "12", Items: []domain.OrderItemRequest{line("Cotton", "Red", "5")}},
			wantErr: service.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.orders.Propose(testutil.StaffContext(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	var count int64
	require.NoError(t, l.db.Model(&domain.Order{}).Count(&count).Error)
	assert.Zero(t, count)

	var unknown *service.UnknownMaterialError
	_, err := l.orders.Propose(testutil.StaffContext(), tests[0].req)
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "Velvet", unknown.MaterialName)
}

func TestOrderService_Propose_CreditFlag(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)
	testutil.CreateCustomer(t, l.db, testPhone, "1000")

	result, err := l.orders.Propose(testutil.StaffContext(), &domain.ProposeOrderRequest{
		CustomerPhone: testPhone,
		Items:         []domain.OrderItemRequest{line("Cotton", "Red", "30")},
	})
	require.NoError(t, err)
	assert.True(t, result.Order.CreditLimitExceeded)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "credit limit exceeded")
}

// 30 m of Cotton at ₹150 against 10 rolls of 5 m
func TestOrderService_Approve_FullScenario(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)

	order := l.propose(t, testPhone, line("Cotton", "Red", "30"))

	result, err := l.orders.Approve(testutil.OwnerContext(), order.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)

	year := time.Now().Year()
	assert.Equal(t, fmt.Sprintf("INV-%d-0001", year), result.Invoice.InvoiceNumber)
	assert.True(t, testutil.D("4500").Equal(result.Invoice.Subtotal))
	assert.True(t, result.Invoice.GSTAmount.IsZero())
	assert.True(t, testutil.D("4500").Equal(result.Invoice.Amount))
	assert.False(t, result.Invoice.PDFGenerated)

	assert.Equal(t, domain.OrderStatusApproved, result.Order.Status)
	assert.Equal(t, "Shop Owner", result.Order.ApprovedBy)
	assert.Equal(t, domain.LineStatusFulfilled, result.Order.Items[0].LineStatus)

	var batch domain.InventoryBatch
	require.NoError(t, l.db.First(&batch, "material_key = ?", "cotton").Error)
	assert.Equal(t, 4, batch.RollsAvailable)
	assert.True(t, batch.LooseMetersAvailable.IsZero())
	assert.True(t, testutil.D("20").Equal(batch.AvailableMeters()))

	customer := testutil.ReloadCustomer(t, l.db, testPhone)
	assert.True(t, testutil.D("4500").Equal(customer.OutstandingBalance))
	assert.True(t, testutil.D("4500").Equal(customer.LifetimeValue))

	statement, err := l.customers.GetStatement(context.Background(), testPhone)
	require.NoError(t, err)
	require.Len(t, statement.Entries, 1)
	assert.Equal(t, domain.LedgerEntryInvoice, statement.Entries[0].EntryType)
	assert.True(t, testutil.D("4500").Equal(statement.Entries[0].BalanceAfter))

	got, err := l.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Invoice)
	assert.Equal(t, result.Invoice.ID, got.Invoice.ID)
	require.Len(t, got.History, 3)
	assert.Equal(t, domain.OrderStatusApproved, got.History[2].ToStatus)

	assert.Contains(t, outboxKinds(t, l.db), domain.OutboxInvoiceRenderPDF)
}

func TestOrderService_Approve_WithGST(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)
	_, err := l.catalog.SetTaxRate(testutil.OwnerContext(), "cotton", &domain.SetTaxRateRequest{Rate: testutil.D("0.05")})
	require.NoError(t, err)

	order := l.propose(t, testPhone, line("Cotton", "Red", "30"))
	result, err := l.orders.Approve(testutil.OwnerContext(), order.ID)
	require.NoError(t, err)

	assert.True(t, testutil.D("225").Equal(result.Invoice.GSTAmount))
	assert.True(t, testutil.D("4725").Equal(result.Invoice.Amount))
	assert.True(t, testutil.D("4725").Equal(testutil.ReloadCustomer(t, l.db, testPhone).OutstandingBalance))
}

func TestOrderService_StateMachine(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)
	ctx := testutil.OwnerContext()

	t.Run("reject then approve", func(t *testing.T) {
		order := l.propose(t, testPhone, line("Cotton", "Red", "5"))

		rejected, err := l.orders.Reject(ctx, order.ID, &domain.RejectOrderRequest{Reason: "price too high"})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusRejected, rejected.Status)
		assert.Equal(t, "price too high", rejected.RejectReason)
		assert.Equal(t, domain.LineStatusCancelled, rejected.Items[0].LineStatus)

		_, err = l.orders.Approve(ctx, order.ID)
		assert.ErrorIs(t, err, service.ErrInvalidState)

		_, err = l.orders.Reject(ctx, order.ID, nil)
		assert.ErrorIs(t, err, service.ErrInvalidState)

		assert.True(t, testutil.D("50").Equal(testutil.AvailableMeters(t, l.db, "Cotton", "Red")))
		assert.True(t, testutil.ReloadCustomer(t, l.db, testPhone).OutstandingBalance.IsZero())
	})

	t.Run("approve twice", func(t *testing.T) {
		order := l.propose(t, testPhone, line("Cotton", "Red", "5"))

		_, err := l.orders.Approve(ctx, order.ID)
		require.NoError(t, err)

		_, err = l.orders.Approve(ctx, order.ID)
		assert.ErrorIs(t, err, service.ErrInvalidState)

		_, err = l.orders.Reject(ctx, order.ID, nil)
		assert.ErrorIs(t, err, service.ErrInvalidState)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := l.orders.Approve(ctx, uuid.New())
		assert.ErrorIs(t, err, service.ErrOrderNotFound)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}

func TestOrderService_Approve_InsufficientStockRollsBack(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)
	testutil.CreateMaterial(t, l.db, "Silk", "400", "silk")
	testutil.CreateBatch(t, l.db, "Silk", "Blue", 2, "10", "0")
	testutil.CreateBatch(t, l.db, "Silk", "Green", 3, "10", "0")

	order := l.propose(t, testPhone, line("Cotton", "Red", "30"), line("Silk", "Blue", "25"))

	_, err := l.orders.Approve(testutil.OwnerContext(), order.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrInsufficientStock)

	var stockErr *service.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "Silk", stockErr.MaterialName)
	assert.True(t, testutil.D("25").Equal(stockErr.Requested))
	assert.True(t, testutil.D("20").Equal(stockErr.Available))
	require.NotEmpty(t, stockErr.Alternatives)
	assert.Equal(t, "Green", stockErr.Alternatives[0].Color)

	// Nothing from the first line survives
	assert.True(t, testutil.D("50").Equal(testutil.AvailableMeters(t, l.db, "Cotton", "Red")))
	assert.True(t, testutil.D("20").Equal(testutil.AvailableMeters(t, l.db, "Silk", "Blue")))
	assert.True(t, testutil.ReloadCustomer(t, l.db, testPhone).OutstandingBalance.IsZero())

	got, err := l.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusWaiting, got.Status)
	assert.Nil(t, got.Invoice)

	var invoices int64
	require.NoError(t, l.db.Model(&domain.Invoice{}).Count(&invoices).Error)
	assert.Zero(t, invoices)

	// The rolled back invoice number is reused
	next := l.propose(t, testPhone, line("Cotton", "Red", "5"))
	result, err := l.orders.Approve(testutil.OwnerContext(), next.ID)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("INV-%d-0001", time.Now().Year()), result.Invoice.InvoiceNumber)
}

func TestOrderService_Approve_ConcurrentAgainstSameStock(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)

	first := l.propose(t, testPhone, line("Cotton", "Red", "30"))
	second := l.propose(t, otherTestPhone, line("Cotton", "Red", "30"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = l.orders.Approve(testutil.OwnerContext(), id)
		}(i, id)
	}
	wg.Wait()

	succeeded, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, service.ErrInsufficientStock):
			short++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, short)
	assert.True(t, testutil.D("20").Equal(testutil.AvailableMeters(t, l.db, "Cotton", "Red")))
}

func TestOrderService_Approve_AcquiresStockAndCustomerKeys(t *testing.T) {
	locker := &recordingLocker{Locker: lock.NewLocal()}
	l := newLedgerWithLocker(t, locker)
	l.seedCotton(t)
	testutil.CreateBatch(t, l.db, "Cotton", "Blue", 2, "5", "0")

	order := l.propose(t, testPhone, line("Cotton", "Red", "5"), line("Cotton", "Blue", "5"))
	_, err := l.orders.Approve(testutil.OwnerContext(), order.ID)
	require.NoError(t, err)

	_, err = l.payments.RecordPayment(context.Background(), testPhone, pay("100"))
	require.NoError(t, err)

	calls := locker.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, lock.NormalizeKeys([]string{
		lock.StockKey(domain.Key("Cotton"), domain.Key("Red")),
		lock.StockKey(domain.Key("Cotton"), domain.Key("Blue")),
		lock.CustomerKey(testPhone),
	}), calls[0])
	assert.Equal(t, []string{lock.CustomerKey(testPhone)}, calls[1])
}

func TestOrderService_Approve_ConcurrentSameOrder(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)
	order := l.propose(t, testPhone, line("Cotton", "Red", "10"))

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.orders.Approve(testutil.OwnerContext(), order.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, service.ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
	assert.True(t, testutil.D("40").Equal(testutil.AvailableMeters(t, l.db, "Cotton", "Red")))
	assert.True(t, testutil.D("1500").Equal(testutil.ReloadCustomer(t, l.db, testPhone).OutstandingBalance))
}

func TestOrderService_Approve_CreditPolicy(t *testing.T) {
	t.Run("warn approves and flags", func(t *testing.T) {
		l := newLedger(t)
		l.seedCotton(t)
		testutil.CreateCustomer(t, l.db, testPhone, "1000")
		order := l.propose(t, testPhone, line("Cotton", "Red", "30"))

		result, err := l.orders.Approve(testutil.OwnerContext(), order.ID)
		require.NoError(t, err)
		assert.True(t, result.Order.CreditLimitExceeded)
		require.Len(t, result.Warnings, 1)
		assert.True(t, testutil.D("4500").Equal(testutil.ReloadCustomer(t, l.db, testPhone).OutstandingBalance))
	})

	t.Run("block fails and rolls back", func(t *testing.T) {
		l := newLedger(t, func(o *service.LedgerOptions) { o.CreditPolicy = service.CreditPolicyBlock })
		l.seedCotton(t)
		testutil.CreateCustomer(t, l.db, testPhone, "1000")
		order := l.propose(t, testPhone, line("Cotton", "Red", "30"))

		_, err := l.orders.Approve(testutil.OwnerContext(), order.ID)
		assert.ErrorIs(t, err, service.ErrCreditLimitExceeded)

		assert.True(t, testutil.D("50").Equal(testutil.AvailableMeters(t, l.db, "Cotton", "Red")))
		assert.True(t, testutil.ReloadCustomer(t, l.db, testPhone).OutstandingBalance.IsZero())
		got, err := l.orders.Get(context.Background(), order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusWaiting, got.Status)
	})
}

func TestOrderService_Approve_Timeout(t *testing.T) {
	l := newLedger(t, func(o *service.LedgerOptions) { o.ApproveTimeout = 50 * time.Millisecond })
	l.seedCotton(t)
	order := l.propose(t, testPhone, line("Cotton", "Red", "10"))

	release, err := l.locker.Acquire(context.Background(), lock.CustomerKey(testPhone))
	require.NoError(t, err)
	defer release()

	_, err = l.orders.Approve(testutil.OwnerContext(), order.ID)
	assert.ErrorIs(t, err, service.ErrTimeout)

	got, err := l.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusWaiting, got.Status)
	assert.True(t, testutil.D("50").Equal(testutil.AvailableMeters(t, l.db, "Cotton", "Red")))
}

func TestOrderService_ListPending(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)

	first := l.propose(t, testPhone, line("Cotton", "Red", "1"))
	second := l.propose(t, testPhone, line("Cotton", "Red", "2"))
	third := l.propose(t, otherTestPhone, line("Cotton", "Red", "3"))
	_, err := l.orders.Reject(testutil.OwnerContext(), second.ID, nil)
	require.NoError(t, err)

	pending, err := l.orders.ListPending(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending.Total)
	orders := pending.Data.([]domain.OrderDTO)
	require.Len(t, orders, 2)
	assert.Equal(t, first.ID, orders[0].ID)
	assert.Equal(t, third.ID, orders[1].ID)

	byCustomer, err := l.orders.List(context.Background(), 1, 10, repository.OrderFilter{CustomerPhone: "9876543210"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), byCustomer.Total)
}

func TestInvoiceService_OneInvoicePerOrder(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)
	order := l.propose(t, testPhone, line("Cotton", "Red", "10"))
	_, err := l.orders.Approve(testutil.OwnerContext(), order.ID)
	require.NoError(t, err)

	err = l.db.Transaction(func(tx *gorm.DB) error {
		var approved domain.Order
		if err := tx.Preload("Items").First(&approved, "id = ?", order.ID).Error; err != nil {
			return err
		}
		_, err := l.invoices.IssueTx(context.Background(), tx, &approved)
		return err
	})
	assert.ErrorIs(t, err, service.ErrInvoiceAlreadyExists)

	var count int64
	require.NoError(t, l.db.Model(&domain.Invoice{}).Where("order_id = ?", order.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
