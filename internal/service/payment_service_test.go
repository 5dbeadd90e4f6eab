package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/service"
	"github.com/straye-as/merchant-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setBalance(t *testing.T, db *gorm.DB, phone, balance string) {
	t.Helper()
	require.NoError(t, db.Model(&domain.Customer{}).
		Where("phone_number = ?", phone).
		Update("outstanding_balance", testutil.D(balance)).Error)
}

func pay(amount string) *domain.RecordPaymentRequest {
	return &domain.RecordPaymentRequest{Amount: testutil.D(amount), Mode: domain.PaymentModeUPI}
}

func TestPaymentService_RecordPayment_Overpayment(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)
	ctx := testutil.StaffContext()

	order := l.propose(t, testPhone, line("Cotton", "Red", "30"))
	_, err := l.orders.Approve(testutil.OwnerContext(), order.ID)
	require.NoError(t, err)

	result, err := l.payments.RecordPayment(ctx, testPhone, pay("4500"))
	require.NoError(t, err)
	assert.True(t, result.NewBalance.IsZero())
	assert.False(t, result.Replayed)
	assert.Equal(t, "Counter Staff", result.Payment.RecordedBy)

	result, err = l.payments.RecordPayment(ctx, testPhone, pay("100"))
	require.NoError(t, err)
	assert.True(t, testutil.D("-100").Equal(result.NewBalance))

	customer := testutil.ReloadCustomer(t, l.db, testPhone)
	assert.True(t, testutil.D("-100").Equal(customer.OutstandingBalance))
	assert.True(t, testutil.D("4500").Equal(customer.LifetimeValue))
	assert.NotNil(t, customer.LastPaymentAt)

	balance, err := l.customers.GetBalance(context.Background(), testPhone)
	require.NoError(t, err)
	assert.True(t, testutil.D("-100").Equal(balance.OutstandingBalance))

	statement, err := l.customers.GetStatement(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Len(t, statement.Entries, 3)

	assert.Contains(t, outboxKinds(t, l.db), domain.OutboxPaymentReceipt)
}

func TestPaymentService_RecordPayment_Commutative(t *testing.T) {
	amounts := []string{"100", "250.50", "49.50", "600"}

	final := func(t *testing.T, order []string, concurrent bool) decimal.Decimal {
		l := newLedger(t)
		testutil.CreateCustomer(t, l.db, testPhone, "5000")
		setBalance(t, l.db, testPhone, "1000")

		if concurrent {
			var wg sync.WaitGroup
			errs := make([]error, len(order))
			for i, a := range order {
				wg.Add(1)
				go func(i int, a string) {
					defer wg.Done()
					_, errs[i] = l.payments.RecordPayment(context.Background(), testPhone, pay(a))
				}(i, a)
			}
			wg.Wait()
			for _, err := range errs {
				require.NoError(t, err)
			}
		} else {
			for _, a := range order {
				_, err := l.payments.RecordPayment(context.Background(), testPhone, pay(a))
				require.NoError(t, err)
			}
		}
		return testutil.ReloadCustomer(t, l.db, testPhone).OutstandingBalance
	}

	forward := final(t, amounts, false)
	reversed := final(t, []string{"600", "49.50", "250.50", "100"}, false)
	parallel := final(t, amounts, true)

	assert.True(t, forward.IsZero(), "got %s", forward)
	assert.True(t, forward.Equal(reversed))
	assert.True(t, forward.Equal(parallel))
}

func TestPaymentService_RecordPayment_Idempotency(t *testing.T) {
	l := newLedger(t)
	testutil.CreateCustomer(t, l.db, testPhone, "5000")
	testutil.CreateCustomer(t, l.db, otherTestPhone, "5000")
	setBalance(t, l.db, testPhone, "1000")

	req := pay("300")
	req.IdempotencyKey = "upi-ref-123"

	first, err := l.payments.RecordPayment(context.Background(), testPhone, req)
	require.NoError(t, err)
	second, err := l.payments.RecordPayment(context.Background(), testPhone, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.True(t, testutil.D("700").Equal(second.NewBalance))
	assert.True(t, testutil.D("700").Equal(testutil.ReloadCustomer(t, l.db, testPhone).OutstandingBalance))

	var payments int64
	require.NoError(t, l.db.Model(&domain.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(1), payments)

	_, err = l.payments.RecordPayment(context.Background(), otherTestPhone, req)
	assert.ErrorIs(t, err, service.ErrConflict)
}

func TestPaymentService_RecordPayment_Validation(t *testing.T) {
	l := newLedger(t)
	testutil.CreateCustomer(t, l.db, testPhone, "5000")

	tests := []struct {
		name    string
		phone   string
		req     *domain.RecordPaymentRequest
		wantErr error
	}{
		{name: "zero amount", phone: testPhone, req: pay("0"), wantErr: service.ErrInvalidInput},
		{name: "negative amount", phone: testPhone, req: pay("-5"), wantErr: service.ErrInvalidInput},
		{name: "unknown mode", phone: testPhone, req: &domain.RecordPaymentRequest{Amount: testutil.D("10"), Mode: "gold"}, wantErr: service.ErrInvalidInput},
		{name: "unknown customer", phone: otherTestPhone, req: pay("10"), wantErr: service.ErrCustomerNotFound},
		{name: "bad phone", phone: "abc", req: pay("10"), wantErr: service.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.payments.RecordPayment(context.Background(), tt.phone, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.True(t, testutil.ReloadCustomer(t, l.db, testPhone).OutstandingBalance.IsZero())
}

func TestPaymentService_ListPayments(t *testing.T) {
	l := newLedger(t)
	testutil.CreateCustomer(t, l.db, testPhone, "5000")

	for _, a := range []string{"10", "20", "30"} {
		_, err := l.payments.RecordPayment(context.Background(), testPhone, pay(a))
		require.NoError(t, err)
	}

	page, err := l.payments.ListPayments(context.Background(), testPhone, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Data.([]domain.PaymentDTO), 2)

	_, err = l.payments.ListPayments(context.Background(), otherTestPhone, 1, 10)
	assert.ErrorIs(t, err, service.ErrCustomerNotFound)
}
