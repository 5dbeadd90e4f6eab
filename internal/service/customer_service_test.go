package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/service"
	"github.com/straye-as/merchant-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCustomerService_Register(t *testing.T) {
	l := newLedger(t, func(o *service.LedgerOptions) {
		o.DefaultCreditLimit = testutil.D("10000")
	})
	ctx := testutil.StaffContext()

	dto, err := l.customers.Register(ctx, &domain.RegisterCustomerRequest{
		PhoneNumber:  "98765 43210",
		BusinessName: " Gupta Traders ",
	})
	require.NoError(t, err)
	assert.Equal(t, testPhone, dto.PhoneNumber)
	assert.Equal(t, "Gupta Traders", dto.BusinessName)
	assert.True(t, testutil.D("10000").Equal(dto.CreditLimit))
	assert.True(t, dto.OutstandingBalance.IsZero())

	limit := testutil.D("2500")
	other, err := l.customers.Register(ctx, &domain.RegisterCustomerRequest{PhoneNumber: otherTestPhone, CreditLimit: &limit})
	require.NoError(t, err)
	assert.True(t, limit.Equal(other.CreditLimit))

	negative := testutil.D("-1")
	tests := []struct {
		name    string
		req     domain.RegisterCustomerRequest
		wantErr error
	}{
		{name: "already registered", req: domain.RegisterCustomerRequest{PhoneNumber: "+91 98765-43210"}, wantErr: service.ErrConflict},
		{name: "invalid phone", req: domain.RegisterCustomerRequest{PhoneNumber: "12"}, wantErr: service.ErrInvalidInput},
		{name: "negative limit", req: domain.RegisterCustomerRequest{PhoneNumber: ownerTestPhone, CreditLimit: &negative}, wantErr: service.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.customers.Register(ctx, &tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	page, err := l.customers.List(context.Background(), 1, 10, repository.CustomerFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
}

func TestCustomerService_UpdateAndCreditLimit(t *testing.T) {
	l := newLedger(t)
	testutil.CreateCustomer(t, l.db, testPhone, "1000")
	ctx := testutil.OwnerContext()

	name := "Gupta & Sons"
	inactive := domain.CustomerStatusInactive
	dto, err := l.customers.Update(ctx, testPhone, &domain.UpdateCustomerRequest{BusinessName: &name, Status: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "Gupta & Sons", dto.BusinessName)
	assert.Equal(t, domain.CustomerStatusInactive, dto.Status)

	bogus := domain.CustomerStatus("banned")
	_, err = l.customers.Update(ctx, testPhone, &domain.UpdateCustomerRequest{Status: &bogus})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	dto, err = l.customers.SetCreditLimit(ctx, testPhone, &domain.SetCreditLimitRequest{CreditLimit: testutil.D("75000")})
	require.NoError(t, err)
	assert.True(t, testutil.D("75000").Equal(dto.CreditLimit))

	_, err = l.customers.SetCreditLimit(ctx, testPhone, &domain.SetCreditLimitRequest{CreditLimit: testutil.D("-10")})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = l.customers.SetCreditLimit(ctx, otherTestPhone, &domain.SetCreditLimitRequest{CreditLimit: testutil.D("10")})
	assert.ErrorIs(t, err, service.ErrCustomerNotFound)

	reloaded := testutil.ReloadCustomer(t, l.db, testPhone)
	assert.True(t, testutil.D("75000").Equal(reloaded.CreditLimit))
	assert.True(t, reloaded.OutstandingBalance.IsZero())
}

func TestCustomerService_Update_KeepsConcurrentCreditLimit(t *testing.T) {
	l := newLedger(t)
	testutil.CreateCustomer(t, l.db, testPhone, "1000")

	// The owner raises the limit after the profile edit read the customer
	// and before it writes.
	raised := false
	require.NoError(t, l.db.Callback().Update().Before("gorm:update").Register("test:concurrent_credit_limit", func(tx *gorm.DB) {
		if raised || tx.Statement.Table != "customers" {
			return
		}
		raised = true
		require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE customers SET credit_limit = ? WHERE phone_number = ?", testutil.D("50000"), testPhone).Error)
	}))

	name := "Gupta & Sons"
	dto, err := l.customers.Update(testutil.StaffContext(), testPhone, &domain.UpdateCustomerRequest{BusinessName: &name})
	require.NoError(t, err)
	assert.True(t, raised)
	assert.Equal(t, "Gupta & Sons", dto.BusinessName)
	assert.True(t, testutil.D("50000").Equal(dto.CreditLimit), "credit limit = %s", dto.CreditLimit)

	reloaded := testutil.ReloadCustomer(t, l.db, testPhone)
	assert.True(t, testutil.D("50000").Equal(reloaded.CreditLimit))
	assert.Equal(t, domain.CustomerStatusActive, reloaded.Status)
}

func TestCustomerService_Balance(t *testing.T) {
	l := newLedger(t)
	testutil.CreateCustomer(t, l.db, testPhone, "5000")
	setBalance(t, l.db, testPhone, "1200")

	balance, err := l.customers.GetBalance(context.Background(), "9876543210")
	require.NoError(t, err)
	assert.True(t, testutil.D("1200").Equal(balance.OutstandingBalance))
	assert.True(t, testutil.D("3800").Equal(balance.AvailableCredit))

	_, err = l.customers.Get(context.Background(), otherTestPhone)
	assert.ErrorIs(t, err, service.ErrCustomerNotFound)
}

func TestCustomerService_QueueOverdueReminders(t *testing.T) {
	l := newLedger(t)
	testutil.CreateCustomer(t, l.db, testPhone, "5000")
	testutil.CreateCustomer(t, l.db, otherTestPhone, "5000")
	testutil.CreateCustomer(t, l.db, ownerTestPhone, "5000")
	setBalance(t, l.db, testPhone, "800")
	setBalance(t, l.db, ownerTestPhone, "300")

	// a recent payment keeps ownerTestPhone out of the batch
	now := time.Now().UTC().Add(30 * 24 * time.Hour)
	paidAt := now.Add(-time.Hour)
	require.NoError(t, l.db.Model(&domain.Customer{}).
		Where("phone_number = ?", ownerTestPhone).
		Update("last_payment_at", paidAt).Error)

	queued, err := l.customers.QueueOverdueReminders(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	assert.Equal(t, []string{domain.OutboxPaymentReminder}, outboxKinds(t, l.db))

	// already reminded in this window
	queued, err = l.customers.QueueOverdueReminders(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, queued)

	queued, err = l.customers.QueueOverdueReminders(context.Background(), now.Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
}
