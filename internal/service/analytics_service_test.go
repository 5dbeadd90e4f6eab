package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/straye-as/merchant-ledger/internal/service"
	"github.com/straye-as/merchant-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsService_Summary(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)
	ctx := context.Background()

	approved := l.propose(t, testPhone, line("Cotton", "Red", "30"))
	_, err := l.orders.Approve(testutil.OwnerContext(), approved.ID)
	require.NoError(t, err)
	l.propose(t, otherTestPhone, line("Cotton", "Red", "10"))
	_, err = l.payments.RecordPayment(ctx, testPhone, pay("1000"))
	require.NoError(t, err)

	summary, err := l.analytics.Summary(ctx)
	require.NoError(t, err)
	assert.True(t, testutil.D("4500").Equal(summary.RevenueToday), "revenue = %s", summary.RevenueToday)
	assert.Equal(t, int64(1), summary.InvoicesToday)
	assert.True(t, testutil.D("1000").Equal(summary.PaymentsToday))
	assert.True(t, testutil.D("3500").Equal(summary.TotalOutstanding))
	assert.Equal(t, int64(1), summary.PendingOrders)
	assert.True(t, testutil.D("1500").Equal(summary.PendingOrdersValue))
	assert.Equal(t, 1, summary.LowStockItems)

	recent, err := l.analytics.RecentActivity(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestAnalyticsService_RevenueTrend(t *testing.T) {
	l := newLedger(t)
	l.seedCotton(t)
	ctx := context.Background()

	order := l.propose(t, testPhone, line("Cotton", "Red", "30"))
	_, err := l.orders.Approve(testutil.OwnerContext(), order.ID)
	require.NoError(t, err)

	points, err := l.analytics.RevenueTrend(ctx, 7)
	require.NoError(t, err)
	require.Len(t, points, 7)

	today := time.Now().UTC().Format("2006-01-02")
	last := points[len(points)-1]
	assert.Equal(t, today, last.Date)
	assert.True(t, testutil.D("4500").Equal(last.Revenue))
	assert.Equal(t, int64(1), last.Invoices)
	for _, p := range points[:6] {
		assert.True(t, p.Revenue.IsZero(), "%s has %s", p.Date, p.Revenue)
	}

	for _, days := range []int{0, -3, 91} {
		_, err := l.analytics.RevenueTrend(ctx, days)
		assert.ErrorIs(t, err, service.ErrInvalidInput, "days = %d", days)
	}
}
