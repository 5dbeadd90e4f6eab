package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"go.uber.org/zap"
)

const maxTrendDays = 90

// AnalyticsService answers read-only dashboard questions
type AnalyticsService struct {
	invoiceRepo  *repository.InvoiceRepository
	paymentRepo  *repository.PaymentRepository
	customerRepo *repository.CustomerRepository
	orderRepo    *repository.OrderRepository
	inventory    *InventoryService
	activity     *ActivityService
	logger       *zap.Logger
	now          func() time.Time
}

func NewAnalyticsService(
	invoiceRepo *repository.InvoiceRepository,
	paymentRepo *repository.PaymentRepository,
	customerRepo *repository.CustomerRepository,
	orderRepo *repository.OrderRepository,
	inventory *InventoryService,
	activity *ActivityService,
	logger *zap.Logger,
) *AnalyticsService {
	return &AnalyticsService{
		invoiceRepo:  invoiceRepo,
		paymentRepo:  paymentRepo,
		customerRepo: customerRepo,
		orderRepo:    orderRepo,
		inventory:    inventory,
		activity:     activity,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Summary returns today's figures together with the current outstanding and pending totals
func (s *AnalyticsService) Summary(ctx context.Context) (*domain.AnalyticsSummaryDTO, error) {
	start := startOfDay(s.now())
	end := start.AddDate(0, 0, 1)

	invoices, err := s.invoiceRepo.ListIssuedBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get today's invoices: %w", err)
	}
	revenue := decimal.Zero
	for i := range invoices {
		revenue = revenue.Add(invoices[i].Amount)
	}

	payments, err := s.paymentRepo.SumBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get today's payments: %w", err)
	}

	outstanding, err := s.customerRepo.TotalOutstanding(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get outstanding total: %w", err)
	}

	pendingCount, pendingValue, err := s.orderRepo.PendingTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending orders: %w", err)
	}

	lowStock, err := s.inventory.CountLowStockGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count low stock: %w", err)
	}

	return &domain.AnalyticsSummaryDTO{
		RevenueToday:       revenue,
		InvoicesToday:      int64(len(invoices)),
		PaymentsToday:      payments,
		TotalOutstanding:   outstanding,
		PendingOrders:      pendingCount,
		PendingOrdersValue: pendingValue,
		LowStockItems:      lowStock,
	}, nil
}

// RevenueTrend returns invoiced revenue per day for the last days days,
// oldest first. Days without invoices are reported as zero.
func (s *AnalyticsService) RevenueTrend(ctx context.Context, days int) ([]domain.RevenuePointDTO, error) {
	if days < 1 || days > maxTrendDays {
		return nil, invalid("days", fmt.Sprintf("days must be between 1 and %d", maxTrendDays))
	}

	end := startOfDay(s.now()).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	invoices, err := s.invoiceRepo.ListIssuedBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoices: %w", err)
	}

	points := make([]domain.RevenuePointDTO, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		points[i] = domain.RevenuePointDTO{Date: date, Revenue: decimal.Zero}
		index[date] = i
	}
	for i := range invoices {
		date := invoices[i].CreatedAt.UTC().Format("2006-01-02")
		if j, ok := index[date]; ok {
			points[j].Revenue = points[j].Revenue.Add(invoices[i].Amount)
			points[j].Invoices++
		}
	}
	return points, nil
}

// RecentActivity returns the latest feed entries
func (s *AnalyticsService) RecentActivity(ctx context.Context, limit int) ([]domain.ActivityDTO, error) {
	return s.activity.Recent(ctx, limit)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
