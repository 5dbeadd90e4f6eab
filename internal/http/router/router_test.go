package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/straye-as/merchant-ledger/internal/auth"
	"github.com/straye-as/merchant-ledger/internal/config"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/http/handler"
	"github.com/straye-as/merchant-ledger/internal/http/middleware"
	"github.com/straye-as/merchant-ledger/internal/http/router"
	"github.com/straye-as/merchant-ledger/internal/lock"
	"github.com/straye-as/merchant-ledger/internal/pdf"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/service"
	"github.com/straye-as/merchant-ledger/internal/storage"
	"github.com/straye-as/merchant-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const customerPhone = "+919876543210"

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, doc pdf.InvoiceDocument) ([]byte, error) {
	return []byte("%PDF-1.4 " + doc.InvoiceNumber), nil
}

type api struct {
	t       *testing.T
	cfg     *config.Config
	db      *gorm.DB
	handler http.Handler
}

func newAPI(t *testing.T) *api {
	t.Helper()

	cfg := &config.Config{
		App:    config.AppConfig{Name: "merchant-ledger", Environment: "test"},
		Auth:   config.AuthConfig{JWTSecret: "test-secret", Issuer: "merchant-auth"},
		ApiKey: config.ApiKeyConfig{Value: "system-key"},
	}
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	opts := service.DefaultLedgerOptions()
	locker := lock.NewLocal()

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

	catalog := service.NewCatalogService(materialRepo, taxRateRepo, activityRepo, opts, logger, db)
	inventory := service.NewInventoryService(inventoryRepo, materialRepo, activityRepo, outboxRepo, locker, opts, logger, db)
	customers := service.NewCustomerService(customerRepo, ledgerEntryRepo, activityRepo, outboxRepo, opts, logger, db)
	payments := service.NewPaymentService(paymentRepo, customerRepo, ledgerEntryRepo, activityRepo, outboxRepo, locker, opts, logger, db)
	invoices := service.NewInvoiceService(invoiceRepo, orderRepo, customerRepo, taxRateRepo, sequenceRepo, outboxRepo,
		store, stubRenderer{}, pdf.Business{Name: "Sharma Textiles"}, opts, logger, db)
	orders := service.NewOrderService(orderRepo, historyRepo, materialRepo, customerRepo, ledgerEntryRepo, invoiceRepo,
		activityRepo, outboxRepo, customers, inventory, invoices, locker, opts, logger, db)
	activity := service.NewActivityService(activityRepo, logger)
	analytics := service.NewAnalyticsService(invoiceRepo, paymentRepo, customerRepo, orderRepo, inventory, activity, logger)

	rt := router.NewRouter(
		cfg,
		logger,
		db,
		nil,
		auth.NewMiddleware(cfg, logger),
		middleware.NewRateLimiter(&cfg.RateLimit, logger),
		handler.NewAuthHandler(logger),
		handler.NewOrderHandler(orders, logger),
		handler.NewInventoryHandler(inventory, 1, logger),
		handler.NewCatalogHandler(catalog, logger),
		handler.NewCustomerHandler(customers, payments, logger),
		handler.NewInvoiceHandler(invoices, logger),
		handler.NewAnalyticsHandler(analytics, activity, logger),
	)
	return &api{t: t, cfg: cfg, db: db, handler: rt.Setup()}
}

func (a *api) token(role auth.Role) string {
	a.t.Helper()
	token, err := auth.IssueToken(&a.cfg.Auth, string(role)+"-1", "Test "+string(role), role, time.Hour)
	require.NoError(a.t, err)
	return token
}

// do sends a request as role; an empty role sends no credentials
func (a *api) do(role auth.Role, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(role))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func orderBody(meters string) map[string]interface{} {
	return map[string]interface{}{
		"customerPhone": "98765 43210",
		"businessName":  "Gupta Traders",
		"items": []map[string]interface{}{
			{"materialName": "Cotton", "color": "Red", "quantityMeters": meters},
		},
	}
}

func TestHealth(t *testing.T) {
	a := newAPI(t)

	rec := a.do("", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do("", http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.NotContains(t, body["checks"], "redis")

	rec = a.do("", http.MethodGet, "/health/db", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication(t *testing.T) {
	a := newAPI(t)

	tests := []struct {
		name    string
		headers []string
		want    int
	}{
		{name: "no credentials", want: http.StatusUnauthorized},
		{name: "bad bearer", headers: []string{"Authorization", "Bearer nope"}, want: http.StatusUnauthorized},
		{name: "bad api key", headers: []string{"x-api-key", "wrong"}, want: http.StatusUnauthorized},
		{name: "api key", headers: []string{"x-api-key", "system-key"}, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do("", http.MethodGet, "/api/v1/auth/me", nil, tt.headers...)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := a.do(auth.RoleStaff, http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[handler.MeResponse](t, rec)
	assert.Equal(t, auth.RoleStaff, me.Role)
	assert.False(t, me.IsOwner)
}

func TestOrderLifecycle(t *testing.T) {
	a := newAPI(t)
	testutil.CreateMaterial(t, a.db, "Cotton", "150", "cotton")
	testutil.CreateBatch(t, a.db, "Cotton", "Red", 10, "5", "0")

	rec := a.do(auth.RoleStaff, http.MethodPost, "/api/v1/orders", orderBody("30"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	proposed := decode[domain.ProposeOrderResult](t, rec)
	assert.Equal(t, domain.OrderStatusWaiting, proposed.Order.Status)
	assert.Equal(t, customerPhone, proposed.Order.CustomerPhone)
	assert.True(t, testutil.D("4500").Equal(proposed.Order.TotalEstimate))
	assert.Equal(t, "/api/v1/orders/"+proposed.Order.ID.String(), rec.Header().Get("Location"))

	orderPath := "/api/v1/orders/" + proposed.Order.ID.String()

	t.Run("staff cannot approve", func(t *testing.T) {
		rec := a.do(auth.RoleStaff, http.MethodPost, orderPath+"/approve", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("pending list", func(t *testing.T) {
		rec := a.do(auth.RoleStaff, http.MethodGet, "/api/v1/orders/pending", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[map[string]interface{}](t, rec)
		assert.EqualValues(t, 1, page["total"])
	})

	rec = a.do(auth.RoleOwner, http.MethodPost, orderPath+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[domain.ApproveOrderResult](t, rec)
	assert.Equal(t, domain.OrderStatusApproved, approved.Order.Status)
	assert.True(t, testutil.D("4500").Equal(approved.Invoice.Amount))
	assert.True(t, testutil.D("20").Equal(testutil.AvailableMeters(t, a.db, "Cotton", "Red")))

	t.Run("approve twice", func(t *testing.T) {
		rec := a.do(auth.RoleOwner, http.MethodPost, orderPath+"/approve", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		problem := decode[domain.APIError](t, rec)
		assert.Equal(t, domain.ErrorTypeInvalidState, problem.Type)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})

	t.Run("reject after approve", func(t *testing.T) {
		rec := a.do(auth.RoleOwner, http.MethodPost, orderPath+"/reject", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("order invoice", func(t *testing.T) {
		rec := a.do(auth.RoleStaff, http.MethodGet, orderPath+"/invoice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		invoice := decode[domain.InvoiceDTO](t, rec)
		assert.Equal(t, approved.Invoice.InvoiceNumber, invoice.InvoiceNumber)
	})

	t.Run("download before render", func(t *testing.T) {
		rec := a.do(auth.RoleStaff, http.MethodGet, "/api/v1/invoices/"+approved.Invoice.ID.String()+"/download", nil)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		pending := decode[domain.InvoiceDownloadPending](t, rec)
		assert.Equal(t, approved.Invoice.InvoiceNumber, pending.InvoiceNumber)
		assert.Equal(t, "pending", pending.Status)
	})

	t.Run("resend", func(t *testing.T) {
		rec := a.do(auth.RoleStaff, http.MethodPost, "/api/v1/invoices/"+approved.Invoice.ID.String()+"/resend", nil)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("balance", func(t *testing.T) {
		rec := a.do(auth.RoleStaff, http.MethodGet, "/api/v1/customers/"+customerPhone+"/balance", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		balance := decode[domain.CustomerBalanceDTO](t, rec)
		assert.True(t, testutil.D("4500").Equal(balance.OutstandingBalance))
	})
}

func TestOrderErrors(t *testing.T) {
	a := newAPI(t)
	testutil.CreateMaterial(t, a.db, "Cotton", "150", "cotton")
	testutil.CreateBatch(t, a.db, "Cotton", "Red", 2, "5", "0")
	testutil.CreateBatch(t, a.db, "Cotton", "Blue", 4, "5", "0")

	t.Run("validation", func(t *testing.T) {
		body := orderBody("0")
		rec := a.do(auth.RoleStaff, http.MethodPost, "/api/v1/orders", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		problem := decode[domain.APIError](t, rec)
		assert.Equal(t, domain.ErrorTypeValidation, problem.Type)
		assert.Contains(t, problem.Errors, "items[0].quantityMeters")
	})

	t.Run("empty body", func(t *testing.T) {
		rec := a.do(auth.RoleStaff, http.MethodPost, "/api/v1/orders", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown material", func(t *testing.T) {
		body := orderBody("5")
		body["items"] = []map[string]interface{}{{"materialName": "Velvet", "quantityMeters": "5"}}
		rec := a.do(auth.RoleStaff, http.MethodPost, "/api/v1/orders", body)
		require.Equal(t, http.StatusNotFound, rec.Code)
		problem := decode[domain.APIError](t, rec)
		assert.Equal(t, "Velvet", problem.Extensions["materialName"])
	})

	t.Run("insufficient stock", func(t *testing.T) {
		rec := a.do(auth.RoleStaff, http.MethodPost, "/api/v1/orders", orderBody("12"))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		order := decode[domain.ProposeOrderResult](t, rec).Order

		rec = a.do(auth.RoleOwner, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/approve", nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		problem := decode[domain.APIError](t, rec)
		assert.Equal(t, domain.ErrorTypeInsufficientStock, problem.Type)
		assert.NotEmpty(t, problem.Extensions["alternatives"])
		assert.True(t, testutil.D("10").Equal(testutil.AvailableMeters(t, a.db, "Cotton", "Red")))

		rec = a.do(auth.RoleOwner, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/reject",
			map[string]string{"reason": "out of red"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, domain.OrderStatusRejected, decode[domain.OrderDTO](t, rec).Status)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := a.do(auth.RoleStaff, http.MethodGet, "/api/v1/orders/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing order", func(t *testing.T) {
		rec := a.do(auth.RoleStaff, http.MethodGet, "/api/v1/orders/00000000-0000-0000-0000-000000000001", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("status filter", func(t *testing.T) {
		rec := a.do(auth.RoleStaff, http.MethodGet, "/api/v1/orders?status=shipped", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/orders?status=rejected", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, decode[map[string]interface{}](t, rec)["total"])
	})
}

func TestPayments(t *testing.T) {
	a := newAPI(t)
	testutil.CreateCustomer(t, a.db, customerPhone, "5000")
	path := "/api/v1/customers/" + customerPhone + "/payments"
	body := map[string]interface{}{"amount": "250", "mode": "upi"}

	rec := a.do(auth.RoleStaff, http.MethodPost, path, body, "Idempotency-Key", "upi-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[domain.RecordPaymentResult](t, rec)
	assert.True(t, testutil.D("-250").Equal(first.NewBalance))

	rec = a.do(auth.RoleStaff, http.MethodPost, path, body, "Idempotency-Key", "upi-1")
	require.Equal(t, http.StatusOK, rec.Code)
	replayed := decode[domain.RecordPaymentResult](t, rec)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, first.Payment.ID, replayed.Payment.ID)

	rec = a.do(auth.RoleStaff, http.MethodPost, path, map[string]interface{}{"amount": "10", "mode": "gold"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(auth.RoleStaff, http.MethodPost, "/api/v1/customers/+919812345678/payments", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(auth.RoleStaff, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, rec)["total"])

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/customers/"+customerPhone+"/statement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[domain.CustomerStatementDTO](t, rec).Entries, 1)
}

func TestCustomers(t *testing.T) {
	a := newAPI(t)

	rec := a.do(auth.RoleStaff, http.MethodPost, "/api/v1/customers", map[string]interface{}{
		"phoneNumber": "98765 43210", "businessName": "Gupta Traders",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(auth.RoleStaff, http.MethodPost, "/api/v1/customers", map[string]interface{}{"phoneNumber": "+91 98765 43210"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	path := "/api/v1/customers/" + customerPhone
	rec = a.do(auth.RoleStaff, http.MethodPut, path+"/credit-limit", map[string]interface{}{"creditLimit": "75000"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(auth.RoleOwner, http.MethodPut, path+"/credit-limit", map[string]interface{}{"creditLimit": "75000"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, testutil.D("75000").Equal(decode[domain.CustomerDTO](t, rec).CreditLimit))

	rec = a.do(auth.RoleStaff, http.MethodPut, path, map[string]interface{}{"status": "inactive"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CustomerStatusInactive, decode[domain.CustomerDTO](t, rec).Status)

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/customers?status=inactive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, rec)["total"])

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/customers?status=vip", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalog(t *testing.T) {
	a := newAPI(t)

	rec := a.do(auth.RoleStaff, http.MethodPut, "/api/v1/materials/Raw%20Silk/price", map[string]interface{}{"pricePerMeter": "400"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(auth.RoleOwner, http.MethodPut, "/api/v1/materials/Raw%20Silk/price", map[string]interface{}{"pricePerMeter": "400"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Raw Silk", decode[domain.MaterialDTO](t, rec).MaterialName)

	rec = a.do(auth.RoleOwner, http.MethodPut, "/api/v1/materials/raw%20silk/price", map[string]interface{}{"pricePerMeter": "450"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/materials/Raw%20Silk/price-history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.MaterialPriceChangeDTO](t, rec), 1)

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/materials/Velvet", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(auth.RoleOwner, http.MethodPut, "/api/v1/tax-rates/silk", map[string]interface{}{"rate": "1.5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(auth.RoleOwner, http.MethodPut, "/api/v1/tax-rates/silk", map[string]interface{}{"rate": "0.05"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/tax-rates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.TaxRateDTO](t, rec), 1)
}

func TestInventory(t *testing.T) {
	a := newAPI(t)

	rec := a.do(auth.RoleStaff, http.MethodPost, "/api/v1/inventory/batches", map[string]interface{}{
		"materialName": "Cotton", "color": "Red", "rolls": 10, "metersPerRoll": "5", "totalMeters": "53",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/inventory?material=cotton&inStock=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	batches := decode[[]domain.InventoryBatchDTO](t, rec)
	require.Len(t, batches, 1)
	assert.True(t, testutil.D("53").Equal(batches[0].AvailableMeters))

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/inventory/low-stock?threshold=60", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.InventoryBatchDTO](t, rec), 1)

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/inventory/low-stock?threshold=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/inventory/alternatives", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/inventory/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/vnd.openxmlformats"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotZero(t, rec.Body.Len())
}

func TestAnalytics(t *testing.T) {
	a := newAPI(t)

	rec := a.do(auth.RoleStaff, http.MethodGet, "/api/v1/analytics/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/analytics/revenue?days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.RevenuePointDTO](t, rec), 7)

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/analytics/revenue?days=365", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/activities?kind=unknown", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(auth.RoleStaff, http.MethodGet, "/api/v1/activities?kind=payment_received", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
