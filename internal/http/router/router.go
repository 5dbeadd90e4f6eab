package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/straye-as/merchant-ledger/internal/auth"
	"github.com/straye-as/merchant-ledger/internal/config"
	"github.com/straye-as/merchant-ledger/internal/database"
	"github.com/straye-as/merchant-ledger/internal/http/handler"
	"github.com/straye-as/merchant-ledger/internal/http/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "github.com/straye-as/merchant-ledger/docs" // Import generated swagger docs
)

const readinessTimeout = 2 * time.Second

type Router struct {
	cfg              *config.Config
	logger           *zap.Logger
	db               *gorm.DB
	redis            *redis.Client
	authMiddleware   *auth.Middleware
	rateLimiter      *middleware.RateLimiter
	authHandler      *handler.AuthHandler
	orderHandler     *handler.OrderHandler
	inventoryHandler *handler.InventoryHandler
	catalogHandler   *handler.CatalogHandler
	customerHandler  *handler.CustomerHandler
	invoiceHandler   *handler.InvoiceHandler
	analyticsHandler *handler.AnalyticsHandler
}

// NewRouter wires the HTTP surface. redisClient may be nil when Redis is
// disabled; readiness then skips it.
func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	redisClient *redis.Client,
	authMiddleware *auth.Middleware,
	rateLimiter *middleware.RateLimiter,
	authHandler *handler.AuthHandler,
	orderHandler *handler.OrderHandler,
	inventoryHandler *handler.InventoryHandler,
	catalogHandler *handler.CatalogHandler,
	customerHandler *handler.CustomerHandler,
	invoiceHandler *handler.InvoiceHandler,
	analyticsHandler *handler.AnalyticsHandler,
) *Router {
	return &Router{
		cfg:              cfg,
		logger:           logger,
		db:               db,
		redis:            redisClient,
		authMiddleware:   authMiddleware,
		rateLimiter:      rateLimiter,
		authHandler:      authHandler,
		orderHandler:     orderHandler,
		inventoryHandler: inventoryHandler,
		catalogHandler:   catalogHandler,
		customerHandler:  customerHandler,
		invoiceHandler:   invoiceHandler,
		analyticsHandler: analyticsHandler,
	}
}

func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.Logging(rt.logger))
	r.Use(middleware.SecurityHeaders(&rt.cfg.Security))
	r.Use(middleware.CORS(&rt.cfg.CORS, rt.cfg.App.Environment, rt.logger))
	r.Use(rt.rateLimiter.LimitByIP)

	// Health check (basic liveness probe)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/health/db", rt.databaseHealth)
	r.Get("/health/ready", rt.readiness)

	if rt.cfg.Server.EnableSwagger {
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
	}

	ownerOnly := rt.authMiddleware.RequireRole(auth.RoleOwner)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.authMiddleware.Authenticate)
		r.Use(rt.rateLimiter.LimitByActor)
		if timeout := rt.cfg.Server.RequestTimeoutDuration(); timeout > 0 {
			r.Use(chimw.Timeout(timeout))
		}

		r.Get("/auth/me", rt.authHandler.Me)

		// Orders
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", rt.orderHandler.List)
			r.Post("/", rt.orderHandler.Propose)
			r.Get("/pending", rt.orderHandler.ListPending)
			r.Get("/{id}", rt.orderHandler.GetByID)
			r.Get("/{id}/invoice", rt.invoiceHandler.GetByOrder)
			r.With(ownerOnly).Post("/{id}/approve", rt.orderHandler.Approve)
			r.With(ownerOnly).Post("/{id}/reject", rt.orderHandler.Reject)
		})

		// Inventory
		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", rt.inventoryHandler.List)
			r.Post("/batches", rt.inventoryHandler.AddBatch)
			r.Get("/low-stock", rt.inventoryHandler.LowStock)
			r.Get("/alternatives", rt.inventoryHandler.Alternatives)
			r.Post("/import", rt.inventoryHandler.Import)
			r.Get("/export", rt.inventoryHandler.Export)
		})

		// Catalog
		r.Route("/materials", func(r chi.Router) {
			r.Get("/", rt.catalogHandler.ListMaterials)
			r.With(ownerOnly).Post("/", rt.catalogHandler.CreateMaterial)
			r.Get("/{name}", rt.catalogHandler.GetMaterial)
			r.With(ownerOnly).Put("/{name}/price", rt.catalogHandler.UpdatePrice)
			r.Get("/{name}/price-history", rt.catalogHandler.PriceHistory)
		})
		r.Route("/tax-rates", func(r chi.Router) {
			r.Get("/", rt.catalogHandler.ListTaxRates)
			r.With(ownerOnly).Put("/{category}", rt.catalogHandler.SetTaxRate)
		})

		// Customers and payments
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", rt.customerHandler.List)
			r.Post("/", rt.customerHandler.Register)
			r.Get("/{phone}", rt.customerHandler.Get)
			r.Put("/{phone}", rt.customerHandler.Update)
			r.With(ownerOnly).Put("/{phone}/credit-limit", rt.customerHandler.SetCreditLimit)
			r.Get("/{phone}/balance", rt.customerHandler.GetBalance)
			r.Get("/{phone}/statement", rt.customerHandler.GetStatement)
			r.Get("/{phone}/payments", rt.customerHandler.ListPayments)
			r.Post("/{phone}/payments", rt.customerHandler.RecordPayment)
		})

		// Invoices
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", rt.invoiceHandler.List)
			r.Get("/{id}", rt.invoiceHandler.GetByID)
			r.Get("/{id}/download", rt.invoiceHandler.Download)
			r.Post("/{id}/resend", rt.invoiceHandler.Resend)
		})

		// Analytics
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/summary", rt.analyticsHandler.Summary)
			r.Get("/revenue", rt.analyticsHandler.RevenueTrend)
			r.Get("/activity", rt.analyticsHandler.RecentActivity)
		})
		r.Get("/activities", rt.analyticsHandler.ListActivities)
	})

	return r
}

func writeHealth(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// databaseHealth is the readiness probe with connection pool stats
func (rt *Router) databaseHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := database.HealthCheckWithStats(rt.db)
	if err != nil {
		rt.logger.Error("Database health check failed", zap.Error(err))
		writeHealth(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unhealthy",
			"error":   err.Error(),
			"service": "database",
		})
		return
	}

	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "database",
		"stats": map[string]interface{}{
			"max_open_connections": stats.MaxOpenConnections,
			"open_connections":     stats.OpenConnections,
			"in_use":               stats.InUse,
			"idle":                 stats.Idle,
			"wait_count":           stats.WaitCount,
			"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		},
	})
}

// readiness checks every dependency the API needs to serve traffic
func (rt *Router) readiness(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]interface{})
	allHealthy := true

	record := func(name string, err error) {
		if err != nil {
			rt.logger.Error("Health check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
			allHealthy = false
			return
		}
		checks[name] = map[string]interface{}{"status": "healthy"}
	}

	record("database", database.HealthCheck(rt.db))
	if rt.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		record("redis", rt.redis.Ping(ctx).Err())
		cancel()
	}

	status, label := http.StatusOK, "healthy"
	if !allHealthy {
		status, label = http.StatusServiceUnavailable, "unhealthy"
	}
	writeHealth(w, status, map[string]interface{}{"status": label, "checks": checks})
}
