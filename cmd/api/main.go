package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/straye-as/merchant-ledger/docs"
	"github.com/straye-as/merchant-ledger/internal/auth"
	"github.com/straye-as/merchant-ledger/internal/config"
	"github.com/straye-as/merchant-ledger/internal/database"
	"github.com/straye-as/merchant-ledger/internal/http/handler"
	"github.com/straye-as/merchant-ledger/internal/http/middleware"
	"github.com/straye-as/merchant-ledger/internal/http/router"
	"github.com/straye-as/merchant-ledger/internal/jobs"
	"github.com/straye-as/merchant-ledger/internal/lock"
	"github.com/straye-as/merchant-ledger/internal/logger"
	"github.com/straye-as/merchant-ledger/internal/notify"
	"github.com/straye-as/merchant-ledger/internal/pdf"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/service"
	"github.com/straye-as/merchant-ledger/internal/storage"
	"go.uber.org/zap"
)

// @title Merchant Ledger API
// @version 1.0
// @description Order approval, inventory, invoicing and customer ledger for a textile merchant

// @contact.name API Support

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-api-key
// @description API Key for system operations
// @Security BearerAuth
// @Security ApiKeyAuth

// Daily jobs only enqueue messages, so they get a fixed budget
const maintenanceJobTimeout = 2 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load basic configuration first (for logging setup)
	basicCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&basicCfg.Logging, &basicCfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting application",
		zap.String("app", basicCfg.App.Name),
		zap.String("env", basicCfg.App.Environment),
		zap.Int("port", basicCfg.App.Port),
	)
	docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", basicCfg.App.Port)

	// In development secrets come from the environment, elsewhere from Azure Key Vault
	cfg, err := config.LoadWithSecrets(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	opts, err := service.NewLedgerOptions(cfg)
	if err != nil {
		return fmt.Errorf("invalid ledger configuration: %w", err)
	}

	db, err := database.NewDatabase(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	fileStorage, err := storage.NewStorage(&cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info("Storage initialized", zap.String("mode", cfg.Storage.Mode))

	// Key locks are shared through Redis when several instances run
	var locker lock.Locker = lock.NewLocal()
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = lock.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = lock.NewRedis(redisClient, cfg.Redis.LockTTLDuration(), log)
		log.Info("Redis key locks enabled", zap.String("address", cfg.Redis.Address))
	} else {
		log.Info("Redis disabled, using in-process key locks")
	}

	notifier, err := notify.NewNotifier(&cfg.Notifications, log)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}

	renderer := pdf.NewRenderer(cfg.PDF.Enabled, cfg.PDF.TimeoutDuration(), log)
	defer renderer.Close()
	business := pdf.Business{
		Name:    cfg.Business.Name,
		Address: cfg.Business.Address,
		Phone:   cfg.Business.Phone,
		GSTIN:   cfg.Business.GSTIN,
	}

	// Initialize repositories
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

	// Initialize services
	catalogService := service.NewCatalogService(materialRepo, taxRateRepo, activityRepo, opts, log, db)
	inventoryService := service.NewInventoryService(inventoryRepo, materialRepo, activityRepo, outboxRepo, locker, opts, log, db)
	customerService := service.NewCustomerService(customerRepo, ledgerEntryRepo, activityRepo, outboxRepo, opts, log, db)
	paymentService := service.NewPaymentService(paymentRepo, customerRepo, ledgerEntryRepo, activityRepo, outboxRepo, locker, opts, log, db)
	invoiceService := service.NewInvoiceService(invoiceRepo, orderRepo, customerRepo, taxRateRepo, sequenceRepo, outboxRepo,
		fileStorage, renderer, business, opts, log, db)
	orderService := service.NewOrderService(orderRepo, historyRepo, materialRepo, customerRepo, ledgerEntryRepo, invoiceRepo,
		activityRepo, outboxRepo, customerService, inventoryService, invoiceService, locker, opts, log, db)
	activityService := service.NewActivityService(activityRepo, log)
	analyticsService := service.NewAnalyticsService(invoiceRepo, paymentRepo, customerRepo, orderRepo, inventoryService, activityService, log)
	dispatcher := service.NewOutboxDispatcher(outboxRepo, invoiceService, notifier, service.NewDispatcherOptions(cfg), log)

	// Initialize middleware
	authMiddleware := auth.NewMiddleware(cfg, log)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)

	rt := router.NewRouter(
		cfg,
		log,
		db,
		redisClient,
		authMiddleware,
		rateLimiter,
		handler.NewAuthHandler(log),
		handler.NewOrderHandler(orderService, log),
		handler.NewInventoryHandler(inventoryService, cfg.Storage.MaxUploadSizeMB, log),
		handler.NewCatalogHandler(catalogService, log),
		handler.NewCustomerHandler(customerService, paymentService, log),
		handler.NewInvoiceHandler(invoiceService, log),
		handler.NewAnalyticsHandler(analyticsService, activityService, log),
	)

	scheduler, err := startScheduler(cfg, log, dispatcher, inventoryService, customerService)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      rt.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		if scheduler != nil {
			<-scheduler.Stop().Done()
			log.Info("Scheduler stopped")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown gracefully", zap.Error(err))
			return err
		}

		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Warn("Error closing redis connection", zap.Error(err))
			}
		}

		log.Info("Server stopped gracefully")
	}

	return nil
}

// startScheduler registers the enabled background jobs. It returns nil when
// every job is disabled.
func startScheduler(
	cfg *config.Config,
	log *zap.Logger,
	dispatcher *service.OutboxDispatcher,
	inventory *service.InventoryService,
	customers *service.CustomerService,
) (*jobs.Scheduler, error) {
	scheduler := jobs.NewScheduler(log)

	if cfg.Outbox.Enabled {
		if err := jobs.RegisterOutboxDispatchJob(scheduler, dispatcher, log, cfg.Outbox.DispatchCron, cfg.Outbox.TimeoutDuration()); err != nil {
			return nil, fmt.Errorf("failed to register outbox dispatch job: %w", err)
		}
	} else {
		log.Warn("Outbox dispatch disabled; invoices, receipts and alerts will not be delivered")
	}

	if cfg.Inventory.LowStockAlertEnabled {
		if err := jobs.RegisterLowStockAlertJob(scheduler, inventory, log, cfg.Inventory.LowStockAlertCron, maintenanceJobTimeout); err != nil {
			return nil, fmt.Errorf("failed to register low stock alert job: %w", err)
		}
	}

	if cfg.Notifications.RemindersOn {
		if err := jobs.RegisterOverdueReminderJob(scheduler, customers, log, cfg.Notifications.ReminderCron, maintenanceJobTimeout); err != nil {
			return nil, fmt.Errorf("failed to register overdue reminder job: %w", err)
		}
	}

	if len(scheduler.JobNames()) == 0 {
		log.Info("No background jobs enabled")
		return nil, nil
	}
	scheduler.Start()
	return scheduler, nil
}
