package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/straye-as/merchant-ledger/internal/config"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// NewDatabase opens the configured database, retrying the initial ping
func NewDatabase(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, GormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())
	}

	for attempt := 1; ; attempt++ {
		err = sqlDB.Ping()
		if err == nil {
			break
		}
		if attempt == connectAttempts {
			return nil, fmt.Errorf("failed to ping database after %d attempts: %w", attempt, err)
		}
		log.Warn("Database not reachable, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", connectBackoff),
			zap.Error(err),
		)
		time.Sleep(connectBackoff)
	}

	if cfg.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("failed to auto-migrate: %w", err)
		}
		log.Info("Database schema auto-migrated", zap.String("driver", cfg.Driver))
	}

	log.Info("Database connected", zap.String("driver", cfg.Driver))
	return db, nil
}

// GormConfig is shared by the application and tests. TranslateError lets
// unique violations surface as gorm.ErrDuplicatedKey on every driver.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		return postgres.Open(cfg.ConnectionString()), nil
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath + "?_foreign_keys=on&_busy_timeout=5000"), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// HealthCheck pings the database
func HealthCheck(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// HealthCheckWithStats pings the database and returns pool statistics
func HealthCheckWithStats(db *gorm.DB) (sql.DBStats, error) {
	if err := HealthCheck(db); err != nil {
		return sql.DBStats{}, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

// AutoMigrate creates or updates the schema from the models (development and tests)
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Material{},
		&domain.MaterialPriceChange{},
		&domain.TaxRate{},
		&domain.InventoryBatch{},
		&domain.Customer{},
		&domain.Order{},
		&domain.OrderItem{},
		&domain.OrderStatusHistory{},
		&domain.Invoice{},
		&domain.Payment{},
		&domain.LedgerEntry{},
		&domain.Activity{},
		&domain.NumberSequence{},
		&domain.OutboxMessage{},
	)
}
