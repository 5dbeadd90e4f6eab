package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/auth"
	"github.com/straye-as/merchant-ledger/internal/database"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SetupTestDB opens a private in-memory sqlite database with the full schema.
// The pool is pinned to one connection so every query sees the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// D parses a decimal literal
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// OwnerContext returns a context authenticated as the shop owner
func OwnerContext() context.Context {
	return auth.WithActor(context.Background(), &auth.Actor{
		ID:          "owner-1",
		DisplayName: "Shop Owner",
		Role:        auth.RoleOwner,
	})
}

// StaffContext returns a context authenticated as a staff member
func StaffContext() context.Context {
	return auth.WithActor(context.Background(), &auth.Actor{
		ID:          "staff-1",
		DisplayName: "Counter Staff",
		Role:        auth.RoleStaff,
	})
}

// CreateMaterial inserts a catalog entry
func CreateMaterial(t *testing.T, db *gorm.DB, name, price, category string) *domain.Material {
	t.Helper()
	m := &domain.Material{MaterialName: name, PricePerMeter: D(price), Category: category}
	require.NoError(t, db.Create(m).Error)
	return m
}

// CreateBatch inserts an inventory batch
func CreateBatch(t *testing.T, db *gorm.DB, material, color string, rolls int, metersPerRoll, loose string) *domain.InventoryBatch {
	t.Helper()
	b := &domain.InventoryBatch{
		MaterialName:         material,
		Color:                color,
		RollsAvailable:       rolls,
		MetersPerRoll:        D(metersPerRoll),
		LooseMetersAvailable: D(loose),
	}
	require.NoError(t, db.Create(b).Error)
	return b
}

// CreateCustomer inserts a customer account with a zero balance
func CreateCustomer(t *testing.T, db *gorm.DB, phone, creditLimit string) *domain.Customer {
	t.Helper()
	c := &domain.Customer{
		PhoneNumber:        phone,
		BusinessName:       "Test Traders",
		CreditLimit:        D(creditLimit),
		OutstandingBalance: decimal.Zero,
		LifetimeValue:      decimal.Zero,
		Status:             domain.CustomerStatusActive,
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

// ReloadCustomer reads the customer row back from the database
func ReloadCustomer(t *testing.T, db *gorm.DB, phone string) *domain.Customer {
	t.Helper()
	var c domain.Customer
	require.NoError(t, db.First(&c, "phone_number = ?", phone).Error)
	return &c
}

// AvailableMeters sums available meters across all batches of a material and color
func AvailableMeters(t *testing.T, db *gorm.DB, material, color string) decimal.Decimal {
	t.Helper()
	var batches []domain.InventoryBatch
	require.NoError(t, db.Where("material_key = ? AND color_key = ?", domain.Key(material), domain.Key(color)).Find(&batches).Error)
	total := decimal.Zero
	for i := range batches {
		total = total.Add(batches[i].AvailableMeters())
	}
	return total
}
