package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/auth"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/mapper"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CatalogService manages materials, their prices and the GST rate table
type CatalogService struct {
	materialRepo *repository.MaterialRepository
	taxRateRepo  *repository.TaxRateRepository
	activityRepo *repository.ActivityRepository
	opts         LedgerOptions
	logger       *zap.Logger
	db           *gorm.DB
}

// NewCatalogService creates a new CatalogService instance
func NewCatalogService(
	materialRepo *repository.MaterialRepository,
	taxRateRepo *repository.TaxRateRepository,
	activityRepo *repository.ActivityRepository,
	opts LedgerOptions,
	logger *zap.Logger,
	db *gorm.DB,
) *CatalogService {
	return &CatalogService{
		materialRepo: materialRepo,
		taxRateRepo:  taxRateRepo,
		activityRepo: activityRepo,
		opts:         opts,
		logger:       logger,
		db:           db,
	}
}

// CreateMaterial adds a catalog entry. Names are unique case-insensitively.
func (s *CatalogService) CreateMaterial(ctx context.Context, req *domain.CreateMaterialRequest) (*domain.MaterialDTO, error) {
	name := strings.TrimSpace(req.MaterialName)
	if name == "" {
		return nil, invalid("materialName", "material name is required")
	}
	if req.PricePerMeter.IsNegative() {
		return nil, invalid("pricePerMeter", "price must not be negative")
	}

	if _, err := s.materialRepo.GetByName(ctx, nil, name); err == nil {
		return nil, fmt.Errorf("%w: material %q already exists", ErrConflict, name)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check material: %w", err)
	}

	material := &domain.Material{
		MaterialName:  name,
		PricePerMeter: req.PricePerMeter,
		Category:      req.Category,
	}
	if err := s.materialRepo.Create(ctx, nil, material); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: material %q already exists", ErrConflict, name)
		}
		return nil, fmt.Errorf("failed to create material: %w", err)
	}

	s.logger.Info("material created",
		zap.String("material", material.MaterialName),
		zap.String("price_per_meter", material.PricePerMeter.String()))

	dto := mapper.ToMaterialDTO(material)
	return &dto, nil
}

// UpsertMaterialPrice sets the catalog price of name, creating the material when
// it does not exist. The returned bool is true when a material was created.
// Prices frozen on existing order lines are not affected.
func (s *CatalogService) UpsertMaterialPrice(ctx context.Context, name string, req *domain.UpdateMaterialPriceRequest) (*domain.MaterialDTO, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, invalid("materialName", "material name is required")
	}
	if req.PricePerMeter.IsNegative() {
		return nil, false, invalid("pricePerMeter", "price must not be negative")
	}

	var material *domain.Material
	created := false
	var oldPrice decimal.Decimal

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.materialRepo.GetByNameForUpdate(ctx, tx, name)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			material = &domain.Material{
				MaterialName:  name,
				PricePerMeter: req.PricePerMeter,
			}
			if req.Category != nil {
				material.Category = *req.Category
			}
			if err := s.materialRepo.Create(ctx, tx, material); err != nil {
				return fmt.Errorf("failed to create material: %w", err)
			}
			created = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load material: %w", err)
		}

		material = existing
		oldPrice = material.PricePerMeter
		priceChanged := !oldPrice.Equal(req.PricePerMeter)
		material.PricePerMeter = req.PricePerMeter
		if req.Category != nil {
			material.Category = *req.Category
		}
		if err := s.materialRepo.Update(ctx, tx, material); err != nil {
			return fmt.Errorf("failed to update material: %w", err)
		}
		if !priceChanged {
			return nil
		}

		change := &domain.MaterialPriceChange{
			MaterialID:   material.ID,
			MaterialName: material.MaterialName,
			OldPrice:     oldPrice,
			NewPrice:     material.PricePerMeter,
			ChangedBy:    auth.ActorName(ctx),
			ChangedAt:    time.Now().UTC(),
		}
		if err := s.materialRepo.CreatePriceChange(ctx, tx, change); err != nil {
			return fmt.Errorf("failed to record price change: %w", err)
		}
		return recordActivity(ctx, tx, s.activityRepo, activityEntry{
			kind:        domain.ActivityPriceChanged,
			title:       "Price updated",
			body:        fmt.Sprintf("%s: ₹%s → ₹%s per meter", material.MaterialName, oldPrice.StringFixed(2), material.PricePerMeter.StringFixed(2)),
			referenceID: &material.ID,
			amount:      material.PricePerMeter,
		})
	})
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("material price set",
		zap.String("material", material.MaterialName),
		zap.String("price_per_meter", material.PricePerMeter.String()),
		zap.Bool("created", created))

	dto := mapper.ToMaterialDTO(material)
	return &dto, created, nil
}

// GetMaterial returns one catalog entry by name
func (s *CatalogService) GetMaterial(ctx context.Context, name string) (*domain.MaterialDTO, error) {
	material, err := s.materialRepo.GetByName(ctx, nil, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMaterialNotFound
		}
		return nil, fmt.Errorf("failed to get material: %w", err)
	}
	dto := mapper.ToMaterialDTO(material)
	return &dto, nil
}

// ListMaterials returns the catalog ordered by name
func (s *CatalogService) ListMaterials(ctx context.Context, search, category string) ([]domain.MaterialDTO, error) {
	materials, err := s.materialRepo.List(ctx, search, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	dtos := make([]domain.MaterialDTO, len(materials))
	for i := range materials {
		dtos[i] = mapper.ToMaterialDTO(&materials[i])
	}
	return dtos, nil
}

// PriceHistory returns the recorded price changes of a material, newest first
func (s *CatalogService) PriceHistory(ctx context.Context, name string) ([]domain.MaterialPriceChangeDTO, error) {
	material, err := s.materialRepo.GetByName(ctx, nil, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMaterialNotFound
		}
		return nil, fmt.Errorf("failed to get material: %w", err)
	}
	changes, err := s.materialRepo.ListPriceChanges(ctx, material.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list price changes: %w", err)
	}
	dtos := make([]domain.MaterialPriceChangeDTO, len(changes))
	for i := range changes {
		dtos[i] = mapper.ToMaterialPriceChangeDTO(&changes[i])
	}
	return dtos, nil
}

// ListTaxRates returns the configured GST rates by category
func (s *CatalogService) ListTaxRates(ctx context.Context) ([]domain.TaxRateDTO, error) {
	rates, err := s.taxRateRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tax rates: %w", err)
	}
	dtos := make([]domain.TaxRateDTO, len(rates))
	for i := range rates {
		dtos[i] = mapper.ToTaxRateDTO(&rates[i])
	}
	return dtos, nil
}

// SetTaxRate creates or replaces the GST rate of a category. The "default"
// category applies to materials whose category has no row.
func (s *CatalogService) SetTaxRate(ctx context.Context, category string, req *domain.SetTaxRateRequest) (*domain.TaxRateDTO, error) {
	category = domain.Key(category)
	if category == "" {
		return nil, invalid("category", "category is required")
	}
	if req.Rate.IsNegative() || req.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, invalid("rate", "rate must be between 0 and 1")
	}

	rate := &domain.TaxRate{Category: category, Rate: req.Rate}
	if err := s.taxRateRepo.Upsert(ctx, rate); err != nil {
		return nil, fmt.Errorf("failed to set tax rate: %w", err)
	}

	s.logger.Info("tax rate set", zap.String("category", category), zap.String("rate", req.Rate.String()))

	dto := mapper.ToTaxRateDTO(rate)
	return &dto, nil
}

// taxRateFor resolves the GST rate of a category: its own row, then the
// default row, then the configured default
func taxRateFor(rates map[string]domain.TaxRate, category string, fallback decimal.Decimal) decimal.Decimal {
	if r, ok := rates[domain.Key(category)]; ok && category != "" {
		return r.Rate
	}
	if r, ok := rates[domain.DefaultTaxCategory]; ok {
		return r.Rate
	}
	return fallback
}
