package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/excel"
	"github.com/straye-as/merchant-ledger/internal/lock"
	"github.com/straye-as/merchant-ledger/internal/mapper"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxAlternatives = 3

// InventoryService manages fabric batches. Stock only moves through AddBatch
// and DeductTx; every deduction runs on batch rows locked FOR UPDATE.
type InventoryService struct {
	inventoryRepo *repository.InventoryRepository
	materialRepo  *repository.MaterialRepository
	activityRepo  *repository.ActivityRepository
	outboxRepo    *repository.OutboxRepository
	locker        lock.Locker
	opts          LedgerOptions
	logger        *zap.Logger
	db            *gorm.DB
}

// NewInventoryService creates a new InventoryService instance
func NewInventoryService(
	inventoryRepo *repository.InventoryRepository,
	materialRepo *repository.MaterialRepository,
	activityRepo *repository.ActivityRepository,
	outboxRepo *repository.OutboxRepository,
	locker lock.Locker,
	opts LedgerOptions,
	logger *zap.Logger,
	db *gorm.DB,
) *InventoryService {
	return &InventoryService{
		inventoryRepo: inventoryRepo,
		materialRepo:  materialRepo,
		activityRepo:  activityRepo,
		outboxRepo:    outboxRepo,
		locker:        locker,
		opts:          opts,
		logger:        logger,
		db:            db,
	}
}

// AddBatch records a received batch. Loose meters are taken from the request,
// else derived from total meters, else zero. A material missing from the
// catalog is accepted with a warning.
func (s *InventoryService) AddBatch(ctx context.Context, req *domain.AddInventoryBatchRequest) (*domain.AddInventoryBatchResult, error) {
	batch, err := newBatch(req)
	if err != nil {
		return nil, err
	}

	var warnings []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if material, err := s.materialRepo.GetByName(ctx, tx, batch.MaterialName); err == nil {
			batch.MaterialName = material.MaterialName
		} else if errors.Is(err, gorm.ErrRecordNotFound) {
			warnings = append(warnings, fmt.Sprintf("material %q is not in the catalog; orders for it cannot be priced until it is added", batch.MaterialName))
		} else {
			return fmt.Errorf("failed to look up material: %w", err)
		}

		if err := s.inventoryRepo.Create(ctx, tx, batch); err != nil {
			return fmt.Errorf("failed to create inventory batch: %w", err)
		}

		return recordActivity(ctx, tx, s.activityRepo, activityEntry{
			kind:        domain.ActivityStockAdded,
			title:       "Stock added",
			body:        fmt.Sprintf("%s %s: %d rolls × %sm + %sm loose", batch.MaterialName, batch.Color, batch.RollsAvailable, batch.MetersPerRoll.String(), batch.LooseMetersAvailable.String()),
			referenceID: &batch.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("inventory batch added",
		zap.String("batch_id", batch.ID.String()),
		zap.String("material", batch.MaterialName),
		zap.String("color", batch.Color),
		zap.String("available_meters", batch.AvailableMeters().String()))

	return &domain.AddInventoryBatchResult{
		Batch:    mapper.ToInventoryBatchDTO(batch),
		Warnings: warnings,
	}, nil
}

func newBatch(req *domain.AddInventoryBatchRequest) (*domain.InventoryBatch, error) {
	name := strings.TrimSpace(req.MaterialName)
	if name == "" {
		return nil, invalid("materialName", "material name is required")
	}
	if req.Rolls < 0 {
		return nil, invalid("rolls", "rolls must not be negative")
	}
	if !req.MetersPerRoll.IsPositive() {
		return nil, invalid("metersPerRoll", "meters per roll must be greater than 0")
	}

	rollMeters := req.MetersPerRoll.Mul(decimal.NewFromInt(int64(req.Rolls)))
	loose := decimal.Zero
	if req.TotalMeters != nil {
		if req.TotalMeters.LessThan(rollMeters) {
			return nil, invalid("totalMeters", fmt.Sprintf("total meters %s is less than rolls × meters per roll (%s)", req.TotalMeters.String(), rollMeters.String()))
		}
		loose = req.TotalMeters.Sub(rollMeters)
	}
	if req.LooseMeters != nil {
		if req.LooseMeters.IsNegative() {
			return nil, invalid("looseMeters", "loose meters must not be negative")
		}
		loose = *req.LooseMeters
	}

	color := strings.TrimSpace(req.Color)
	if color == "" {
		color = domain.DefaultColor
	}

	return &domain.InventoryBatch{
		MaterialName:         name,
		Color:                color,
		DyeLot:               strings.TrimSpace(req.DyeLot),
		RollsAvailable:       req.Rolls,
		MetersPerRoll:        req.MetersPerRoll,
		LooseMetersAvailable: loose,
	}, nil
}

// Deduct removes quantity meters of a material and color in its own
// transaction, holding the stock key lock
func (s *InventoryService) Deduct(ctx context.Context, material, color string, quantity decimal.Decimal) error {
	release, err := s.locker.Acquire(ctx, lock.StockKey(domain.Key(material), domain.Key(colorOrDefault(color))))
	if err != nil {
		return lockError(ctx, err)
	}
	defer release()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.DeductTx(ctx, tx, material, color, quantity)
	})
}

// DeductTx removes quantity meters across the FIFO batches of a material and
// color inside tx. A shortfall returns *InsufficientStockError and touches nothing.
// Callers hold the stock key lock.
func (s *InventoryService) DeductTx(ctx context.Context, tx *gorm.DB, material, color string, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return invalid("quantityMeters", "quantity must be greater than 0")
	}
	color = colorOrDefault(color)

	batches, err := s.inventoryRepo.LockBatches(ctx, tx, material, color)
	if err != nil {
		return fmt.Errorf("failed to lock inventory batches: %w", err)
	}

	available := decimal.Zero
	for i := range batches {
		available = available.Add(batches[i].AvailableMeters())
	}
	if available.LessThan(quantity) {
		alternatives, err := s.alternatives(ctx, tx, material, color)
		if err != nil {
			s.logger.Warn("failed to compute stock alternatives", zap.Error(err))
		}
		return &InsufficientStockError{
			MaterialName: material,
			Color:        color,
			Requested:    quantity,
			Available:    available,
			Alternatives: alternatives,
		}
	}

	need := quantity
	for i := range batches {
		if !need.IsPositive() {
			break
		}
		b := &batches[i]
		before := b.AvailableMeters()
		if before.IsZero() {
			continue
		}
		need = takeFromBatch(b, need)
		if err := s.inventoryRepo.UpdateCounters(ctx, tx, b.ID, b.RollsAvailable, b.LooseMetersAvailable); err != nil {
			return fmt.Errorf("failed to update inventory batch: %w", err)
		}
	}
	return nil
}

// takeFromBatch removes up to need meters from b and returns what is still needed.
// Loose meters go first; then whole rolls are opened and the cut remainder
// becomes loose.
func takeFromBatch(b *domain.InventoryBatch, need decimal.Decimal) decimal.Decimal {
	take := decimal.Min(need, b.LooseMetersAvailable)
	b.LooseMetersAvailable = b.LooseMetersAvailable.Sub(take)
	need = need.Sub(take)
	if !need.IsPositive() || b.RollsAvailable == 0 {
		return need
	}

	rolls := need.Div(b.MetersPerRoll).Ceil().IntPart()
	if rolls > int64(b.RollsAvailable) {
		rolls = int64(b.RollsAvailable)
	}
	opened := b.MetersPerRoll.Mul(decimal.NewFromInt(rolls))
	b.RollsAvailable -= int(rolls)
	if opened.GreaterThanOrEqual(need) {
		b.LooseMetersAvailable = b.LooseMetersAvailable.Add(opened.Sub(need))
		return decimal.Zero
	}
	return need.Sub(opened)
}

// Alternatives suggests up to three in-stock substitutes for a material and color
func (s *InventoryService) Alternatives(ctx context.Context, material, color string) ([]domain.StockAlternative, error) {
	return s.alternatives(ctx, nil, material, color)
}

func (s *InventoryService) alternatives(ctx context.Context, tx *gorm.DB, material, color string) ([]domain.StockAlternative, error) {
	batches, err := s.inventoryRepo.ListRelated(ctx, tx, material, color)
	if err != nil {
		return nil, err
	}

	materialKey, colorKey := domain.Key(material), domain.Key(color)
	type group struct {
		alt      domain.StockAlternative
		priority int
	}
	groups := map[string]*group{}
	var order []string
	for i := range batches {
		b := &batches[i]
		if b.MaterialKey == materialKey && b.ColorKey == colorKey {
			continue
		}
		key := b.MaterialKey + "|" + b.ColorKey
		g, ok := groups[key]
		if !ok {
			g = &group{alt: domain.StockAlternative{MaterialName: b.MaterialName, Color: b.Color}}
			if b.MaterialKey == materialKey {
				g.priority = 0
				g.alt.Reason = "same material, different color"
			} else {
				g.priority = 1
				g.alt.Reason = "same color, different material"
			}
			groups[key] = g
			order = append(order, key)
		}
		g.alt.AvailableMeters = g.alt.AvailableMeters.Add(b.AvailableMeters())
	}

	sort.SliceStable(order, func(i, j int) bool {
		gi, gj := groups[order[i]], groups[order[j]]
		if gi.priority != gj.priority {
			return gi.priority < gj.priority
		}
		return gi.alt.AvailableMeters.GreaterThan(gj.alt.AvailableMeters)
	})

	out := make([]domain.StockAlternative, 0, maxAlternatives)
	for _, key := range order {
		if len(out) == maxAlternatives {
			break
		}
		out = append(out, groups[key].alt)
	}
	return out, nil
}

// ListInventory returns batches matching filter
func (s *InventoryService) ListInventory(ctx context.Context, filter repository.InventoryFilter) ([]domain.InventoryBatchDTO, error) {
	batches, err := s.inventoryRepo.ListBatches(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	dtos := make([]domain.InventoryBatchDTO, len(batches))
	for i := range batches {
		dtos[i] = mapper.ToInventoryBatchDTO(&batches[i])
	}
	return dtos, nil
}

// LowStockQuery streams batches with fewer than threshold meters available.
// A zero threshold uses the configured one.
func (s *InventoryService) LowStockQuery(ctx context.Context, threshold decimal.Decimal) iter.Seq2[domain.InventoryBatch, error] {
	if !threshold.IsPositive() {
		threshold = s.opts.LowStockThreshold
	}
	return s.inventoryRepo.StreamLowStock(ctx, threshold)
}

// LowStock collects LowStockQuery into DTOs
func (s *InventoryService) LowStock(ctx context.Context, threshold decimal.Decimal) ([]domain.InventoryBatchDTO, error) {
	var dtos []domain.InventoryBatchDTO
	for batch, err := range s.LowStockQuery(ctx, threshold) {
		if err != nil {
			return nil, fmt.Errorf("failed to query low stock: %w", err)
		}
		dtos = append(dtos, mapper.ToInventoryBatchDTO(&batch))
	}
	return dtos, nil
}

// LowStockAlert is the payload of an inventory.low_stock_alert message
type LowStockAlert struct {
	Threshold decimal.Decimal           `json:"threshold"`
	Items     []domain.StockAlternative `json:"items"`
}

// QueueLowStockAlert enqueues one owner alert listing low (material, color)
// groups. It returns the number of groups, and enqueues nothing when there are none.
func (s *InventoryService) QueueLowStockAlert(ctx context.Context) (int, error) {
	threshold := s.opts.LowStockThreshold

	// Rows are collected before writing because the stream holds a connection.
	var batches []domain.InventoryBatch
	for batch, err := range s.LowStockQuery(ctx, threshold) {
		if err != nil {
			return 0, fmt.Errorf("failed to query low stock: %w", err)
		}
		batches = append(batches, batch)
	}

	items := groupStock(batches)
	if len(items) == 0 {
		return 0, nil
	}
	if _, err := s.outboxRepo.Enqueue(ctx, nil, domain.OutboxLowStockAlert, "inventory", LowStockAlert{Threshold: threshold, Items: items}); err != nil {
		return 0, fmt.Errorf("failed to enqueue low stock alert: %w", err)
	}

	s.logger.Info("low stock alert queued", zap.Int("items", len(items)))
	return len(items), nil
}

// CountLowStockGroups returns the number of (material, color) pairs with a low batch
func (s *InventoryService) CountLowStockGroups(ctx context.Context) (int, error) {
	var batches []domain.InventoryBatch
	for batch, err := range s.LowStockQuery(ctx, decimal.Zero) {
		if err != nil {
			return 0, err
		}
		batches = append(batches, batch)
	}
	return len(groupStock(batches)), nil
}

func groupStock(batches []domain.InventoryBatch) []domain.StockAlternative {
	index := map[string]int{}
	var items []domain.StockAlternative
	for i := range batches {
		b := &batches[i]
		key := b.MaterialKey + "|" + b.ColorKey
		pos, ok := index[key]
		if !ok {
			pos = len(items)
			index[key] = pos
			items = append(items, domain.StockAlternative{MaterialName: b.MaterialName, Color: b.Color, Reason: "low stock"})
		}
		items[pos].AvailableMeters = items[pos].AvailableMeters.Add(b.AvailableMeters())
	}
	return items
}

// ImportInventory adds one batch per valid spreadsheet row. Rows that fail to
// parse or validate are reported and skipped.
func (s *InventoryService) ImportInventory(ctx context.Context, r io.Reader) (*domain.InventoryImportResult, error) {
	rows, rowErrors, err := excel.ParseInventory(r)
	if err != nil {
		return nil, invalid("file", err.Error())
	}

	result := &domain.InventoryImportResult{Errors: rowErrors}
	for _, row := range rows {
		added, err := s.AddBatch(ctx, row.Request())
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				result.Errors = append(result.Errors, domain.ImportRowError{Row: row.Row, Message: verr.Error()})
				continue
			}
			return result, err
		}
		result.Imported++
		for _, w := range added.Warnings {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: %s", row.Row, w))
		}
	}

	s.logger.Info("inventory imported",
		zap.Int("imported", result.Imported),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// ExportInventory writes every batch with stock as an xlsx workbook
func (s *InventoryService) ExportInventory(ctx context.Context, w io.Writer) error {
	batches, err := s.inventoryRepo.ListBatches(ctx, repository.InventoryFilter{InStockOnly: true})
	if err != nil {
		return fmt.Errorf("failed to list inventory: %w", err)
	}
	return excel.WriteInventory(w, batches)
}

func colorOrDefault(color string) string {
	if strings.TrimSpace(color) == "" {
		return domain.DefaultColor
	}
	return strings.TrimSpace(color)
}

// lockError maps a failed key acquisition to a service error
func lockError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: waiting for lock: %v", ErrTimeout, ctx.Err())
	}
	if errors.Is(err, lock.ErrNotObtained) {
		return fmt.Errorf("%w: resource is busy, retry", ErrConflict)
	}
	return fmt.Errorf("failed to acquire lock: %w", err)
}
