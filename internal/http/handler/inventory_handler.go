package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/service"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type InventoryHandler struct {
	inventoryService *service.InventoryService
	maxUploadBytes   int64
	logger           *zap.Logger
}

func NewInventoryHandler(inventoryService *service.InventoryService, maxUploadSizeMB int64, logger *zap.Logger) *InventoryHandler {
	if maxUploadSizeMB <= 0 {
		maxUploadSizeMB = 10
	}
	return &InventoryHandler{
		inventoryService: inventoryService,
		maxUploadBytes:   maxUploadSizeMB << 20,
		logger:           logger,
	}
}

// AddBatch godoc
// @Summary Add an inventory batch
// @Description Records incoming rolls. Loose meters are derived from totalMeters when not given.
// @Tags Inventory
// @Accept json
// @Produce json
// @Param request body domain.AddInventoryBatchRequest true "Batch"
// @Success 201 {object} domain.AddInventoryBatchResult
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /inventory/batches [post]
func (h *InventoryHandler) AddBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.AddInventoryBatchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.inventoryService.AddBatch(r.Context(), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "add inventory batch")
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// List godoc
// @Summary List inventory batches
// @Tags Inventory
// @Produce json
// @Param material query string false "Material name (case-insensitive)"
// @Param color query string false "Color (case-insensitive)"
// @Param inStock query bool false "Only batches with stock left"
// @Success 200 {array} domain.InventoryBatchDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /inventory [get]
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	batches, err := h.inventoryService.ListInventory(r.Context(), repository.InventoryFilter{
		Material:    q.Get("material"),
		Color:       q.Get("color"),
		InStockOnly: queryBool(r, "inStock"),
	})
	if err != nil {
		handleServiceError(w, h.logger, err, "list inventory")
		return
	}
	respondJSON(w, http.StatusOK, batches)
}

// LowStock godoc
// @Summary List low stock batches
// @Tags Inventory
// @Produce json
// @Param threshold query number false "Meters below which a batch is low; defaults to the configured threshold"
// @Success 200 {array} domain.InventoryBatchDTO
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /inventory/low-stock [get]
func (h *InventoryHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	threshold := decimal.Zero
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			respondWithError(w, http.StatusBadRequest, "threshold must be a non-negative number")
			return
		}
		threshold = parsed
	}

	batches, err := h.inventoryService.LowStock(r.Context(), threshold)
	if err != nil {
		handleServiceError(w, h.logger, err, "query low stock")
		return
	}
	if batches == nil {
		batches = []domain.InventoryBatchDTO{}
	}
	respondJSON(w, http.StatusOK, batches)
}

// Alternatives godoc
// @Summary Suggest stock alternatives
// @Description Other colors of the same material first, then the same color in other materials
// @Tags Inventory
// @Produce json
// @Param material query string true "Material name"
// @Param color query string false "Color"
// @Success 200 {array} domain.StockAlternative
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /inventory/alternatives [get]
func (h *InventoryHandler) Alternatives(w http.ResponseWriter, r *http.Request) {
	material := r.URL.Query().Get("material")
	if material == "" {
		respondWithError(w, http.StatusBadRequest, "material is required")
		return
	}

	alts, err := h.inventoryService.Alternatives(r.Context(), material, r.URL.Query().Get("color"))
	if err != nil {
		handleServiceError(w, h.logger, err, "find alternatives")
		return
	}
	if alts == nil {
		alts = []domain.StockAlternative{}
	}
	respondJSON(w, http.StatusOK, alts)
}

// Import godoc
// @Summary Import inventory from a spreadsheet
// @Description Adds one batch per valid row of an xlsx upload. Invalid rows are reported and skipped.
// @Tags Inventory
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "xlsx workbook"
// @Success 200 {object} domain.InventoryImportResult
// @Failure 400 {object} domain.APIError
// @Failure 413 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /inventory/import [post]
func (h *InventoryHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d MB", h.maxUploadBytes>>20))
			return
		}
		respondWithError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	result, err := h.inventoryService.ImportInventory(r.Context(), file)
	if err != nil {
		handleServiceError(w, h.logger, err, "import inventory")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Export godoc
// @Summary Export inventory as a spreadsheet
// @Description Batches with stock left, in the same layout the import accepts
// @Tags Inventory
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} binary
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /inventory/export [get]
func (h *InventoryHandler) Export(w http.ResponseWriter, r *http.Request) {
	// Buffered so a failure still produces a problem response
	var buf bytes.Buffer
	if err := h.inventoryService.ExportInventory(r.Context(), &buf); err != nil {
		handleServiceError(w, h.logger, err, "export inventory")
		return
	}

	filename := "inventory-" + time.Now().UTC().Format("2006-01-02") + ".xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
