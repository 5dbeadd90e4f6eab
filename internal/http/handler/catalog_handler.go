package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/service"
	"go.uber.org/zap"
)

type CatalogHandler struct {
	catalogService *service.CatalogService
	logger         *zap.Logger
}

func NewCatalogHandler(catalogService *service.CatalogService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalogService: catalogService,
		logger:         logger,
	}
}

// pathParam returns a decoded URL parameter. chi matches on the raw path, so
// names such as "Raw Silk" arrive percent-encoded.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// CreateMaterial godoc
// @Summary Add a material to the catalog
// @Description Material names are unique regardless of case
// @Tags Materials
// @Accept json
// @Produce json
// @Param request body domain.CreateMaterialRequest true "Material"
// @Success 201 {object} domain.MaterialDTO
// @Failure 400 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /materials [post]
func (h *CatalogHandler) CreateMaterial(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateMaterialRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	material, err := h.catalogService.CreateMaterial(r.Context(), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "create material")
		return
	}
	respondJSON(w, http.StatusCreated, material)
}

// ListMaterials godoc
// @Summary List catalog materials
// @Tags Materials
// @Produce json
// @Param search query string false "Name contains"
// @Param category query string false "Tax category"
// @Success 200 {array} domain.MaterialDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /materials [get]
func (h *CatalogHandler) ListMaterials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	materials, err := h.catalogService.ListMaterials(r.Context(), q.Get("search"), q.Get("category"))
	if err != nil {
		handleServiceError(w, h.logger, err, "list materials")
		return
	}
	respondJSON(w, http.StatusOK, materials)
}

// GetMaterial godoc
// @Summary Get a material
// @Tags Materials
// @Produce json
// @Param name path string true "Material name"
// @Success 200 {object} domain.MaterialDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /materials/{name} [get]
func (h *CatalogHandler) GetMaterial(w http.ResponseWriter, r *http.Request) {
	material, err := h.catalogService.GetMaterial(r.Context(), pathParam(r, "name"))
	if err != nil {
		handleServiceError(w, h.logger, err, "get material")
		return
	}
	respondJSON(w, http.StatusOK, material)
}

// UpdatePrice godoc
// @Summary Set a material price
// @Description Creates the material when it is not in the catalog yet. Existing orders keep their frozen prices.
// @Tags Materials
// @Accept json
// @Produce json
// @Param name path string true "Material name"
// @Param request body domain.UpdateMaterialPriceRequest true "New price"
// @Success 200 {object} domain.MaterialDTO
// @Success 201 {object} domain.MaterialDTO "Material created"
// @Failure 400 {object} domain.APIError
// @Failure 403 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /materials/{name}/price [put]
func (h *CatalogHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateMaterialPriceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	material, created, err := h.catalogService.UpsertMaterialPrice(r.Context(), pathParam(r, "name"), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "update material price")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, material)
}

// PriceHistory godoc
// @Summary Material price history
// @Description Newest change first
// @Tags Materials
// @Produce json
// @Param name path string true "Material name"
// @Success 200 {array} domain.MaterialPriceChangeDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /materials/{name}/price-history [get]
func (h *CatalogHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.catalogService.PriceHistory(r.Context(), pathParam(r, "name"))
	if err != nil {
		handleServiceError(w, h.logger, err, "get price history")
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// ListTaxRates godoc
// @Summary List GST rates by category
// @Tags Tax
// @Produce json
// @Success 200 {array} domain.TaxRateDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /tax-rates [get]
func (h *CatalogHandler) ListTaxRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.catalogService.ListTaxRates(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err, "list tax rates")
		return
	}
	respondJSON(w, http.StatusOK, rates)
}

// SetTaxRate godoc
// @Summary Set the GST rate of a category
// @Description Applies to invoices issued afterwards
// @Tags Tax
// @Accept json
// @Produce json
// @Param category path string true "Material category"
// @Param request body domain.SetTaxRateRequest true "Rate between 0 and 1"
// @Success 200 {object} domain.TaxRateDTO
// @Failure 400 {object} domain.APIError
// @Failure 403 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /tax-rates/{category} [put]
func (h *CatalogHandler) SetTaxRate(w http.ResponseWriter, r *http.Request) {
	var req domain.SetTaxRateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rate, err := h.catalogService.SetTaxRate(r.Context(), pathParam(r, "category"), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "set tax rate")
		return
	}
	respondJSON(w, http.StatusOK, rate)
}
