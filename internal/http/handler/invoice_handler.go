package handler

import (
	"io"
	"net/http"

	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/service"
	"go.uber.org/zap"
)

type InvoiceHandler struct {
	invoiceService *service.InvoiceService
	logger         *zap.Logger
}

func NewInvoiceHandler(invoiceService *service.InvoiceService, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService: invoiceService,
		logger:         logger,
	}
}

// List godoc
// @Summary List invoices
// @Description Newest first
// @Tags Invoices
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param search query string false "Invoice number contains"
// @Param customerPhone query string false "Customer phone number"
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.InvoiceDTO}
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /invoices [get]
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	filter := repository.InvoiceFilter{
		Search:        r.URL.Query().Get("search"),
		CustomerPhone: r.URL.Query().Get("customerPhone"),
	}

	result, err := h.invoiceService.List(r.Context(), page, pageSize, filter)
	if err != nil {
		handleServiceError(w, h.logger, err, "list invoices")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetByID godoc
// @Summary Get an invoice
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID" format(uuid)
// @Success 200 {object} domain.InvoiceDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	invoice, err := h.invoiceService.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err, "get invoice")
		return
	}
	respondJSON(w, http.StatusOK, invoice)
}

// GetByOrder godoc
// @Summary Get the invoice of an order
// @Tags Invoices
// @Produce json
// @Param id path string true "Order ID" format(uuid)
// @Success 200 {object} domain.InvoiceDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /orders/{id}/invoice [get]
func (h *InvoiceHandler) GetByOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	invoice, err := h.invoiceService.GetByOrder(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err, "get order invoice")
		return
	}
	respondJSON(w, http.StatusOK, invoice)
}

// Download godoc
// @Summary Download an invoice PDF
// @Description Returns 202 while the PDF is being rendered
// @Tags Invoices
// @Produce application/pdf
// @Produce json
// @Param id path string true "Invoice ID" format(uuid)
// @Success 200 {file} binary
// @Success 202 {object} domain.InvoiceDownloadPending
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /invoices/{id}/download [get]
func (h *InvoiceHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	rc, invoice, ready, err := h.invoiceService.Download(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err, "download invoice")
		return
	}
	if !ready {
		w.Header().Set("Retry-After", "5")
		respondJSON(w, http.StatusAccepted, domain.InvoiceDownloadPending{
			Status:        "pending",
			InvoiceID:     invoice.ID,
			InvoiceNumber: invoice.InvoiceNumber,
		})
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+invoice.InvoiceNumber+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream invoice pdf",
			zap.String("invoice_number", invoice.InvoiceNumber),
			zap.Error(err))
	}
}

// Resend godoc
// @Summary Send the invoice to the customer again
// @Description Queues WhatsApp delivery. An invoice without a PDF is rendered first.
// @Tags Invoices
// @Param id path string true "Invoice ID" format(uuid)
// @Success 202
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /invoices/{id}/resend [post]
func (h *InvoiceHandler) Resend(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.invoiceService.Resend(r.Context(), id); err != nil {
		handleServiceError(w, h.logger, err, "resend invoice")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
