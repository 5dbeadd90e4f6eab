package handler

import (
	"net/http"

	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/service"
	"go.uber.org/zap"
)

type OrderHandler struct {
	orderService *service.OrderService
	logger       *zap.Logger
}

func NewOrderHandler(orderService *service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		logger:       logger,
	}
}

// Propose godoc
// @Summary Propose an order
// @Description Creates an order waiting for owner confirmation. Prices are frozen from the catalog.
// @Description The customer account is created on first order. Inventory is not touched.
// @Tags Orders
// @Accept json
// @Produce json
// @Param request body domain.ProposeOrderRequest true "Order lines and customer"
// @Success 201 {object} domain.ProposeOrderResult
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError "Unknown material"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /orders [post]
func (h *OrderHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req domain.ProposeOrderRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.orderService.Propose(r.Context(), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "propose order")
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+result.Order.ID.String())
	respondJSON(w, http.StatusCreated, result)
}

// Approve godoc
// @Summary Approve an order
// @Description Deducts stock, issues the invoice and raises the customer balance in one transaction.
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID" format(uuid)
// @Success 200 {object} domain.ApproveOrderResult
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError "invalid_state, insufficient_stock or conflict"
// @Failure 422 {object} domain.APIError "credit_limit_exceeded"
// @Failure 504 {object} domain.APIError "timeout"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /orders/{id}/approve [post]
func (h *OrderHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	result, err := h.orderService.Approve(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err, "approve order")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Reject godoc
// @Summary Reject an order
// @Tags Orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID" format(uuid)
// @Param request body domain.RejectOrderRequest false "Reason"
// @Success 200 {object} domain.OrderDTO
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError "invalid_state"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /orders/{id}/reject [post]
func (h *OrderHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req domain.RejectOrderRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	order, err := h.orderService.Reject(r.Context(), id, &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "reject order")
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GetByID godoc
// @Summary Get an order
// @Description Returns the order with its lines, invoice summary and status history
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID" format(uuid)
// @Success 200 {object} domain.OrderDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /orders/{id} [get]
func (h *OrderHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	order, err := h.orderService.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err, "get order")
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// ListPending godoc
// @Summary List orders waiting for approval
// @Description Oldest first
// @Tags Orders
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.OrderDTO}
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /orders/pending [get]
func (h *OrderHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	result, err := h.orderService.ListPending(r.Context(), page, pageSize)
	if err != nil {
		handleServiceError(w, h.logger, err, "list pending orders")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// List godoc
// @Summary List orders
// @Description Newest first, optionally filtered by status and customer
// @Tags Orders
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param status query string false "Order status" Enums(proposed, waiting_owner_confirmation, approved, rejected)
// @Param customerPhone query string false "Customer phone number"
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.OrderDTO}
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /orders [get]
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	filter := repository.OrderFilter{CustomerPhone: r.URL.Query().Get("customerPhone")}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.OrderStatus(raw)
		switch status {
		case domain.OrderStatusProposed, domain.OrderStatusWaiting, domain.OrderStatusApproved, domain.OrderStatusRejected:
			filter.Status = &status
		default:
			respondWithError(w, http.StatusBadRequest, "Unknown order status: "+raw)
			return
		}
	}

	result, err := h.orderService.List(r.Context(), page, pageSize, filter)
	if err != nil {
		handleServiceError(w, h.logger, err, "list orders")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
