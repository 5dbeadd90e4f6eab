package handler

import (
	"net/http"

	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/service"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader is honoured when a payment body carries no key
const IdempotencyKeyHeader = "Idempotency-Key"

type CustomerHandler struct {
	customerService *service.CustomerService
	paymentService  *service.PaymentService
	logger          *zap.Logger
}

func NewCustomerHandler(customerService *service.CustomerService, paymentService *service.PaymentService, logger *zap.Logger) *CustomerHandler {
	return &CustomerHandler{
		customerService: customerService,
		paymentService:  paymentService,
		logger:          logger,
	}
}

// Register godoc
// @Summary Register a customer
// @Description Customers are keyed by their E.164 phone number
// @Tags Customers
// @Accept json
// @Produce json
// @Param request body domain.RegisterCustomerRequest true "Customer"
// @Success 201 {object} domain.CustomerDTO
// @Failure 400 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /customers [post]
func (h *CustomerHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterCustomerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	customer, err := h.customerService.Register(r.Context(), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "register customer")
		return
	}
	respondJSON(w, http.StatusCreated, customer)
}

// List godoc
// @Summary List customers
// @Tags Customers
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param search query string false "Phone or name contains"
// @Param withBalance query bool false "Only customers who owe money"
// @Param status query string false "Customer status" Enums(active, inactive)
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.CustomerDTO}
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /customers [get]
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	filter := repository.CustomerFilter{
		Search:          r.URL.Query().Get("search"),
		WithBalanceOnly: queryBool(r, "withBalance"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.CustomerStatus(raw)
		if status != domain.CustomerStatusActive && status != domain.CustomerStatusInactive {
			respondWithError(w, http.StatusBadRequest, "Unknown customer status: "+raw)
			return
		}
		filter.Status = &status
	}

	result, err := h.customerService.List(r.Context(), page, pageSize, filter)
	if err != nil {
		handleServiceError(w, h.logger, err, "list customers")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Get godoc
// @Summary Get a customer
// @Tags Customers
// @Produce json
// @Param phone path string true "Phone number"
// @Success 200 {object} domain.CustomerDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /customers/{phone} [get]
func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	customer, err := h.customerService.Get(r.Context(), pathParam(r, "phone"))
	if err != nil {
		handleServiceError(w, h.logger, err, "get customer")
		return
	}
	respondJSON(w, http.StatusOK, customer)
}

// Update godoc
// @Summary Update customer details
// @Tags Customers
// @Accept json
// @Produce json
// @Param phone path string true "Phone number"
// @Param request body domain.UpdateCustomerRequest true "Fields to change"
// @Success 200 {object} domain.CustomerDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /customers/{phone} [put]
func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateCustomerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	customer, err := h.customerService.Update(r.Context(), pathParam(r, "phone"), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "update customer")
		return
	}
	respondJSON(w, http.StatusOK, customer)
}

// SetCreditLimit godoc
// @Summary Set a customer's credit limit
// @Tags Customers
// @Accept json
// @Produce json
// @Param phone path string true "Phone number"
// @Param request body domain.SetCreditLimitRequest true "Credit limit"
// @Success 200 {object} domain.CustomerDTO
// @Failure 400 {object} domain.APIError
// @Failure 403 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /customers/{phone}/credit-limit [put]
func (h *CustomerHandler) SetCreditLimit(w http.ResponseWriter, r *http.Request) {
	var req domain.SetCreditLimitRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	customer, err := h.customerService.SetCreditLimit(r.Context(), pathParam(r, "phone"), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "set credit limit")
		return
	}
	respondJSON(w, http.StatusOK, customer)
}

// GetBalance godoc
// @Summary Get a customer's balance
// @Description A negative outstanding balance is an advance held for the customer
// @Tags Customers
// @Produce json
// @Param phone path string true "Phone number"
// @Success 200 {object} domain.CustomerBalanceDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /customers/{phone}/balance [get]
func (h *CustomerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.customerService.GetBalance(r.Context(), pathParam(r, "phone"))
	if err != nil {
		handleServiceError(w, h.logger, err, "get balance")
		return
	}
	respondJSON(w, http.StatusOK, balance)
}

// GetStatement godoc
// @Summary Get a customer's ledger statement
// @Description Every debit and credit in posting order with the running balance
// @Tags Customers
// @Produce json
// @Param phone path string true "Phone number"
// @Success 200 {object} domain.CustomerStatementDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /customers/{phone}/statement [get]
func (h *CustomerHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	statement, err := h.customerService.GetStatement(r.Context(), pathParam(r, "phone"))
	if err != nil {
		handleServiceError(w, h.logger, err, "get statement")
		return
	}
	respondJSON(w, http.StatusOK, statement)
}

// RecordPayment godoc
// @Summary Record a payment
// @Description Lowers the outstanding balance. Overpayment is kept as an advance.
// @Description A repeated idempotency key returns the original payment with status 200.
// @Tags Payments
// @Accept json
// @Produce json
// @Param phone path string true "Phone number"
// @Param Idempotency-Key header string false "Used when the body has no idempotencyKey"
// @Param request body domain.RecordPaymentRequest true "Payment"
// @Success 201 {object} domain.RecordPaymentResult
// @Success 200 {object} domain.RecordPaymentResult "Replayed"
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError "Key used for another customer"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /customers/{phone}/payments [post]
func (h *CustomerHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordPaymentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)
	}

	result, err := h.paymentService.RecordPayment(r.Context(), pathParam(r, "phone"), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "record payment")
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

// ListPayments godoc
// @Summary List a customer's payments
// @Description Newest first
// @Tags Payments
// @Produce json
// @Param phone path string true "Phone number"
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.PaymentDTO}
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /customers/{phone}/payments [get]
func (h *CustomerHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	result, err := h.paymentService.ListPayments(r.Context(), pathParam(r, "phone"), page, pageSize)
	if err != nil {
		handleServiceError(w, h.logger, err, "list payments")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
