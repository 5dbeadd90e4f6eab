package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Material DTOs

type MaterialDTO struct {
	ID            uuid.UUID       `json:"id"`
	MaterialName  string          `json:"materialName"`
	PricePerMeter decimal.Decimal `json:"pricePerMeter"`
	Category      string          `json:"category,omitempty"`
	CreatedAt     string          `json:"createdAt"`
	UpdatedAt     string          `json:"updatedAt"`
}

type CreateMaterialRequest struct {
	MaterialName  string          `json:"materialName" validate:"required,max=200"`
	PricePerMeter decimal.Decimal `json:"pricePerMeter" validate:"gte=0"`
	Category      string          `json:"category,omitempty" validate:"max=100"`
}

type UpdateMaterialPriceRequest struct {
	PricePerMeter decimal.Decimal `json:"pricePerMeter" validate:"gte=0"`
	Category      *string         `json:"category,omitempty" validate:"omitempty,max=100"`
}

type MaterialPriceChangeDTO struct {
	MaterialName string          `json:"materialName"`
	OldPrice     decimal.Decimal `json:"oldPrice"`
	NewPrice     decimal.Decimal `json:"newPrice"`
	ChangedBy    string          `json:"changedBy,omitempty"`
	ChangedAt    string          `json:"changedAt"`
}

type TaxRateDTO struct {
	Category string          `json:"category"`
	Rate     decimal.Decimal `json:"rate"`
}

type SetTaxRateRequest struct {
	Rate decimal.Decimal `json:"rate" validate:"gte=0,lte=1"`
}

// Inventory DTOs

type InventoryBatchDTO struct {
	ID                   uuid.UUID       `json:"id"`
	MaterialName         string          `json:"materialName"`
	Color                string          `json:"color"`
	DyeLot               string          `json:"dyeLot,omitempty"`
	RollsAvailable       int             `json:"rollsAvailable"`
	MetersPerRoll        decimal.Decimal `json:"metersPerRoll"`
	LooseMetersAvailable decimal.Decimal `json:"looseMetersAvailable"`
	AvailableMeters      decimal.Decimal `json:"availableMeters"`
	CreatedAt            string          `json:"createdAt"`
}

type AddInventoryBatchRequest struct {
	MaterialName  string           `json:"materialName" validate:"required,max=200"`
	Color         string           `json:"color,omitempty" validate:"max=100"`
	DyeLot        string           `json:"dyeLot,omitempty" validate:"max=100"`
	Rolls         int              `json:"rolls" validate:"gte=0"`
	MetersPerRoll decimal.Decimal  `json:"metersPerRoll" validate:"gt=0"`
	TotalMeters   *decimal.Decimal `json:"totalMeters,omitempty" validate:"omitempty,gte=0"`
	LooseMeters   *decimal.Decimal `json:"looseMeters,omitempty" validate:"omitempty,gte=0"`
}

type AddInventoryBatchResult struct {
	Batch    InventoryBatchDTO `json:"batch"`
	Warnings []string          `json:"warnings,omitempty"`
}

// StockAlternative is an in-stock suggestion offered on a shortfall
type StockAlternative struct {
	MaterialName    string          `json:"materialName"`
	Color           string          `json:"color"`
	AvailableMeters decimal.Decimal `json:"availableMeters"`
	Reason          string          `json:"reason"`
}

type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type InventoryImportResult struct {
	Imported int              `json:"imported"`
	Warnings []string         `json:"warnings,omitempty"`
	Errors   []ImportRowError `json:"errors,omitempty"`
}

// Customer DTOs

type CustomerDTO struct {
	PhoneNumber        string          `json:"phoneNumber"`
	BusinessName       string          `json:"businessName,omitempty"`
	ContactName        string          `json:"contactName,omitempty"`
	CreditLimit        decimal.Decimal `json:"creditLimit"`
	OutstandingBalance decimal.Decimal `json:"outstandingBalance"`
	LifetimeValue      decimal.Decimal `json:"lifetimeValue"`
	Status             CustomerStatus  `json:"status"`
	LastPaymentAt      *string         `json:"lastPaymentAt,omitempty"`
	CreatedAt          string          `json:"createdAt"`
	UpdatedAt          string          `json:"updatedAt"`
}

type CustomerBalanceDTO struct {
	PhoneNumber        string          `json:"phoneNumber"`
	OutstandingBalance decimal.Decimal `json:"outstandingBalance"`
	CreditLimit        decimal.Decimal `json:"creditLimit"`
	AvailableCredit    decimal.Decimal `json:"availableCredit"`
	LifetimeValue      decimal.Decimal `json:"lifetimeValue"`
}

type RegisterCustomerRequest struct {
	PhoneNumber  string           `json:"phoneNumber" validate:"required,max=30"`
	BusinessName string           `json:"businessName,omitempty" validate:"max=200"`
	ContactName  string           `json:"contactName,omitempty" validate:"max=200"`
	CreditLimit  *decimal.Decimal `json:"creditLimit,omitempty" validate:"omitempty,gte=0"`
}

type UpdateCustomerRequest struct {
	BusinessName *string         `json:"businessName,omitempty" validate:"omitempty,max=200"`
	ContactName  *string         `json:"contactName,omitempty" validate:"omitempty,max=200"`
	Status       *CustomerStatus `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

type SetCreditLimitRequest struct {
	CreditLimit decimal.Decimal `json:"creditLimit" validate:"gte=0"`
}

type LedgerEntryDTO struct {
	ID           uuid.UUID       `json:"id"`
	EntryType    LedgerEntryType `json:"entryType"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	OrderID      *uuid.UUID      `json:"orderId,omitempty"`
	InvoiceID    *uuid.UUID      `json:"invoiceId,omitempty"`
	PaymentID    *uuid.UUID      `json:"paymentId,omitempty"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    string          `json:"createdAt"`
}

type CustomerStatementDTO struct {
	Customer CustomerBalanceDTO `json:"customer"`
	Entries  []LedgerEntryDTO   `json:"entries"`
}

// Payment DTOs

type RecordPaymentRequest struct {
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
	Mode           PaymentMode     `json:"mode" validate:"required,oneof=upi cash bank_transfer cheque"`
	Reference      string          `json:"reference,omitempty" validate:"max=200"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty" validate:"max=100"`
}

type PaymentDTO struct {
	ID            uuid.UUID       `json:"id"`
	CustomerPhone string          `json:"customerPhone"`
	Amount        decimal.Decimal `json:"amount"`
	Mode          PaymentMode     `json:"mode"`
	Reference     string          `json:"reference,omitempty"`
	RecordedBy    string          `json:"recordedBy,omitempty"`
	CreatedAt     string          `json:"createdAt"`
}

type RecordPaymentResult struct {
	Payment    PaymentDTO      `json:"payment"`
	NewBalance decimal.Decimal `json:"newBalance"`
	// Replayed is true when the idempotency key matched an earlier payment
	Replayed bool `json:"replayed"`
}

// Order DTOs

type OrderItemRequest struct {
	MaterialName   string          `json:"materialName" validate:"required,max=200"`
	Color          string          `json:"color,omitempty" validate:"max=100"`
	QuantityMeters decimal.Decimal `json:"quantityMeters" validate:"gt=0"`
}

type ProposeOrderRequest struct {
	CustomerPhone string             `json:"customerPhone" validate:"required,max=30"`
	BusinessName  string             `json:"businessName,omitempty" validate:"max=200"`
	Items         []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	Source        OrderSource        `json:"source,omitempty" validate:"omitempty,oneof=manual voice photo chat"`
	Notes         string             `json:"notes,omitempty" validate:"max=2000"`
}

type RejectOrderRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type OrderItemDTO struct {
	ID             uuid.UUID       `json:"id"`
	Position       int             `json:"position"`
	MaterialName   string          `json:"materialName"`
	Color          string          `json:"color"`
	QuantityMeters decimal.Decimal `json:"quantityMeters"`
	PricePerMeter  decimal.Decimal `json:"pricePerMeter"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
	LineStatus     LineStatus      `json:"lineStatus"`
}

type OrderStatusHistoryDTO struct {
	FromStatus OrderStatus `json:"fromStatus,omitempty"`
	ToStatus   OrderStatus `json:"toStatus"`
	ChangedBy  string      `json:"changedBy,omitempty"`
	Note       string      `json:"note,omitempty"`
	ChangedAt  string      `json:"changedAt"`
}

type InvoiceSummaryDTO struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Amount        decimal.Decimal `json:"amount"`
	PDFGenerated  bool            `json:"pdfGenerated"`
}

type OrderDTO struct {
	ID                  uuid.UUID               `json:"id"`
	CustomerPhone       string                  `json:"customerPhone"`
	Items               []OrderItemDTO          `json:"items"`
	TotalEstimate       decimal.Decimal         `json:"totalEstimate"`
	Status              OrderStatus             `json:"status"`
	CreditLimitExceeded bool                    `json:"creditLimitExceeded"`
	Source              OrderSource             `json:"source"`
	Notes               string                  `json:"notes,omitempty"`
	CreatedBy           string                  `json:"createdBy,omitempty"`
	ApprovedBy          string                  `json:"approvedBy,omitempty"`
	ApprovedAt          *string                 `json:"approvedAt,omitempty"`
	RejectedBy          string                  `json:"rejectedBy,omitempty"`
	RejectedAt          *string                 `json:"rejectedAt,omitempty"`
	RejectReason        string                  `json:"rejectReason,omitempty"`
	Invoice             *InvoiceSummaryDTO      `json:"invoice,omitempty"`
	History             []OrderStatusHistoryDTO `json:"history,omitempty"`
	CreatedAt           string                  `json:"createdAt"`
}

type ProposeOrderResult struct {
	Order    OrderDTO `json:"order"`
	Warnings []string `json:"warnings,omitempty"`
}

type ApproveOrderResult struct {
	Order    OrderDTO   `json:"order"`
	Invoice  InvoiceDTO `json:"invoice"`
	Warnings []string   `json:"warnings,omitempty"`
}

// Invoice DTOs

type InvoiceDTO struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"orderId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	CustomerPhone string          `json:"customerPhone"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	GSTAmount     decimal.Decimal `json:"gstAmount"`
	Amount        decimal.Decimal `json:"amount"`
	PDFGenerated  bool            `json:"pdfGenerated"`
	CreatedAt     string          `json:"createdAt"`
}

// InvoiceDownloadPending is returned while the invoice PDF is still being rendered
type InvoiceDownloadPending struct {
	Status        string    `json:"status"`
	InvoiceID     uuid.UUID `json:"invoiceId"`
	InvoiceNumber string    `json:"invoiceNumber"`
}

// Activity and analytics DTOs

type ActivityDTO struct {
	ID            uuid.UUID       `json:"id"`
	Kind          ActivityKind    `json:"kind"`
	Title         string          `json:"title"`
	Body          string          `json:"body,omitempty"`
	ReferenceID   *uuid.UUID      `json:"referenceId,omitempty"`
	CustomerPhone string          `json:"customerPhone,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	ActorName     string          `json:"actorName,omitempty"`
	OccurredAt    string          `json:"occurredAt"`
}

type AnalyticsSummaryDTO struct {
	RevenueToday       decimal.Decimal `json:"revenueToday"`
	InvoicesToday      int64           `json:"invoicesToday"`
	PaymentsToday      decimal.Decimal `json:"paymentsToday"`
	TotalOutstanding   decimal.Decimal `json:"totalOutstanding"`
	PendingOrders      int64           `json:"pendingOrders"`
	PendingOrdersValue decimal.Decimal `json:"pendingOrdersValue"`
	LowStockItems      int             `json:"lowStockItems"`
}

type RevenuePointDTO struct {
	Date     string          `json:"date"`
	Revenue  decimal.Decimal `json:"revenue"`
	Invoices int64           `json:"invoices"`
}

// Pagination

type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}
