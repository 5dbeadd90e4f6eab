package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
)

// Common service errors
var (
	// ErrNotFound is returned when a resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned on duplicates and on lock contention
	ErrConflict = errors.New("resource conflict")

	// ErrInvalidState is returned when an order is not in a state that allows the operation
	ErrInvalidState = errors.New("invalid order state")

	// ErrInsufficientStock is matched by *InsufficientStockError
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrCreditLimitExceeded is returned when the block credit policy rejects an approval
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")

	// ErrInvoiceAlreadyExists is returned when an order already has an invoice
	ErrInvoiceAlreadyExists = errors.New("invoice already exists for order")

	// ErrTimeout is returned when an operation ran past its deadline
	ErrTimeout = errors.New("operation timed out")
)

var (
	ErrOrderNotFound    = fmt.Errorf("order %w", ErrNotFound)
	ErrCustomerNotFound = fmt.Errorf("customer %w", ErrNotFound)
	ErrInvoiceNotFound  = fmt.Errorf("invoice %w", ErrNotFound)
	ErrMaterialNotFound = fmt.Errorf("material %w", ErrNotFound)
)

// ValidationError describes one rejected input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// UnknownMaterialError is returned when an order line names a material missing from the catalog
type UnknownMaterialError struct {
	MaterialName string
}

func (e *UnknownMaterialError) Error() string {
	return fmt.Sprintf("unknown material %q", e.MaterialName)
}

func (e *UnknownMaterialError) Is(target error) bool {
	return target == ErrNotFound || target == ErrMaterialNotFound
}

// InsufficientStockError reports a shortfall for one material and color
type InsufficientStockError struct {
	MaterialName string
	Color        string
	Requested    decimal.Decimal
	Available    decimal.Decimal
	Alternatives []domain.StockAlternative
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): requested %s m, available %s m",
		e.MaterialName, e.Color, e.Requested.String(), e.Available.String())
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
