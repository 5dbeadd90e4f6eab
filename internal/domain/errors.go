package domain

// APIError is an RFC 7807 problem body
type APIError struct {
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Status    int               `json:"status"`
	Detail    string            `json:"detail,omitempty"`
	Retryable bool              `json:"retryable"`
	Errors    map[string]string `json:"errors,omitempty"`
	// Extensions carries error-specific members such as stock alternatives
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

// ValidationMessages maps validator tags to user-facing messages
var ValidationMessages = map[string]string{
	"required": "This field is required",
	"max":      "Exceeds maximum length",
	"min":      "Below minimum length",
	"gte":      "Must be greater than or equal to minimum value",
	"gt":       "Must be greater than minimum value",
	"lte":      "Must be less than or equal to maximum value",
	"uuid":     "Must be a valid UUID",
	"oneof":    "Must be one of the allowed values",
	"numeric":  "Must be a numeric value",
	"dive":     "Contains an invalid item",
}

// GetValidationMessage returns a human-readable message for a validation tag
func GetValidationMessage(tag string) string {
	if msg, ok := ValidationMessages[tag]; ok {
		return msg
	}
	return "Validation failed: " + tag
}

// Problem types
const (
	ErrorTypeValidation           = "validation_error"
	ErrorTypeNotFound             = "not_found"
	ErrorTypeBadRequest           = "bad_request"
	ErrorTypeConflict             = "conflict"
	ErrorTypeUnauthorized         = "unauthorized"
	ErrorTypeForbidden            = "forbidden"
	ErrorTypeInternal             = "internal_error"
	ErrorTypeInvalidState         = "invalid_state"
	ErrorTypeInsufficientStock    = "insufficient_stock"
	ErrorTypeCreditLimitExceeded  = "credit_limit_exceeded"
	ErrorTypeInvoiceAlreadyExists = "invoice_already_exists"
	ErrorTypeTimeout              = "timeout"
)
