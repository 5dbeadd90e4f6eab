package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/service"
	"go.uber.org/zap"
)

const maxJSONBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// Numeric tags (gt, gte, lte) compare decimals through their float value
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondProblem(w http.ResponseWriter, problem domain.APIError) {
	if problem.Title == "" {
		problem.Title = http.StatusText(problem.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// respondWithError sends a problem body typed after the status code
func respondWithError(w http.ResponseWriter, status int, message string) {
	respondProblem(w, domain.APIError{
		Type:   errorTypeFor(status),
		Status: status,
		Detail: message,
	})
}

func errorTypeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return domain.ErrorTypeBadRequest
	case http.StatusUnauthorized:
		return domain.ErrorTypeUnauthorized
	case http.StatusForbidden:
		return domain.ErrorTypeForbidden
	case http.StatusNotFound:
		return domain.ErrorTypeNotFound
	case http.StatusConflict:
		return domain.ErrorTypeConflict
	default:
		return domain.ErrorTypeInternal
	}
}

// respondValidationError reports validator failures field by field
func respondValidationError(w http.ResponseWriter, err error) {
	fields := make(map[string]string)
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fieldPath(fe)] = formatValidationError(fe)
		}
	}
	respondProblem(w, domain.APIError{
		Type:   domain.ErrorTypeValidation,
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
		Detail: "One or more fields failed validation",
		Errors: fields,
	})
}

// fieldPath drops the struct name from the namespace: items[0].quantityMeters
func fieldPath(fe validator.FieldError) string {
	_, path, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return path
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("Must be at most %s characters", fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("Must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("Must be at least %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("Must be greater than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("Must be greater than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("Must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", fe.Param())
	default:
		return domain.GetValidationMessage(fe.Tag())
	}
}

// decodeAndValidate reads a JSON body into dst and validates it. It writes
// the 400 response itself and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			respondWithError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondValidationError(w, err)
		return false
	}
	return true
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// parsePagination reads page and pageSize; services clamp the values
func parsePagination(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	return page, pageSize
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// handleServiceError maps service errors to problem responses. Unknown
// errors are logged and reported as 500.
func handleServiceError(w http.ResponseWriter, logger *zap.Logger, err error, action string) {
	var validation *service.ValidationError
	var shortfall *service.InsufficientStockError
	var unknown *service.UnknownMaterialError

	switch {
	case errors.As(err, &validation):
		respondProblem(w, domain.APIError{
			Type:   domain.ErrorTypeValidation,
			Title:  "Validation Error",
			Status: http.StatusBadRequest,
			Detail: validation.Error(),
			Errors: map[string]string{validation.Field: validation.Message},
		})
	case errors.Is(err, service.ErrInvalidInput):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &shortfall):
		respondProblem(w, domain.APIError{
			Type:   domain.ErrorTypeInsufficientStock,
			Status: http.StatusConflict,
			Detail: shortfall.Error(),
			Extensions: map[string]interface{}{
				"materialName": shortfall.MaterialName,
				"color":        shortfall.Color,
				"requested":    shortfall.Requested,
				"available":    shortfall.Available,
				"alternatives": shortfall.Alternatives,
			},
		})
	case errors.As(err, &unknown):
		respondProblem(w, domain.APIError{
			Type:       domain.ErrorTypeNotFound,
			Status:     http.StatusNotFound,
			Detail:     unknown.Error(),
			Extensions: map[string]interface{}{"materialName": unknown.MaterialName},
		})
	case errors.Is(err, service.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		respondProblem(w, domain.APIError{Type: domain.ErrorTypeInvalidState, Status: http.StatusConflict, Detail: err.Error()})
	case errors.Is(err, service.ErrInvoiceAlreadyExists):
		respondProblem(w, domain.APIError{Type: domain.ErrorTypeInvoiceAlreadyExists, Status: http.StatusConflict, Detail: err.Error()})
	case errors.Is(err, service.ErrCreditLimitExceeded):
		respondProblem(w, domain.APIError{Type: domain.ErrorTypeCreditLimitExceeded, Status: http.StatusUnprocessableEntity, Detail: err.Error()})
	case errors.Is(err, service.ErrConflict):
		respondProblem(w, domain.APIError{Type: domain.ErrorTypeConflict, Status: http.StatusConflict, Detail: err.Error(), Retryable: true})
	case errors.Is(err, service.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		respondProblem(w, domain.APIError{Type: domain.ErrorTypeTimeout, Status: http.StatusGatewayTimeout, Detail: "The operation timed out", Retryable: true})
	default:
		logger.Error("failed to "+action, zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}
