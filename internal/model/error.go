package model

import (
	"errors"
	"fmt"
)

// ErrorResponse represents a standardised error response.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Standard error codes for API responses
const (
	ErrCodeInvalidJSON        = "INVALID_JSON"
	ErrCodeMissingField       = "MISSING_FIELD"
	ErrCodeInvalidQuantity    = "INVALID_QUANTITY"
	ErrCodeInvalidStatus      = "INVALID_STATUS"
	ErrCodeInvalidPagination  = "INVALID_PAGINATION"
	ErrCodeProductNotFound    = "PRODUCT_NOT_FOUND"
	ErrCodeOrderNotFound      = "ORDER_NOT_FOUND"
	ErrCodeCatalogUnavailable = "CATALOG_UNAVAILABLE"
	ErrCodePaymentUnavailable = "PAYMENT_UNAVAILABLE"
	ErrCodeRequestAbandoned   = "REQUEST_ABANDONED"
	ErrCodeStorageFailure     = "STORAGE_FAILURE"
	ErrCodeUnknownOrderPaid   = "UNKNOWN_ORDER_PAID"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeUnauthorised       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// ErrorKind classifies a failure so callers can map it without inspecting messages.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindNotFound
	KindDependency
	KindStorage
	KindIntegrity
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindDependency:
		return "dependency"
	case KindStorage:
		return "storage"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// DomainError is a classified business error.
type DomainError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(kind ErrorKind, code, message string, err error) *DomainError {
	return &DomainError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewValidationError reports malformed input the caller must correct.
func NewValidationError(code, message string) *DomainError {
	return NewDomainError(KindValidation, code, message, nil)
}

// NewNotFoundError reports an unknown order.
func NewNotFoundError(message string) *DomainError {
	return NewDomainError(KindNotFound, ErrCodeOrderNotFound, message, nil)
}

// NewDependencyError reports a failed call to the catalog or payment service.
func NewDependencyError(code, message string, err error) *DomainError {
	return NewDomainError(KindDependency, code, message, err)
}

// NewStorageError reports a persistence failure.
func NewStorageError(message string, err error) *DomainError {
	return NewDomainError(KindStorage, ErrCodeStorageFailure, message, err)
}

// NewIntegrityError reports cross-service inconsistency.
func NewIntegrityError(code, message string) *DomainError {
	return NewDomainError(KindIntegrity, code, message, nil)
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a DomainError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Common domain errors
var (
	ErrEmptyOrder       = NewValidationError(ErrCodeMissingField, "Order must contain at least one item")
	ErrInvalidQuantity  = NewValidationError(ErrCodeInvalidQuantity, "Quantity must be greater than zero")
	ErrMissingProductID = NewValidationError(ErrCodeMissingField, "Product ID is required")
)
