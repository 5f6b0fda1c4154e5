package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition is matched by every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrOutOfStock is matched by every *OutOfStockError.
	ErrOutOfStock = errors.New("out of stock")
	// ErrZoneNotFound is returned when no shipping rate covers the destination for the method.
	ErrZoneNotFound = errors.New("shipping zone not found")
	// ErrExternalService is matched by every *ExternalServiceError.
	ErrExternalService = errors.New("external service error")
	// ErrReconciliationMismatch is returned when the provider's authoritative status disagrees with a claim.
	ErrReconciliationMismatch = errors.New("payment reconciliation mismatch")
	// ErrUnknownReference is returned when no payment carries the provider reference.
	ErrUnknownReference = errors.New("unknown payment reference")
	// ErrInvalidSignature is returned for unsigned or mis-signed webhook payloads.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrValidation is matched by every *ValidationError and CartErrors.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden is returned when the caller may not act on the order.
	ErrForbidden = errors.New("forbidden")
	// ErrPaymentInProgress is returned when a completed provider session has not reached a final status yet.
	ErrPaymentInProgress = errors.New("payment in progress")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed input with per-field detail.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Cart error codes.
const (
	CartErrorInvalidQuantity   = "invalid_quantity"
	CartErrorMissingVariant    = "missing_variant"
	CartErrorVariantNotFound   = "variant_not_found"
	CartErrorVariantDisabled   = "variant_disabled"
	CartErrorInsufficientStock = "insufficient_stock"
	CartErrorEmpty             = "empty_cart"
)

// CartError describes a single rejected cart line.
type CartError struct {
	Index     int    `json:"index"`
	VariantID string `json:"variant_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// CartErrors aggregates every problem found in a cart.
type CartErrors []CartError

func (e CartErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, ce := range e {
		parts = append(parts, fmt.Sprintf("line %d: %s", ce.Index, ce.Message))
	}
	return "invalid cart: " + strings.Join(parts, "; ")
}

func (e CartErrors) Is(target error) bool { return target == ErrValidation }

// OutOfStockError identifies the variant that could not be reserved.
type OutOfStockError struct {
	VariantID string
	Requested int64
	Available int64
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock: variant %s requested %d available %d", e.VariantID, e.Requested, e.Available)
}

func (e *OutOfStockError) Is(target error) bool { return target == ErrOutOfStock }

// InvalidTransitionError is returned for a transition outside the state graph.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ExternalServiceError wraps a failure talking to the payment provider.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }
