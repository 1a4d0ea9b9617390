package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the service unwraps to exactly one of these.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrTransient  = errors.New("transient storage failure")
)

var (
	ErrInvalidDelta      = kindError(ErrValidation, "invalid delta")
	ErrProductNotFound   = kindError(ErrNotFound, "product not found")
	ErrSaleNotFound      = kindError(ErrNotFound, "sale not found")
	ErrInsufficientStock = kindError(ErrConflict, "insufficient stock")
	ErrWouldGoNegative   = kindError(ErrConflict, "stock would go negative")
	ErrInvalidState      = kindError(ErrConflict, "invalid sale state")
	ErrDuplicateCode     = kindError(ErrConflict, "duplicate sale code")
	ErrDuplicateSKU      = kindError(ErrConflict, "duplicate sku")
)

type kindedError struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error {
	return &kindedError{kind: kind, msg: msg}
}

func (e *kindedError) Error() string {
	return e.msg
}

func (e *kindedError) Unwrap() error {
	return e.kind
}

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field string, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// StockError ties a stock failure to the product that caused it.
type StockError struct {
	ProductID int64
	Err       error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: product %d", e.Err.Error(), e.ProductID)
}

func (e *StockError) Unwrap() error {
	return e.Err
}

func ProductNotFound(id int64) error {
	return &StockError{ProductID: id, Err: ErrProductNotFound}
}

func InsufficientStock(id int64) error {
	return &StockError{ProductID: id, Err: ErrInsufficientStock}
}

func WouldGoNegative(id int64) error {
	return &StockError{ProductID: id, Err: ErrWouldGoNegative}
}

// Transient wraps a storage failure that is safe to retry as a whole.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Kind reports the taxonomy bucket of err, or nil for unclassified failures.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrForbidden, ErrTransient} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
