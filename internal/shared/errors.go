package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates a deduction larger than the remaining stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict indicates the concurrent-modification retry budget was exhausted.
	ErrConflict = errors.New("concurrent modification conflict")
	// ErrInvariantViolation indicates a derived value about to be persisted is corrupt.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrStaleWrite is returned by optimistic updates whose version check failed.
	// It is retryable and never surfaces to callers directly.
	ErrStaleWrite = errors.New("stale write")
)

// ValidationError reports rejected input.
type ValidationError struct {
	Field   string
	Message string
}

// Validation builds a ValidationError for field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientStockError carries requested vs available stock units.
type InsufficientStockError struct {
	ProductID int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %s, available %s",
		e.ProductID, e.Requested.String(), e.Available.String())
}

// Shortfall returns how many units are missing.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ConflictError is returned once a bounded retry gives up.
type ConflictError struct {
	Attempts int
	Err      error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("conflict after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("conflict after %d attempts: %v", e.Attempts, e.Err)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Unwrap exposes the last retryable error.
func (e *ConflictError) Unwrap() error { return e.Err }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     any
}

// NotFound builds a NotFoundError.
func NotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvariantViolationError signals a logic defect; the enclosing transaction must abort.
type InvariantViolationError struct {
	Entity string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated on %s: %s", e.Entity, e.Detail)
}

// Is matches ErrInvariantViolation.
func (e *InvariantViolationError) Is(target error) bool { return target == ErrInvariantViolation }
