package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every typed error below unwraps to exactly one of them so
// callers can classify failures with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrExternalSubmission = errors.New("external submission failed")
	ErrIntegrity          = errors.New("integrity check failed")
	ErrFiscalNotReady     = errors.New("fiscal setup incomplete")
)

// ValidationError is raised for malformed or out-of-range input before any I/O.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError covers both "missing" and "owned by another tenant"; the two
// are deliberately indistinguishable.
type NotFoundError struct {
	Entity string
	IDs    []int64
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("%s not found: %s", e.Entity, strings.Join(ids, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ProductsNotFound reports every requested product id absent from the tenant catalog.
func ProductsNotFound(missing []int64) *NotFoundError {
	return &NotFoundError{Entity: "products", IDs: missing}
}

// ConflictError is a request that is well formed but cannot be applied to the
// current state (closed session, non-convertible quote, fiscal setup missing).
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InsufficientStockError is the conflict raised by StockLedger when a delta
// would drive qty_on_hand (or available qty for reservations) below zero.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int64
	Requested   int64
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = fmt.Sprintf("product %d", e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d (short by %d)",
		name, e.Available, e.Requested, e.Shortfall())
}

// Shortfall is how many units are missing to satisfy the request.
func (e *InsufficientStockError) Shortfall() int64 {
	if e.Requested <= e.Available {
		return 0
	}
	return e.Requested - e.Available
}

func (e *InsufficientStockError) Unwrap() error { return ErrConflict }

// FiscalNotReadyError rejects a settlement for a tenant that cannot issue
// fiscal documents yet. Remediation is shown to the user as is.
type FiscalNotReadyError struct {
	TenantID    int64
	Remediation string
}

func (e *FiscalNotReadyError) Error() string {
	return fmt.Sprintf("tenant %d cannot issue invoices: %s", e.TenantID, e.Remediation)
}

func (e *FiscalNotReadyError) Unwrap() []error { return []error{ErrFiscalNotReady, ErrConflict} }

// ExternalSubmissionError is raised when the fiscal authority rejects a
// document or cannot be reached. It is always retryable.
type ExternalSubmissionError struct {
	Rejected bool
	Message  string
	Err      error
}

func (e *ExternalSubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fiscal submission failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("fiscal submission failed: %s", e.Message)
}

func (e *ExternalSubmissionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrExternalSubmission, e.Err}
	}
	return []error{ErrExternalSubmission}
}

// IntegrityError is reported by audit chain verification. It is never
// corrected automatically.
type IntegrityError struct {
	EntryID int64
	Message string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("audit entry %d: %s", e.EntryID, e.Message)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// IsRetriable reports whether the async worker layer should schedule another
// attempt for err. NotFound, validation and conflict errors are permanent.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrValidation) && !errors.Is(err, ErrConflict)
}
