/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Not-found errors - missing referenced records
  2. Conflict errors  - uniqueness violations (debt month, phone)
  3. Validation errors - malformed input, rejected before any mutation
  4. Transaction errors - failures inside an atomic sequence

USAGE:
  Callers match with errors.Is / errors.As:

    if errors.Is(err, ledger.ErrDebtExists) {
        // skip-and-log, not fatal
    }
*/
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrStudentNotFound = errors.New("student not found")
	ErrTeacherNotFound = errors.New("teacher not found")
	ErrGroupNotFound   = errors.New("group not found")
	ErrDebtNotFound    = errors.New("debt not found")
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDebtExists is returned when a debt already exists for the
	// (student, group, month) triple. Expected during generator re-runs.
	ErrDebtExists = errors.New("debt already exists for this month")

	// ErrPhoneTaken is returned when a student phone is already registered.
	ErrPhoneTaken = errors.New("phone number already registered")

	// ErrInsufficientBalance is returned when a withdraw would overdraw.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError is a set of per-field input problems, collected before
// any mutation happens.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func (e *ValidationError) Add(field, msg string) {
	e.Fields[field] = msg
}

// Err returns the error, or nil when no field failed.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// TransactionError wraps a failure inside an atomic sequence. The whole
// operation has been rolled back when a caller sees one.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: transaction failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// IsConflict reports whether the error is a uniqueness conflict
// (skip-and-log territory, not fatal to a batch run).
func IsConflict(err error) bool {
	return errors.Is(err, ErrDebtExists) || errors.Is(err, ErrPhoneTaken)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrTeacherNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrDebtNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}
