package strata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested model does not exist.
	ErrNotFound = errors.New("strata: model not found")

	// ErrNotSingular is returned when a query that expects exactly one result
	// returns zero or multiple results.
	ErrNotSingular = errors.New("strata: model not singular")

	// ErrBatchClosed is returned when adding to a closed BatchWriter.
	ErrBatchClosed = errors.New("strata: batch writer is closed")
)

// NotFoundError represents an error when a model is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the id that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("strata: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("strata: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the model label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the id that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given model type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the id that was
// searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a query expects a singular
// result but receives zero or multiple results.
type NotSingularError struct {
	label string
	count int // Number of results returned (-1 if unknown)
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("strata: %s not singular (got %d results, expected 1)", e.label, e.count)
	}
	return fmt.Sprintf("strata: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Label returns the model label.
func (e *NotSingularError) Label() string {
	return e.label
}

// Count returns the number of results, or -1 if unknown.
func (e *NotSingularError) Count() int {
	return e.count
}

// NewNotSingularError returns a new NotSingularError for the given model type.
func NewNotSingularError(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// BackendError wraps a backend failure with the operation and the rendered
// command that caused it.
type BackendError struct {
	Label   string // Model label involved, if any
	Op      string // Operation (e.g. "find", "upsert", "delete")
	Command string // Rendered command text
	Err     error  // Underlying driver error
}

// Error returns the error string.
func (e *BackendError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("strata: %s %s: %v", e.Op, e.Label, e.Err)
	}
	return fmt.Sprintf("strata: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError returns a new BackendError.
func NewBackendError(label, op, command string, err error) *BackendError {
	return &BackendError{Label: label, Op: op, Command: command, Err: err}
}

// IsBackendError returns true if the error is a BackendError.
func IsBackendError(err error) bool {
	if err == nil {
		return false
	}
	var e *BackendError
	return errors.As(err, &e)
}

// SchemaMismatchError represents a model property that cannot be mapped
// onto the backend, either because no codec supports it or because the
// dialect has no physical type for its column class.
type SchemaMismatchError struct {
	Label    string // Model label
	Property string // Property name
	Reason   string
}

// Error returns the error string.
func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("strata: schema mismatch for %s.%s: %s", e.Label, e.Property, e.Reason)
}

// NewSchemaMismatchError returns a new SchemaMismatchError.
func NewSchemaMismatchError(label, property, reason string) *SchemaMismatchError {
	return &SchemaMismatchError{Label: label, Property: property, Reason: reason}
}

// IsSchemaMismatch returns true if the error is a SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	if err == nil {
		return false
	}
	var e *SchemaMismatchError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("strata: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("strata: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// classifyError lifts driver-specific constraint violations into
// ConstraintError and wraps everything else in a BackendError.
func classifyError(label, op, command string, err error) error {
	if err == nil {
		return nil
	}
	if isConstraintViolation(err) {
		return NewConstraintError(err.Error(), err)
	}
	return NewBackendError(label, op, command, err)
}

// isConstraintViolation inspects the known driver error shapes for
// integrity-constraint failures.
func isConstraintViolation(err error) bool {
	var pqe *pq.Error
	if errors.As(err, &pqe) {
		// Class 23 - integrity constraint violations.
		return strings.HasPrefix(string(pqe.Code), "23")
	}
	var mye *mysql.MySQLError
	if errors.As(err, &mye) {
		switch mye.Number {
		case 1062, 1048, 1451, 1452, 1557, 1586, 1761, 1762, 3819:
			return true
		}
		return false
	}
	// modernc.org/sqlite reports SQLITE_CONSTRAINT in the message.
	return strings.Contains(strings.ToLower(err.Error()), "constraint")
}
