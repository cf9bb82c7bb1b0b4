/*
errors.go - Outcome taxonomy for the integrity engine

PURPOSE:
  Every planned failure of a service operation is an explicit error value.
  Callers match them with errors.Is (sentinels) or errors.As (structured).

ERROR CATEGORIES:
  1. ValidationError     - input violates a field constraint
  2. InvalidReference    - a Sale's foreign key does not resolve
  3. NotFound            - the target id does not exist (or was deleted)
  4. Referenced          - delete blocked by Sales that still point at it
  5. Conflict            - concurrent modification detected
  6. StorageUnavailable  - the backing medium failed; fatal for the request

  Categories 1-5 are expected outcomes. Only 6 is an outage.

BACKEND CONTRACT:
  Storage backends return the bare sentinels (ErrNotFound, ErrConflict,
  ErrReferenced, ErrInvalidReference), optionally wrapped with %w. The
  service turns them into the structured forms and wraps anything else
  in a StorageError.

SEE ALSO:
  - service.go: Maps backend outcomes to these errors
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package retail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when input fails field validation.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidReference is returned when a Sale references a customer,
	// product or store that does not exist.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrNotFound is returned when the target record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrReferenced is returned when a delete is blocked by existing Sales.
	ErrReferenced = errors.New("record is referenced by existing sales")

	// ErrConflict is returned when the row changed between read and write.
	ErrConflict = errors.New("record was modified concurrently")

	// ErrStorageUnavailable is returned when the backing store fails.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError lists every offending field with the reason it failed.
type ValidationError struct {
	Kind   Kind
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return fmt.Sprintf("invalid %s: %s", e.Kind, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InvalidReferenceError names the Sale fields whose references did not resolve.
// Fields is ordered customerId, productId, storeId.
type InvalidReferenceError struct {
	Fields []string
	IDs    []ID
}

func (e *InvalidReferenceError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid reference"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		if i < len(e.IDs) {
			parts[i] = fmt.Sprintf("%s=%d", f, e.IDs[i])
		} else {
			parts[i] = f
		}
	}
	return "invalid reference: " + strings.Join(parts, ", ")
}

func (e *InvalidReferenceError) Unwrap() error {
	return ErrInvalidReference
}

// Has reports whether field is among the failing references.
func (e *InvalidReferenceError) Has(field string) bool {
	for _, f := range e.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind Kind
	ID   ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ReferencedError identifies the record whose delete was blocked and the
// Sales blocking it. SaleIDs may be empty when the block was detected by
// the storage layer rather than the validator.
type ReferencedError struct {
	Kind    Kind
	ID      ID
	SaleIDs []ID
}

func (e *ReferencedError) Error() string {
	if len(e.SaleIDs) == 0 {
		return fmt.Sprintf("%s %d is referenced by existing sales", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s %d is referenced by %d sale(s)", e.Kind, e.ID, len(e.SaleIDs))
}

func (e *ReferencedError) Unwrap() error {
	return ErrReferenced
}

// ConflictError reports a lost optimistic-concurrency race.
// Actual is zero when the current version is unknown.
type ConflictError struct {
	Kind     Kind
	ID       ID
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	if e.Actual == 0 {
		return fmt.Sprintf("%s %d was modified concurrently (expected version %d)", e.Kind, e.ID, e.Expected)
	}
	return fmt.Sprintf("%s %d was modified concurrently (expected version %d, found %d)",
		e.Kind, e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// StorageError wraps a backend failure. It matches both ErrStorageUnavailable
// and the underlying cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}

// storageFailure wraps err as a StorageError unless it is already a planned
// outcome or a context cancellation, which pass through unchanged.
func storageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if IsClientError(err) || IsNotFound(err) || IsRetryable(err) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if reloading and retrying might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the caller can fix the request and resubmit.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrReferenced)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
