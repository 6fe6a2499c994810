package shared

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or missing request fields.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness or dependency invariant would be violated.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the caller role may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates the caller identity could not be established.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAllocationExhausted indicates a collection request had nothing left to record.
	ErrAllocationExhausted = errors.New("nothing to collect")
	// ErrStoreUnavailable indicates the transactional store failed; callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError carries field level validation detail.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Add records a message for field, keeping the first message per field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = message
	}
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// OrNil returns the error when at least one field failed.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// UserSafeMessage returns a message that can be shown to end users.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStoreUnavailable):
		return "The ledger is temporarily unavailable, please retry"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrAllocationExhausted):
		return err.Error()
	default:
		return "Something went wrong"
	}
}
