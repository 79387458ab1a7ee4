package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates that the referenced task or user does not exist.
var ErrNotFound = errors.New("not found")

// ErrPartialReorder indicates that a reorder bulk write was only partly
// applied by the backend.
var ErrPartialReorder = errors.New("reorder partially applied")

// StoreError wraps a failure of the persistence layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err unless it is nil, already a StoreError or a
// not-found.
func NewStoreError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// ValidationError reports a malformed request payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Wire error codes.
const (
	CodeNotFound   = "not_found"
	CodeValidation = "validation"
	CodeStore      = "store"
	CodeInternal   = "internal"
)

// ErrorCode maps err to the code reported to clients.
func ErrorCode(err error) string {
	var ve *ValidationError
	var se *StoreError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &se):
		return CodeStore
	default:
		return CodeInternal
	}
}
