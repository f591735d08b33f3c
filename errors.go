package skillchain

import (
	"errors"
	"fmt"
)

// Error type constants for classification and matching
const (
	// ErrorTypeInvalidOperation indicates a precondition violation: wrong
	// status for the requested operation, missing pending attempt, missing
	// required target link, unpublished or empty chain. These are caller
	// errors and are not retryable.
	ErrorTypeInvalidOperation = "invalid_operation"

	// ErrorTypeNotFound indicates a missing chain, execution, or link.
	ErrorTypeNotFound = "not_found"

	// ErrorTypeConflict indicates a stale-revision write. A caller that sees
	// this raced another writer on the same execution and should re-read
	// before deciding whether to retry its call.
	ErrorTypeConflict = "conflict"
)

// OperationError represents a structured engine error with classification.
// It supports Go's error wrapping patterns with Unwrap() method.
type OperationError struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *OperationError) Unwrap() error {
	return e.Wrapped
}

// NewInvalidOperationError creates an invalid-operation error with a
// formatted cause message.
func NewInvalidOperationError(format string, args ...any) *OperationError {
	return &OperationError{Type: ErrorTypeInvalidOperation, Cause: fmt.Sprintf(format, args...)}
}

// NewNotFoundError creates a not-found error with a formatted cause message.
func NewNotFoundError(format string, args ...any) *OperationError {
	return &OperationError{Type: ErrorTypeNotFound, Cause: fmt.Sprintf(format, args...)}
}

// NewConflictError creates a stale-revision conflict error.
func NewConflictError(format string, args ...any) *OperationError {
	return &OperationError{Type: ErrorTypeConflict, Cause: fmt.Sprintf(format, args...)}
}

func matchesErrorType(err error, errorType string) bool {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Type == errorType
	}
	return false
}

// IsInvalidOperation reports whether err is an invalid-operation error.
func IsInvalidOperation(err error) bool {
	return matchesErrorType(err, ErrorTypeInvalidOperation)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return matchesErrorType(err, ErrorTypeNotFound)
}

// IsConflict reports whether err is a stale-revision conflict.
func IsConflict(err error) bool {
	return matchesErrorType(err, ErrorTypeConflict)
}
