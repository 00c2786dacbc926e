package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation  ErrorCategory = "validation"  // Invalid input, never retried
	ErrCatNotFound    ErrorCategory = "not_found"   // Resource does not exist
	ErrCatConflict    ErrorCategory = "conflict"    // Wrong lifecycle state / CAS miss
	ErrCatUnavailable ErrorCategory = "unavailable" // Collaborator unreachable, retryable
	ErrCatTimeout     ErrorCategory = "timeout"     // Bounded call exceeded its deadline
	ErrCatState       ErrorCategory = "state"       // Snapshot corruption or invariant breach
	ErrCatPersistence ErrorCategory = "persistence" // Store failure, fatal for the operation
	ErrCatInternal    ErrorCategory = "internal"    // Unexpected internal error
)

// DomainError is a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on category and code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     code,
		Message:  message,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrExecutionNotFound creates a not found error for an execution ID.
func ErrExecutionNotFound(id ExecutionID) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     CodeExecutionNotFound,
		Message:  fmt.Sprintf("execution not found: %s", id),
	}
}

// ErrInvalidResumeState signals a resume attempt on an execution that is
// not suspended. Never retried, never mutates state.
func ErrInvalidResumeState(id ExecutionID, lifecycle Lifecycle) *DomainError {
	return &DomainError{
		Category: ErrCatConflict,
		Code:     CodeInvalidResumeState,
		Message:  fmt.Sprintf("execution %s is %s, not suspended", id, lifecycle),
		Details: map[string]interface{}{
			"lifecycle": string(lifecycle),
		},
	}
}

// ErrClassifierUnavailable signals a transient classifier failure. The
// execution stays at the classify node; the next scheduler cycle retries.
func ErrClassifierUnavailable(cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatUnavailable,
		Code:      CodeClassifierUnavailable,
		Message:   "classifier collaborator unavailable",
		Retryable: true,
		Cause:     cause,
	}
}

// ErrNotifierUnavailable signals a transient notifier failure.
func ErrNotifierUnavailable(cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatUnavailable,
		Code:      CodeNotifierUnavailable,
		Message:   "notifier collaborator unavailable",
		Retryable: true,
		Cause:     cause,
	}
}

// ErrDispatchFailed signals a failed outbound platform send.
func ErrDispatchFailed(channel string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatUnavailable,
		Code:      CodeDispatchFailed,
		Message:   "outbound dispatch failed for channel " + channel,
		Retryable: true,
		Cause:     cause,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrConflict creates a conflict error.
func ErrConflict(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatConflict,
		Code:     code,
		Message:  message,
	}
}

// ErrState creates a state invariant error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatState,
		Code:     code,
		Message:  message,
	}
}

// ErrPersistence creates a store failure error.
func ErrPersistence(message string, cause error) *DomainError {
	return &DomainError{
		Category: ErrCatPersistence,
		Code:     CodeStoreFailure,
		Message:  message,
		Cause:    cause,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeExecutionNotFound     = "EXECUTION_NOT_FOUND"
	CodeRecordNotFound        = "RECORD_NOT_FOUND"
	CodeInvalidResumeState    = "INVALID_RESUME_STATE"
	CodeClassifierUnavailable = "CLASSIFIER_UNAVAILABLE"
	CodeNotifierUnavailable   = "NOTIFIER_UNAVAILABLE"
	CodeDispatchFailed        = "DISPATCH_FAILED"
	CodeStoreFailure          = "STORE_FAILURE"
	CodeStatusConflict        = "STATUS_CONFLICT"
	CodeAlreadySuspended      = "ALREADY_SUSPENDED"
	CodeExecutionCompleted    = "EXECUTION_COMPLETED"
	CodeCorruptSnapshot       = "CORRUPT_SNAPSHOT"
	CodeUnknownClassification = "UNKNOWN_CLASSIFICATION"

	// Validation error codes
	CodeMissingDedupKey    = "MISSING_DEDUP_KEY"
	CodeMissingChannel     = "MISSING_CHANNEL"
	CodeMissingSender      = "MISSING_SENDER"
	CodeMissingText        = "MISSING_TEXT"
	CodeMissingExecutionID = "MISSING_EXECUTION_ID"
	CodeMalformedInput     = "MALFORMED_INPUT"
	CodeInvalidFeedback    = "INVALID_FEEDBACK"
)
