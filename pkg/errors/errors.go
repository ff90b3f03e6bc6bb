package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeSecurity    ErrorType = "security"
	ErrorTypeExhausted   ErrorType = "exhausted"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeTransient   ErrorType = "transient"
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeExternal    ErrorType = "external"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeShutdown    ErrorType = "shutdown"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors

func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

// NewSecurityViolationError reports a target rejected by the validator.
// Fatal for the task, never retried.
func NewSecurityViolationError(message string) *AppError {
	return NewAppError(ErrorTypeSecurity, "SECURITY_VIOLATION", message)
}

// NewPoolExhaustedError reports an acquire deadline elapsing with no handle
// available. Retryable by the caller at a higher level.
func NewPoolExhaustedError(timeout time.Duration) *AppError {
	return NewAppError(ErrorTypeExhausted, "POOL_EXHAUSTED",
		fmt.Sprintf("no browser became available within %s", timeout)).
		WithDetail("timeout", timeout.String())
}

// NewCircuitOpenError reports a call rejected by an open circuit breaker
// with no fallback configured.
func NewCircuitOpenError(name string) *AppError {
	return NewAppError(ErrorTypeUnavailable, "CIRCUIT_OPEN",
		fmt.Sprintf("circuit breaker %q is open", name)).
		WithDetail("breaker", name)
}

// NewTransientScanError reports a single failed scan attempt. Retried
// internally by the orchestrator up to its policy limit.
func NewTransientScanError(message string) *AppError {
	return NewAppError(ErrorTypeTransient, "SCAN_TRANSIENT", message)
}

// NewFinalScanError reports retry exhaustion. Carries the attempt count
// and the last underlying error.
func NewFinalScanError(attempts int, lastErr error) *AppError {
	return NewAppError(ErrorTypeInternal, "SCAN_FAILED",
		fmt.Sprintf("scan failed after %d attempts", attempts)).
		WithDetail("attempts", fmt.Sprintf("%d", attempts)).
		WithCause(lastErr)
}

// NewShutdownError reports an operation attempted during or after pool
// shutdown. Fatal, not retried.
func NewShutdownError(operation string) *AppError {
	return NewAppError(ErrorTypeShutdown, "SHUTDOWN_IN_PROGRESS",
		fmt.Sprintf("%s rejected: shutdown in progress", operation))
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", message).
		WithDetail("service", service)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable reports whether the orchestrator may retry after this error.
// Security and shutdown rejections bypass retry entirely.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Type {
	case ErrorTypeSecurity, ErrorTypeShutdown, ErrorTypeValidation:
		return false
	default:
		return true
	}
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// Attempts returns the attempt count recorded on a SCAN_FAILED error, or 0.
func Attempts(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return 0
	}
	var n int
	fmt.Sscanf(appErr.Details["attempts"], "%d", &n)
	return n
}
