package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err      *AppError
		code     string
		errType  ErrorType
		retrying bool
	}{
		{NewSecurityViolationError("bad host"), "SECURITY_VIOLATION", ErrorTypeSecurity, false},
		{NewPoolExhaustedError(time.Second), "POOL_EXHAUSTED", ErrorTypeExhausted, true},
		{NewCircuitOpenError("enrichment"), "CIRCUIT_OPEN", ErrorTypeUnavailable, true},
		{NewTransientScanError("hung"), "SCAN_TRANSIENT", ErrorTypeTransient, true},
		{NewFinalScanError(3, nil), "SCAN_FAILED", ErrorTypeInternal, true},
		{NewShutdownError("acquire"), "SHUTDOWN_IN_PROGRESS", ErrorTypeShutdown, false},
		{NewValidationError("missing field"), "VALIDATION_ERROR", ErrorTypeValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, GetCode(tt.err))
			assert.Equal(t, tt.errType, GetType(tt.err))
			assert.Equal(t, tt.retrying, IsRetryable(tt.err))
			assert.True(t, IsType(tt.err, tt.errType))
		})
	}
}

func TestCauseChain(t *testing.T) {
	root := fmt.Errorf("connection refused")
	err := NewTransientScanError("attempt failed").WithCause(root)

	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "SCAN_TRANSIENT")
}

func TestIsTypeThroughWrapping(t *testing.T) {
	inner := NewSecurityViolationError("blocked")
	wrapped := fmt.Errorf("scan aborted: %w", inner)

	assert.True(t, IsType(wrapped, ErrorTypeSecurity))
	assert.Equal(t, "SECURITY_VIOLATION", GetCode(wrapped))
	assert.False(t, IsRetryable(wrapped))
}

func TestUnknownErrorFallbacks(t *testing.T) {
	plain := errors.New("something else")

	assert.Equal(t, "UNKNOWN_ERROR", GetCode(plain))
	assert.Equal(t, ErrorTypeInternal, GetType(plain))
	assert.True(t, IsRetryable(plain))
	assert.False(t, IsType(plain, ErrorTypeSecurity))
}

func TestAttempts(t *testing.T) {
	last := fmt.Errorf("render timeout")
	err := NewFinalScanError(3, last)

	require.Equal(t, 3, Attempts(err))
	assert.Equal(t, 0, Attempts(last))
	assert.Equal(t, 0, Attempts(NewTransientScanError("x")))
}

func TestPoolExhaustedCarriesTimeout(t *testing.T) {
	err := NewPoolExhaustedError(30 * time.Second)
	assert.Equal(t, "30s", err.Details["timeout"])
}
