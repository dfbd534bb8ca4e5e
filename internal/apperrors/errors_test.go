// internal/apperrors/errors_test.go
package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWalksWrappedCauses(t *testing.T) {
	base := New(CodeAlreadySold, "listing already sold")
	wrapped := fmt.Errorf("purchase failed: %w", base)

	assert.Equal(t, CodeAlreadySold, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeAlreadySold))
	assert.False(t, Is(wrapped, CodeNotFound))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeInternal, CodeOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(CodeOnChainFailure, "confirmation failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "confirmation failed")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodeOracleUnavailable, "")))
	assert.True(t, Retryable(New(CodeOnChainFailure, "")))
	assert.True(t, Retryable(New(CodeNoHistoricalData, "")))

	// Resubmitting after these would double-spend or is pointless.
	assert.False(t, Retryable(New(CodeOwnershipTransferAfterPaymentFailed, "")))
	assert.False(t, Retryable(New(CodeAlreadySold, "")))
	assert.False(t, Retryable(New(CodeInsufficientFunds, "")))
}
