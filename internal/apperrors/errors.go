// internal/apperrors/errors.go
package apperrors

import (
	"errors"
	"fmt"
)

// Code is the stable, machine-readable reason returned to API callers.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeAlreadySold       Code = "ALREADY_SOLD"
	CodeUnknownAccount    Code = "UNKNOWN_ACCOUNT"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"

	CodeOnChainFailure             Code = "ONCHAIN_FAILURE"
	CodeListingConfirmationMissing Code = "LISTING_CONFIRMATION_MISSING"
	CodeOracleUnavailable          Code = "ORACLE_UNAVAILABLE"
	CodeNoHistoricalData           Code = "NO_HISTORICAL_DATA"

	// CodeOwnershipTransferAfterPaymentFailed marks the one state the
	// pipeline cannot roll back: value has moved on-chain but ownership
	// has not. It must never be collapsed into a generic failure.
	CodeOwnershipTransferAfterPaymentFailed Code = "OWNERSHIP_TRANSFER_AFTER_PAYMENT_FAILED"

	CodeValidation Code = "VALIDATION_ERROR"
	CodeInternal   Code = "INTERNAL_ERROR"
)

type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the reason code from err, walking wrapped causes.
// Unclassified errors report CodeInternal.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Retryable reports whether the caller may safely retry the operation.
// Only external-dependency failures that provably performed no state
// change qualify; the inconsistency class never does.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeOracleUnavailable, CodeNoHistoricalData, CodeOnChainFailure:
		return true
	}
	return false
}
