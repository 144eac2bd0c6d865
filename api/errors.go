package api

import (
	"errors"
	"strings"
)

var (
	// ErrAlreadyInitialized is returned when initializing an account twice.
	ErrAlreadyInitialized = errors.New("account already initialized")

	// ErrDuplicateAsset is returned when recording a payment for an asset the
	// account already received.
	ErrDuplicateAsset = errors.New("duplicate asset")

	// ErrTooManyPayments is returned when recording a payment on an account
	// that already holds MaxPayments records.
	ErrTooManyPayments = errors.New("too many payments")

	// ErrAccountNotReady is returned when an operation requires a state the
	// account hasn't reached yet.
	ErrAccountNotReady = errors.New("account not ready")

	// ErrAccountExpired is returned when an operation is attempted on an
	// account past its expiry height or in the expired state.
	ErrAccountExpired = errors.New("account expired")

	// ErrAccountAlreadySwept is returned when an operation is attempted on a
	// swept account.
	ErrAccountAlreadySwept = errors.New("account already swept")

	// ErrAuthorizationFailed is returned when a sweep signature doesn't
	// verify.
	ErrAuthorizationFailed = errors.New("authorization failed")

	// ErrTransferFailed is returned by the transfer service when moving funds
	// failed.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrInsufficientBalance is returned by the transfer service when the
	// source doesn't hold enough of an asset.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned by the transfer service for amounts that
	// can never be transferred, like negative ones.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAccount is returned when referencing an account that doesn't
	// exist.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrInvalidExpiry is returned when initializing an account with an
	// expiry height that isn't in the future.
	ErrInvalidExpiry = errors.New("expiry height must be in the future")

	// ErrAmountOutOfRange is returned when a payment amount doesn't fit into
	// a signed 128-bit integer.
	ErrAmountOutOfRange = errors.New("amount out of range")

	// ErrAccountNotFound is returned by stores when no state exists for an
	// account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrPaymentAlreadyReceived was returned by single-payment accounts.
	//
	// Deprecated: accounts accept multiple payments, a repeated payment of
	// the same asset fails with ErrDuplicateAsset.
	ErrPaymentAlreadyReceived = ErrDuplicateAsset
)

// IsRetryable returns true if an operation that failed with err may succeed
// when retried without any change to its inputs. Works on errors that were
// sent over the wire.
func IsRetryable(err error) bool {
	return isErr(err, ErrTransferFailed)
}

func isErr(err, target error) bool {
	if err == nil {
		return false
	} else if errors.Is(err, target) {
		return true
	}
	return strings.Contains(err.Error(), target.Error())
}
