package auction

import "errors"

// Validation failures surfaced synchronously to the caller. The API layer
// maps these to 400 responses.
var (
	ErrMissingToken        = errors.New("missing client token")
	ErrInvalidToken        = errors.New("invalid token")
	ErrMissingName         = errors.New("missing name")
	ErrMissingMessage      = errors.New("missing message")
	ErrInvalidBid          = errors.New("bid must be a positive number")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Failures resolved to parked requests. The API layer maps these to 500.
var (
	// ErrSettlementFailed is resolved to every parked request when a
	// storage error aborts the settlement that included it.
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrReset is resolved to parked requests dropped by an admin reset.
	ErrReset = errors.New("broker reset")
)
