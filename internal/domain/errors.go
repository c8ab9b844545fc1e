package domain

import "errors"

var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientPool     = errors.New("insufficient pool balance")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrAccountNotFound      = errors.New("account not found")
	ErrPaymentNotFound      = errors.New("no pending payment")
	ErrAlreadyApplied       = errors.New("idempotency key already applied")
	ErrRateUnavailable      = errors.New("conversion rate unavailable")
	ErrExternalUnavailable  = errors.New("external service unavailable")
	ErrMalformedRecord      = errors.New("malformed external record")
	ErrAdminIDMisconfigured = errors.New("admin id not configured")
)
