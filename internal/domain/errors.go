package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.
// Callers classify with errors.Is and make deliberate retry decisions:
// validation, conflict, and insufficient-balance errors are never retried;
// transient errors are retried with the same idempotency key.

var (
	// Ledger errors
	ErrInsufficientBalance = errors.New("debit would make balance negative")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserDisabled        = errors.New("user is disabled")

	// Accrual errors
	ErrVideoNotFound = errors.New("video not found")
	ErrWatchTooShort = errors.New("watch duration below video minimum")
	ErrNoReferrer    = errors.New("user has no referrer")
	ErrInvalidAmount = errors.New("amount must be positive")

	// Payment errors
	ErrIntentNotFound = errors.New("payment intent not found")
	ErrBelowMinimum   = errors.New("amount below configured minimum")
	ErrInvalidWallet  = errors.New("wallet address is malformed")
	ErrNoWallet       = errors.New("user has no wallet address set")

	// Guard errors
	ErrThrottled = errors.New("rate limit exceeded")
)
