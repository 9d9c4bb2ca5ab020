package loan

import "errors"

// Error taxonomy surfaced by the loan engine. Every failure is terminal for
// the triggering call; the engine never retries internally.
var (
	// ErrNonceReused signals that the presented authorization nonce was
	// already consumed by any prior call, successful or not.
	ErrNonceReused = errors.New("loan: authorization nonce already used")
	// ErrAuthorizationFailed signals that the recovered signer does not match
	// the expected identity.
	ErrAuthorizationFailed = errors.New("loan: authorization failed")
	// ErrArithmeticUnderflow signals that a checked subtraction would have
	// produced a negative amount.
	ErrArithmeticUnderflow = errors.New("loan: arithmetic underflow")
	// ErrInvalidLoanState signals that the loan is not active or has already
	// reached a terminal state.
	ErrInvalidLoanState = errors.New("loan: invalid loan state")
	// ErrCallerMismatch signals that the caller is not the party recorded for
	// the attempted transition.
	ErrCallerMismatch = errors.New("loan: caller mismatch")
	// ErrNotYetOverdue signals a liquidation attempt at or before maturity.
	ErrNotYetOverdue = errors.New("loan: loan not yet overdue")
	// ErrUnauthorized signals a non-administrator calling an admin-only
	// configuration method.
	ErrUnauthorized = errors.New("loan: unauthorized")
	// ErrLoanNotFound signals a lookup for an unknown loan identifier.
	ErrLoanNotFound = errors.New("loan: loan not found")
)
