package ledger

import "errors"

// Typed failures returned across the ledger boundary. Callers map these to
// transport-level responses; no internal errors escape unwrapped.
var (
	// ErrValidation covers bad input shape or range.
	ErrValidation = errors.New("validation failed")

	// ErrUserNotFound / ErrAssetNotFound cover unknown identities.
	ErrUserNotFound  = errors.New("user not found")
	ErrAssetNotFound = errors.New("asset not found")

	// ErrInsufficientFunds rejects a buy whose cost exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient balance")

	// ErrInsufficientHoldings rejects a sell larger than the position.
	ErrInsufficientHoldings = errors.New("insufficient quantity to sell")

	// ErrUsernameTaken rejects a duplicate registration.
	ErrUsernameTaken = errors.New("username already exists")
)
