// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a lost compare-and-swap (the row changed underneath).
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates a malformed or out-of-range argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidQuantity indicates a negative count or a cart total that does not fit int64.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrUnknownGood indicates a cart references a good that does not exist.
	ErrUnknownGood = errors.New("unknown good")

	// ErrInsufficientFunds indicates a debit would push a balance below the allowed minimum.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLedgerUnavailable indicates the ledger could not apply or reverse a posting.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// UnknownGoodError names the offending good id.
type UnknownGoodError struct {
	ID int64
}

func (e *UnknownGoodError) Error() string {
	return fmt.Sprintf("good %d: %s", e.ID, ErrUnknownGood)
}

// Is makes errors.Is match both ErrUnknownGood and ErrNotFound.
func (e *UnknownGoodError) Is(target error) bool {
	return target == ErrUnknownGood || target == ErrNotFound
}
