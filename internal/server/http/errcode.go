package httpserver

import (
	"errors"

	"github.com/and161185/score-store/internal/errs"
)

// Error codes reported in the errCode field of /checkout and /add-good responses.
const (
	CodeInsufficientFunds = 1001
	CodeUnauthorized      = 1002
	CodeUnknownGood       = 1003
	CodeInvalidQuantity   = 1004
	CodeLedgerUnavailable = 1005
	CodeConflict          = 1006
	CodeMalformed         = 9999
)

// ErrCode maps a service error to its stable wire code.
func ErrCode(err error) int {
	switch {
	case errors.Is(err, errs.ErrLedgerUnavailable):
		return CodeLedgerUnavailable
	case errors.Is(err, errs.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, errs.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, errs.ErrUnknownGood):
		return CodeUnknownGood
	case errors.Is(err, errs.ErrInvalidQuantity):
		return CodeInvalidQuantity
	case errors.Is(err, errs.ErrAlreadyExists):
		return CodeConflict
	case errors.Is(err, errs.ErrInvalidInput):
		return CodeMalformed
	default:
		return CodeLedgerUnavailable
	}
}
