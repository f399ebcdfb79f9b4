package repository

import (
	"context"

	"github.com/and161185/score-store/internal/model"
)

// LedgerRepository is the delta-only score ledger.
type LedgerRepository interface {
	// Balance returns the current balance, or errs.ErrNotFound if the identity never transacted.
	Balance(ctx context.Context, identity string) (int64, error)
	// ApplyDelta adds d.Amount to the balance and appends an entry atomically, serialized per identity.
	// With d.Floor set, a debit ending below the floor fails with errs.ErrInsufficientFunds and has no effect.
	ApplyDelta(ctx context.Context, d model.Delta) (int64, error)
	// Entries returns up to limit entries for identity, newest first.
	Entries(ctx context.Context, identity string, limit int) ([]model.LedgerEntry, error)
}
