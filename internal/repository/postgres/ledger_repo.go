package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/model"
)

// LedgerRepo implements LedgerRepository using PostgreSQL.
type LedgerRepo struct{ q Querier }

// NewLedgerRepo constructs a ledger repository.
func NewLedgerRepo(db *DB) *LedgerRepo { return &LedgerRepo{q: db.Pool} }

// Balance selects the current balance.
func (r *LedgerRepo) Balance(ctx context.Context, identity string) (int64, error) {
	const q = `SELECT balance FROM ledger_accounts WHERE identity=$1`
	var bal int64
	if err := r.q.QueryRow(ctx, q, identity).Scan(&bal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrNotFound
		}
		return 0, err
	}
	return bal, nil
}

// ApplyDelta bumps the balance and appends the entry. The upsert holds the row lock
// until commit, which serializes writers of the same identity.
func (r *LedgerRepo) ApplyDelta(ctx context.Context, d model.Delta) (balance int64, err error) {
	tx, err := r.q.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer finishTx(ctx, tx, &err)

	const upsert = `
INSERT INTO ledger_accounts (identity, balance, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (identity) DO UPDATE
SET balance = ledger_accounts.balance + EXCLUDED.balance, updated_at = now()
RETURNING balance`
	const entry = `
INSERT INTO ledger_entries (identity, reason, delta, ref)
VALUES ($1, $2, $3, NULLIF($4, ''))`

	if err = tx.QueryRow(ctx, upsert, d.Identity, d.Amount).Scan(&balance); err != nil {
		if isOutOfRange(err) {
			err = fmt.Errorf("balance %+d out of range: %w", d.Amount, errs.ErrInvalidInput)
		}
		return 0, err
	}
	if d.Floor != nil && d.Amount < 0 && balance < *d.Floor {
		err = errs.ErrInsufficientFunds
		return 0, err
	}
	if _, err = tx.Exec(ctx, entry, d.Identity, d.Reason, d.Amount, d.Ref); err != nil {
		return 0, err
	}
	return balance, nil
}

// Entries returns the newest entries first.
func (r *LedgerRepo) Entries(ctx context.Context, identity string, limit int) ([]model.LedgerEntry, error) {
	const q = `
SELECT id, created_at, identity, reason, delta, COALESCE(ref, '')
FROM ledger_entries
WHERE identity=$1
ORDER BY id DESC
LIMIT $2`
	rows, err := r.q.Query(ctx, q, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err = rows.Scan(&e.ID, &e.Time, &e.Identity, &e.Reason, &e.Delta, &e.Ref); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
