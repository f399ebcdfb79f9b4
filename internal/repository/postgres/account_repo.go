package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/model"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ q Querier }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{q: db.Pool} }

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (username, identity, pwd_hash, salt, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.q.Exec(ctx, q, a.Username, a.Identity, a.PwdHash, a.Salt, a.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByUsername selects an account by username.
func (r *AccountRepo) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	const q = `
SELECT username, identity, pwd_hash, salt, created_at
FROM accounts WHERE username=$1`
	return scanAccount(r.q.QueryRow(ctx, q, username))
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	if err := row.Scan(&a.Username, &a.Identity, &a.PwdHash, &a.Salt, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// CredentialRepo implements CredentialRepository using PostgreSQL.
type CredentialRepo struct{ q Querier }

// NewCredentialRepo constructs a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo { return &CredentialRepo{q: db.Pool} }

// Create stores a token hash for username.
func (r *CredentialRepo) Create(ctx context.Context, username string, tokenHash []byte, issuedAt time.Time) error {
	const q = `INSERT INTO credentials (token_hash, username, issued_at) VALUES ($1, $2, $3)`
	_, err := r.q.Exec(ctx, q, tokenHash, username, issuedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Lookup resolves a token hash to its account.
func (r *CredentialRepo) Lookup(ctx context.Context, username string, tokenHash []byte) (*model.Account, error) {
	const q = `
SELECT a.username, a.identity, a.pwd_hash, a.salt, a.created_at
FROM credentials c JOIN accounts a ON a.username = c.username
WHERE c.username=$1 AND c.token_hash=$2`
	return scanAccount(r.q.QueryRow(ctx, q, username, tokenHash))
}

// PendingRepo implements PendingRepository using PostgreSQL.
type PendingRepo struct{ q Querier }

// NewPendingRepo constructs a pending registration repository.
func NewPendingRepo(db *DB) *PendingRepo { return &PendingRepo{q: db.Pool} }

// Create inserts a pending row or takes over an expired one in a single statement.
func (r *PendingRepo) Create(ctx context.Context, p *model.PendingRegistration, expiredBefore time.Time) error {
	const q = `
INSERT INTO pending_registrations (username, pwd_hash, salt, code, session_hash, created_at, refreshed_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (username) DO UPDATE
SET pwd_hash = EXCLUDED.pwd_hash, salt = EXCLUDED.salt, code = EXCLUDED.code,
    session_hash = EXCLUDED.session_hash, created_at = EXCLUDED.created_at, refreshed_at = EXCLUDED.refreshed_at
WHERE pending_registrations.refreshed_at <= $7`
	tag, err := r.q.Exec(ctx, q, p.Username, p.PwdHash, p.Salt, p.Code, p.SessionHash, p.CreatedAt, expiredBefore)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAlreadyExists
	}
	return nil
}

// GetByUsername selects a live pending row.
func (r *PendingRepo) GetByUsername(ctx context.Context, username string, notBefore time.Time) (*model.PendingRegistration, error) {
	const q = `
SELECT username, pwd_hash, salt, code, session_hash, created_at, refreshed_at
FROM pending_registrations WHERE username=$1 AND refreshed_at > $2`
	var p model.PendingRegistration
	err := r.q.QueryRow(ctx, q, username, notBefore).
		Scan(&p.Username, &p.PwdHash, &p.Salt, &p.Code, &p.SessionHash, &p.CreatedAt, &p.RefreshedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// RotateCode replaces the code only if it is still oldCode.
func (r *PendingRepo) RotateCode(ctx context.Context, username, oldCode, newCode string, at time.Time) error {
	const q = `
UPDATE pending_registrations
SET code = $3, refreshed_at = $4
WHERE username = $1 AND code = $2`
	tag, err := r.q.Exec(ctx, q, username, oldCode, newCode, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}

// Delete removes the row while it still carries code.
func (r *PendingRepo) Delete(ctx context.Context, username, code string) error {
	const q = `DELETE FROM pending_registrations WHERE username=$1 AND code=$2`
	tag, err := r.q.Exec(ctx, q, username, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteExpired purges stale rows.
func (r *PendingRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM pending_registrations WHERE refreshed_at <= $1`
	tag, err := r.q.Exec(ctx, q, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
