// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/score-store/internal/model"
)

// PendingRepository stores signups awaiting chat confirmation.
type PendingRepository interface {
	// Create inserts a pending signup. A row for the same username whose RefreshedAt is
	// not after expiredBefore is replaced; a live one yields errs.ErrAlreadyExists.
	Create(ctx context.Context, p *model.PendingRegistration, expiredBefore time.Time) error
	// GetByUsername loads the live row (RefreshedAt after notBefore) or errs.ErrNotFound.
	GetByUsername(ctx context.Context, username string, notBefore time.Time) (*model.PendingRegistration, error)
	// RotateCode swaps oldCode for newCode and refreshes the row; errs.ErrVersionConflict if the code changed.
	RotateCode(ctx context.Context, username, oldCode, newCode string, at time.Time) error
	// Delete removes the row only while it still carries code; errs.ErrNotFound otherwise.
	Delete(ctx context.Context, username, code string) error
	// DeleteExpired purges rows not refreshed after before and reports how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// AccountRepository stores confirmed accounts.
type AccountRepository interface {
	// Create inserts an account; errs.ErrAlreadyExists on a taken username.
	Create(ctx context.Context, a *model.Account) error
	// GetByUsername loads an account by username.
	GetByUsername(ctx context.Context, username string) (*model.Account, error)
}

// CredentialRepository stores hashes of issued bearer tokens.
type CredentialRepository interface {
	// Create records a token hash for the account.
	Create(ctx context.Context, username string, tokenHash []byte, issuedAt time.Time) error
	// Lookup returns the account owning tokenHash, or errs.ErrNotFound.
	Lookup(ctx context.Context, username string, tokenHash []byte) (*model.Account, error)
}
