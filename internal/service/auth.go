// Package service contains the application services: registration, sessions, ledger, goods and checkout.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgcrypto "github.com/and161185/score-store/internal/crypto"
	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/limiter"
	"github.com/and161185/score-store/internal/model"
	"github.com/and161185/score-store/internal/repository"
)

// AuthService issues and checks bearer credentials.
type AuthService interface {
	// Issue creates a fresh credential for the account.
	Issue(ctx context.Context, acct *model.Account) (model.Credential, error)
	// Authenticate returns the account owning token, or errs.ErrUnauthorized.
	Authenticate(ctx context.Context, username, token string) (*model.Account, error)
	// LoginWithIP applies rate-limiting, checks the password and issues a credential.
	LoginWithIP(ctx context.Context, username, password, ip string) (model.Credential, error)
}

type AuthServiceImpl struct {
	accounts repository.AccountRepository
	creds    repository.CredentialRepository
	lim      limiter.Limiter
	now      func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(accounts repository.AccountRepository, creds repository.CredentialRepository, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{accounts: accounts, creds: creds, lim: lim, now: time.Now}
}

// Issue stores the hash of a new random token and returns the token.
func (s *AuthServiceImpl) Issue(ctx context.Context, acct *model.Account) (model.Credential, error) {
	tok, err := pkgcrypto.NewToken()
	if err != nil {
		return model.Credential{}, err
	}
	at := s.now()
	if err := s.creds.Create(ctx, acct.Username, pkgcrypto.HashToken(tok), at); err != nil {
		return model.Credential{}, fmt.Errorf("issue credential: %w", err)
	}
	return model.Credential{Token: tok, IssuedAt: at}, nil
}

// Authenticate resolves (username, token) to an account.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, username, token string) (*model.Account, error) {
	if username == "" || token == "" {
		return nil, errs.ErrUnauthorized
	}
	acct, err := s.creds.Lookup(ctx, username, pkgcrypto.HashToken(token))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return acct, nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Credential, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Credential{}, err
	}
	if !allowed {
		return model.Credential{}, errs.ErrRateLimited
	}

	acct, err := s.accounts.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Credential{}, err
	}
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), acct.Salt, acct.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Credential{}, errs.ErrRateLimited
		}
		// unknown user and wrong password look the same
		return model.Credential{}, errs.ErrUnauthorized
	}

	// best-effort reset
	_ = s.lim.Success(ctx, username, ipHash)

	return s.Issue(ctx, acct)
}
