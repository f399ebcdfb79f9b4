package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/metrics"
	"github.com/and161185/score-store/internal/model"
	"github.com/and161185/score-store/internal/repository"
)

// DefaultHistoryLimit caps History when the caller passes a non-positive limit.
const DefaultHistoryLimit = 50

// LedgerService reads balances and applies administrative deltas.
// Balances only ever change by deltas; there is no absolute set.
type LedgerService interface {
	// BalanceOf returns the balance of identity; known is false if it never transacted.
	BalanceOf(ctx context.Context, identity string) (balance int64, known bool, err error)
	// BalanceOfUser resolves username to its identity first; unknown users are not known.
	BalanceOfUser(ctx context.Context, username string) (balance int64, known bool, err error)
	// ApplyDelta adds delta to identity's balance with the given reason code.
	ApplyDelta(ctx context.Context, identity string, delta int64, reason string) (int64, error)
	// History lists the newest entries of identity.
	History(ctx context.Context, identity string, limit int) ([]model.LedgerEntry, error)
}

type LedgerServiceImpl struct {
	accounts repository.AccountRepository
	ledger   repository.LedgerRepository
}

// NewLedgerService constructs LedgerService.
func NewLedgerService(accounts repository.AccountRepository, ledger repository.LedgerRepository) *LedgerServiceImpl {
	return &LedgerServiceImpl{accounts: accounts, ledger: ledger}
}

func (s *LedgerServiceImpl) BalanceOf(ctx context.Context, identity string) (int64, bool, error) {
	bal, err := s.ledger.Balance(ctx, identity)
	if errors.Is(err, errs.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return bal, true, nil
}

func (s *LedgerServiceImpl) BalanceOfUser(ctx context.Context, username string) (int64, bool, error) {
	acct, err := s.accounts.GetByUsername(ctx, username)
	if errors.Is(err, errs.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return s.BalanceOf(ctx, acct.Identity)
}

func (s *LedgerServiceImpl) ApplyDelta(ctx context.Context, identity string, delta int64, reason string) (int64, error) {
	if identity == "" || reason == "" || delta == 0 {
		return 0, fmt.Errorf("delta %d for %q reason %q: %w", delta, identity, reason, errs.ErrInvalidInput)
	}
	bal, err := s.ledger.ApplyDelta(ctx, model.Delta{Identity: identity, Amount: delta, Reason: reason})
	if err != nil {
		return 0, err
	}
	observePosting(reason, delta)
	return bal, nil
}

func (s *LedgerServiceImpl) History(ctx context.Context, identity string, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.ledger.Entries(ctx, identity, limit)
}

func observePosting(reason string, delta int64) {
	if delta < 0 {
		delta = -delta
	}
	metrics.LedgerPostings.WithLabelValues(reason).Inc()
	metrics.LedgerPoints.WithLabelValues(reason).Add(float64(delta))
}
