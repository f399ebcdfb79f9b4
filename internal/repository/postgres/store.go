package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/score-store/internal/repository"
)

// Store is the PostgreSQL unit-of-work boundary.
type Store struct{ db *DB }

var _ repository.Store = (*Store)(nil)

// NewStore constructs a store over db.
func NewStore(db *DB) *Store { return &Store{db: db} }

func reposOn(q Querier) repository.Repos {
	return repository.Repos{
		Pending:     &PendingRepo{q: q},
		Accounts:    &AccountRepo{q: q},
		Credentials: &CredentialRepo{q: q},
		Goods:       &GoodRepo{q: q},
		Orders:      &OrderRepo{q: q},
		Ledger:      &LedgerRepo{q: q},
	}
}

// Repos returns repositories bound to the pool.
func (s *Store) Repos() repository.Repos { return reposOn(s.db.Pool) }

// WithinTx runs fn inside one read-committed transaction. Panics roll back and are re-raised.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) (err error) {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		finishTx(ctx, tx, &err)
	}()
	return fn(ctx, reposOn(tx))
}

// Transactional is always true for Postgres.
func (s *Store) Transactional() bool { return true }

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error { return s.db.Pool.Ping(ctx) }
