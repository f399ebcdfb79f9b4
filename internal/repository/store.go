package repository

import "context"

// Repos bundles repositories bound to the same connection or transaction.
type Repos struct {
	Pending     PendingRepository
	Accounts    AccountRepository
	Credentials CredentialRepository
	Goods       GoodRepository
	Orders      OrderRepository
	Ledger      LedgerRepository
}

// Store is a storage backend with a unit-of-work boundary.
type Store interface {
	// Repos returns repositories operating outside any unit of work.
	Repos() Repos
	// WithinTx runs fn with repositories bound to a single unit of work.
	// When fn returns an error, a transactional store rolls back everything fn did.
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	// Transactional reports whether WithinTx can roll back. Callers compensate when it cannot.
	Transactional() bool
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}
