package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/score-store/internal/limiter"
	"github.com/and161185/score-store/internal/model"
	"github.com/and161185/score-store/internal/repository"
	"github.com/and161185/score-store/internal/repository/memory"
)

var errInjected = errors.New("injected storage failure")

// faultyStore wraps a store and can fail the n-th ledger write or every order write.
type faultyStore struct {
	repository.Store

	mu            sync.Mutex
	failLedgerAt  int // 1-based ApplyDelta call inside WithinTx, 0 never
	failOrders    bool
	transactional bool
	ledgerCalls   int
	orders        int

	failAccounts    bool
	failCredentials bool
	afterDelete     func() // runs once a pending row was deleted inside WithinTx
}

func (f *faultyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) error {
	return f.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		r.Ledger = &faultyLedger{LedgerRepository: r.Ledger, f: f}
		r.Orders = &countingOrders{OrderRepository: r.Orders, f: f}
		r.Accounts = &faultyAccounts{AccountRepository: r.Accounts, f: f}
		r.Credentials = &faultyCredentials{CredentialRepository: r.Credentials, f: f}
		r.Pending = &hookedPending{PendingRepository: r.Pending, f: f}
		return fn(ctx, r)
	})
}

func (f *faultyStore) setFailAccounts(v bool) {
	f.mu.Lock()
	f.failAccounts = v
	f.mu.Unlock()
}

type faultyAccounts struct {
	repository.AccountRepository
	f *faultyStore
}

func (a *faultyAccounts) Create(ctx context.Context, acct *model.Account) error {
	a.f.mu.Lock()
	fail := a.f.failAccounts
	a.f.mu.Unlock()
	if fail {
		return errInjected
	}
	return a.AccountRepository.Create(ctx, acct)
}

type faultyCredentials struct {
	repository.CredentialRepository
	f *faultyStore
}

func (c *faultyCredentials) Create(ctx context.Context, username string, tokenHash []byte, issuedAt time.Time) error {
	c.f.mu.Lock()
	fail := c.f.failCredentials
	c.f.mu.Unlock()
	if fail {
		return errInjected
	}
	return c.CredentialRepository.Create(ctx, username, tokenHash, issuedAt)
}

type hookedPending struct {
	repository.PendingRepository
	f *faultyStore
}

func (p *hookedPending) Delete(ctx context.Context, username, code string) error {
	if err := p.PendingRepository.Delete(ctx, username, code); err != nil {
		return err
	}
	if p.f.afterDelete != nil {
		p.f.afterDelete()
	}
	return nil
}

func (f *faultyStore) Transactional() bool { return f.transactional }

func (f *faultyStore) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders
}

type faultyLedger struct {
	repository.LedgerRepository
	f *faultyStore
}

func (l *faultyLedger) ApplyDelta(ctx context.Context, d model.Delta) (int64, error) {
	l.f.mu.Lock()
	l.f.ledgerCalls++
	fail := l.f.ledgerCalls == l.f.failLedgerAt
	l.f.mu.Unlock()
	if fail {
		return 0, errInjected
	}
	return l.LedgerRepository.ApplyDelta(ctx, d)
}

type countingOrders struct {
	repository.OrderRepository
	f *faultyStore
}

func (o *countingOrders) Create(ctx context.Context, ord *model.Order) error {
	if o.f.failOrders {
		return errInjected
	}
	if err := o.OrderRepository.Create(ctx, ord); err != nil {
		return err
	}
	o.f.mu.Lock()
	o.f.orders++
	o.f.mu.Unlock()
	return nil
}

type shop struct {
	store *faultyStore
	repos repository.Repos
	auth  *AuthServiceImpl
	led   *LedgerServiceImpl
}

func newShop(t *testing.T) *shop {
	t.Helper()
	mem := memory.New()
	fs := &faultyStore{Store: mem}
	r := mem.Repos()
	return &shop{
		store: fs,
		repos: r,
		auth:  NewAuthService(r.Accounts, r.Credentials, limiter.NewMemory(limiter.DefaultConfig())),
		led:   NewLedgerService(r.Accounts, r.Ledger),
	}
}

// user creates a confirmed account with an initial grant and returns its token.
func (s *shop) user(t *testing.T, username, identity string, grant int64) string {
	t.Helper()
	ctx := context.Background()
	acct := &model.Account{Username: username, Identity: identity, CreatedAt: time.Now()}
	require.NoError(t, s.repos.Accounts.Create(ctx, acct))
	cred, err := s.auth.Issue(ctx, acct)
	require.NoError(t, err)
	if grant != 0 {
		_, err = s.led.ApplyDelta(ctx, identity, grant, model.ReasonGrant)
		require.NoError(t, err)
	}
	return cred.Token
}

func (s *shop) good(t *testing.T, name string, price int64, owner string) int64 {
	t.Helper()
	id, err := s.repos.Goods.Create(context.Background(), &model.Good{Name: name, Price: price, Owner: owner})
	require.NoError(t, err)
	return id
}

func (s *shop) balance(t *testing.T, identity string) int64 {
	t.Helper()
	bal, _, err := s.led.BalanceOf(context.Background(), identity)
	require.NoError(t, err)
	return bal
}

// requireLedgerConsistent checks balance == sum of entries for identity.
func (s *shop) requireLedgerConsistent(t *testing.T, identity string) {
	t.Helper()
	entries, err := s.repos.Ledger.Entries(context.Background(), identity, 0)
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	require.Equal(t, s.balance(t, identity), sum, "ledger of %s", identity)
}
