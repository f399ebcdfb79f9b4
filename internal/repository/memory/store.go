// Package memory is a process-local storage backend for development and tests.
// Units of work are serialized but cannot be rolled back.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/model"
	"github.com/and161185/score-store/internal/repository"
)

type credential struct {
	username string
	hash     []byte
	issuedAt time.Time
}

// Store keeps every table in maps behind one mutex.
type Store struct {
	txMu sync.Mutex // serializes WithinTx callers

	mu          sync.RWMutex
	pending     map[string]model.PendingRegistration
	accounts    map[string]model.Account
	credentials []credential
	goods       map[int64]model.Good
	nextGoodID  int64
	orders      map[string]model.Order
	balances    map[string]int64
	entries     []model.LedgerEntry
	now         func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New constructs an empty store.
func New() *Store {
	return &Store{
		pending:  make(map[string]model.PendingRegistration),
		accounts: make(map[string]model.Account),
		goods:    make(map[int64]model.Good),
		orders:   make(map[string]model.Order),
		balances: make(map[string]int64),
		now:      time.Now,
	}
}

// Repos returns repositories over this store.
func (s *Store) Repos() repository.Repos {
	return repository.Repos{
		Pending:     pendingRepo{s},
		Accounts:    accountRepo{s},
		Credentials: credentialRepo{s},
		Goods:       goodRepo{s},
		Orders:      orderRepo{s},
		Ledger:      ledgerRepo{s},
	}
}

// WithinTx runs fn while holding the unit-of-work lock.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, s.Repos())
}

// Transactional is false: callers must compensate partial work themselves.
func (s *Store) Transactional() bool { return false }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type pendingRepo struct{ s *Store }

func (r pendingRepo) Create(ctx context.Context, p *model.PendingRegistration, expiredBefore time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cur, ok := r.s.pending[p.Username]; ok && cur.RefreshedAt.After(expiredBefore) {
		return errs.ErrAlreadyExists
	}
	cp := clonePending(*p)
	cp.RefreshedAt = cp.CreatedAt
	r.s.pending[p.Username] = cp
	return nil
}

func (r pendingRepo) GetByUsername(ctx context.Context, username string, notBefore time.Time) (*model.PendingRegistration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.pending[username]
	if !ok || !p.RefreshedAt.After(notBefore) {
		return nil, errs.ErrNotFound
	}
	cp := clonePending(p)
	return &cp, nil
}

func (r pendingRepo) RotateCode(ctx context.Context, username, oldCode, newCode string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pending[username]
	if !ok || p.Code != oldCode {
		return errs.ErrVersionConflict
	}
	p.Code = newCode
	p.RefreshedAt = at
	r.s.pending[username] = p
	return nil
}

func (r pendingRepo) Delete(ctx context.Context, username, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pending[username]
	if !ok || p.Code != code {
		return errs.ErrNotFound
	}
	delete(r.s.pending, username)
	return nil
}

func (r pendingRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for name, p := range r.s.pending {
		if !p.RefreshedAt.After(before) {
			delete(r.s.pending, name)
			n++
		}
	}
	return n, nil
}

func clonePending(p model.PendingRegistration) model.PendingRegistration {
	p.PwdHash = bytes.Clone(p.PwdHash)
	p.Salt = bytes.Clone(p.Salt)
	p.SessionHash = bytes.Clone(p.SessionHash)
	return p
}

type accountRepo struct{ s *Store }

func (r accountRepo) Create(ctx context.Context, a *model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[a.Username]; ok {
		return errs.ErrAlreadyExists
	}
	cp := cloneAccount(*a)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.s.now()
	}
	r.s.accounts[a.Username] = cp
	return nil
}

func (r accountRepo) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.accounts[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := cloneAccount(a)
	return &cp, nil
}

func cloneAccount(a model.Account) model.Account {
	a.PwdHash = bytes.Clone(a.PwdHash)
	a.Salt = bytes.Clone(a.Salt)
	return a
}

type credentialRepo struct{ s *Store }

func (r credentialRepo) Create(ctx context.Context, username string, tokenHash []byte, issuedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[username]; !ok {
		return errs.ErrNotFound
	}
	for _, c := range r.s.credentials {
		if bytes.Equal(c.hash, tokenHash) {
			return errs.ErrAlreadyExists
		}
	}
	r.s.credentials = append(r.s.credentials, credential{username: username, hash: bytes.Clone(tokenHash), issuedAt: issuedAt})
	return nil
}

func (r credentialRepo) Lookup(ctx context.Context, username string, tokenHash []byte) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.credentials {
		if c.username == username && bytes.Equal(c.hash, tokenHash) {
			a, ok := r.s.accounts[username]
			if !ok {
				break
			}
			cp := cloneAccount(a)
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

type goodRepo struct{ s *Store }

func (r goodRepo) Create(ctx context.Context, g *model.Good) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cur := range r.s.goods {
		if cur.Name == g.Name {
			return 0, errs.ErrAlreadyExists
		}
	}
	r.s.nextGoodID++
	cp := *g
	cp.ID = r.s.nextGoodID
	cp.CreatedAt = r.s.now()
	r.s.goods[cp.ID] = cp
	return cp.ID, nil
}

func (r goodRepo) GetMany(ctx context.Context, ids []int64) (map[int64]model.Good, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[int64]model.Good, len(ids))
	for _, id := range ids {
		if g, ok := r.s.goods[id]; ok {
			out[id] = g
		}
	}
	return out, nil
}

func (r goodRepo) List(ctx context.Context) ([]model.Good, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.Good, 0, len(r.s.goods))
	for _, g := range r.s.goods {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r goodRepo) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.goods[id]; !ok {
		return errs.ErrNotFound
	}
	delete(r.s.goods, id)
	return nil
}

type orderRepo struct{ s *Store }

func (r orderRepo) Create(ctx context.Context, o *model.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := o.ID.String()
	if _, ok := r.s.orders[key]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *o
	cp.Lines = append([]model.OrderLine(nil), o.Lines...)
	r.s.orders[key] = cp
	return nil
}

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) Balance(ctx context.Context, identity string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	bal, ok := r.s.balances[identity]
	if !ok {
		return 0, errs.ErrNotFound
	}
	return bal, nil
}

func (r ledgerRepo) ApplyDelta(ctx context.Context, d model.Delta) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur := r.s.balances[d.Identity]
	if (d.Amount > 0 && cur > math.MaxInt64-d.Amount) || (d.Amount < 0 && cur < math.MinInt64-d.Amount) {
		return 0, fmt.Errorf("balance %d %+d out of range: %w", cur, d.Amount, errs.ErrInvalidInput)
	}
	next := cur + d.Amount
	if d.Floor != nil && d.Amount < 0 && next < *d.Floor {
		return 0, errs.ErrInsufficientFunds
	}
	r.s.balances[d.Identity] = next
	r.s.entries = append(r.s.entries, model.LedgerEntry{
		ID:       int64(len(r.s.entries) + 1),
		Time:     r.s.now(),
		Identity: d.Identity,
		Reason:   d.Reason,
		Delta:    d.Amount,
		Ref:      d.Ref,
	})
	return next, nil
}

func (r ledgerRepo) Entries(ctx context.Context, identity string, limit int) ([]model.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.LedgerEntry
	for i := len(r.s.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.s.entries[i].Identity == identity {
			out = append(out, r.s.entries[i])
		}
	}
	return out, nil
}
