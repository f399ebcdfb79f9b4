package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/model"
	"github.com/and161185/score-store/internal/repository"
)

func TestLedger_BalanceEqualsSumOfEntriesUnderConcurrency(t *testing.T) {
	t.Parallel()

	s := New()
	led := s.Repos().Ledger
	ctx := context.Background()
	floor := int64(0)

	_, err := led.ApplyDelta(ctx, model.Delta{Identity: "wx-a", Amount: 1000, Reason: model.ReasonGrant})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				amt := int64(-7)
				if (w+i)%3 == 0 {
					amt = 5
				}
				_, _ = led.ApplyDelta(ctx, model.Delta{Identity: "wx-a", Amount: amt, Reason: model.ReasonPurchase, Floor: &floor})
			}
		}(w)
	}
	wg.Wait()

	bal, err := led.Balance(ctx, "wx-a")
	require.NoError(t, err)
	require.GreaterOrEqual(t, bal, int64(0))

	entries, err := led.Entries(ctx, "wx-a", 0)
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	require.Equal(t, bal, sum)
}

func TestLedger_FloorRejectsWithoutEffect(t *testing.T) {
	t.Parallel()

	led := New().Repos().Ledger
	ctx := context.Background()
	floor := int64(0)

	_, err := led.Balance(ctx, "wx-a")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = led.ApplyDelta(ctx, model.Delta{Identity: "wx-a", Amount: 30, Reason: model.ReasonGrant})
	require.NoError(t, err)
	_, err = led.ApplyDelta(ctx, model.Delta{Identity: "wx-a", Amount: -35, Reason: model.ReasonPurchase, Floor: &floor})
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	bal, err := led.Balance(ctx, "wx-a")
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal)
	entries, err := led.Entries(ctx, "wx-a", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_OverflowRejectedWithoutEffect(t *testing.T) {
	t.Parallel()

	led := New().Repos().Ledger
	ctx := context.Background()
	big := int64(1) << 62

	_, err := led.ApplyDelta(ctx, model.Delta{Identity: "wx-a", Amount: big, Reason: model.ReasonGrant})
	require.NoError(t, err)
	_, err = led.ApplyDelta(ctx, model.Delta{Identity: "wx-a", Amount: big, Reason: model.ReasonGrant})
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	bal, err := led.Balance(ctx, "wx-a")
	require.NoError(t, err)
	assert.Equal(t, big, bal)

	_, err = led.ApplyDelta(ctx, model.Delta{Identity: "wx-b", Amount: -big, Reason: model.ReasonGrant})
	require.NoError(t, err)
	_, err = led.ApplyDelta(ctx, model.Delta{Identity: "wx-b", Amount: -big - 1, Reason: model.ReasonGrant})
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	entries, err := led.Entries(ctx, "wx-a", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPending_Lifecycle(t *testing.T) {
	t.Parallel()

	r := New().Repos().Pending
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ttl := 10 * time.Minute
	p := &model.PendingRegistration{Username: "alice", Code: "c1", CreatedAt: t0}

	require.NoError(t, r.Create(ctx, p, t0.Add(-ttl)))
	require.ErrorIs(t, r.Create(ctx, p, t0.Add(-ttl)), errs.ErrAlreadyExists)

	got, err := r.GetByUsername(ctx, "alice", t0.Add(-ttl))
	require.NoError(t, err)
	require.Equal(t, "c1", got.Code)

	require.NoError(t, r.RotateCode(ctx, "alice", "c1", "c2", t0.Add(time.Minute)))
	require.ErrorIs(t, r.RotateCode(ctx, "alice", "c1", "c3", t0.Add(time.Minute)), errs.ErrVersionConflict)

	// expired rows are invisible and can be taken over
	later := t0.Add(time.Minute + ttl)
	_, err = r.GetByUsername(ctx, "alice", later.Add(-ttl))
	require.ErrorIs(t, err, errs.ErrNotFound)
	p2 := &model.PendingRegistration{Username: "alice", Code: "n1", CreatedAt: later}
	require.NoError(t, r.Create(ctx, p2, later.Add(-ttl)))

	require.ErrorIs(t, r.Delete(ctx, "alice", "c2"), errs.ErrNotFound)
	require.NoError(t, r.Delete(ctx, "alice", "n1"))
	require.ErrorIs(t, r.Delete(ctx, "alice", "n1"), errs.ErrNotFound)
}

func TestPending_DeleteExpired(t *testing.T) {
	t.Parallel()

	r := New().Repos().Pending
	ctx := context.Background()
	t0 := time.Now()
	require.NoError(t, r.Create(ctx, &model.PendingRegistration{Username: "old", Code: "a", CreatedAt: t0.Add(-time.Hour)}, t0.Add(-2*time.Hour)))
	require.NoError(t, r.Create(ctx, &model.PendingRegistration{Username: "new", Code: "b", CreatedAt: t0}, t0.Add(-2*time.Hour)))

	n, err := r.DeleteExpired(ctx, t0.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	_, err = r.GetByUsername(ctx, "new", t0.Add(-10*time.Minute))
	require.NoError(t, err)
}

func TestAccountsAndCredentials(t *testing.T) {
	t.Parallel()

	s := New()
	r := s.Repos()
	ctx := context.Background()

	require.ErrorIs(t, r.Credentials.Create(ctx, "alice", []byte("h1"), time.Now()), errs.ErrNotFound)

	require.NoError(t, r.Accounts.Create(ctx, &model.Account{Username: "alice", Identity: "wx-a"}))
	require.ErrorIs(t, r.Accounts.Create(ctx, &model.Account{Username: "alice", Identity: "wx-b"}), errs.ErrAlreadyExists)

	require.NoError(t, r.Credentials.Create(ctx, "alice", []byte("h1"), time.Now()))
	require.NoError(t, r.Credentials.Create(ctx, "alice", []byte("h2"), time.Now()))

	a, err := r.Credentials.Lookup(ctx, "alice", []byte("h2"))
	require.NoError(t, err)
	require.Equal(t, "wx-a", a.Identity)

	_, err = r.Credentials.Lookup(ctx, "bob", []byte("h1"))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGoods(t *testing.T) {
	t.Parallel()

	r := New().Repos().Goods
	ctx := context.Background()

	id1, err := r.Create(ctx, &model.Good{Name: "A", Price: 10, Owner: "wx-s1"})
	require.NoError(t, err)
	id2, err := r.Create(ctx, &model.Good{Name: "B", Price: 5, Owner: "wx-s2"})
	require.NoError(t, err)
	_, err = r.Create(ctx, &model.Good{Name: "A", Price: 1, Owner: "wx-s3"})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	got, err := r.GetMany(ctx, []int64{id1, id2, 99})
	require.NoError(t, err)
	require.Len(t, got, 2)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{id1, id2}, []int64{list[0].ID, list[1].ID})

	require.NoError(t, r.Delete(ctx, id1))
	require.ErrorIs(t, r.Delete(ctx, id1), errs.ErrNotFound)
}

func TestWithinTx_CanceledContext(t *testing.T) {
	t.Parallel()

	s := New()
	require.False(t, s.Transactional())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(context.Context, repository.Repos) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
