package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/metrics"
	"github.com/and161185/score-store/internal/model"
	"github.com/and161185/score-store/internal/repository"
)

// CartLine asks for Count units of a good. Repeated ids are independent lines.
type CartLine struct {
	GoodID int64
	Count  int64
}

// CheckoutResult describes a committed order.
type CheckoutResult struct {
	OrderID uuid.UUID
	Total   int64
	Balance int64 // buyer balance after the order
}

// CheckoutService moves points from a buyer to the sellers of the goods in a cart.
type CheckoutService interface {
	// Checkout either commits every posting and the order, or changes nothing.
	Checkout(ctx context.Context, username, token string, cart []CartLine) (CheckoutResult, error)
}

type CheckoutServiceImpl struct {
	auth       AuthService
	store      repository.Store
	minBalance int64
	log        *zap.Logger
	now        func() time.Time
}

// NewCheckoutService constructs the engine. A buyer may never end below minBalance.
func NewCheckoutService(auth AuthService, store repository.Store, minBalance int64, log *zap.Logger) *CheckoutServiceImpl {
	return &CheckoutServiceImpl{auth: auth, store: store, minBalance: minBalance, log: log, now: time.Now}
}

// Checkout authenticates, prices the cart, verifies funds and then posts inside one unit of work.
// Errors are errs.ErrUnauthorized, errs.ErrInvalidQuantity, *errs.UnknownGoodError,
// errs.ErrInsufficientFunds or errs.ErrLedgerUnavailable.
func (s *CheckoutServiceImpl) Checkout(ctx context.Context, username, token string, cart []CartLine) (CheckoutResult, error) {
	acct, err := s.auth.Authenticate(ctx, username, token)
	if err != nil {
		return CheckoutResult{}, err
	}
	for i, l := range cart {
		if l.Count < 0 {
			return CheckoutResult{}, fmt.Errorf("line[%d] good %d count %d: %w", i, l.GoodID, l.Count, errs.ErrInvalidQuantity)
		}
	}
	orderID, err := uuid.NewV4()
	if err != nil {
		return CheckoutResult{}, err
	}

	var res CheckoutResult
	err = s.store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		goods, err := r.Goods.GetMany(ctx, distinctIDs(cart))
		if err != nil {
			return err
		}
		q, err := buildQuote(cart, goods)
		if err != nil {
			return err
		}

		bal, err := r.Ledger.Balance(ctx, acct.Identity)
		if errors.Is(err, errs.ErrNotFound) {
			bal, err = 0, nil
		}
		if err != nil {
			return err
		}
		if !affordable(bal, q.total, s.minBalance) {
			return fmt.Errorf("balance %d, total %d, minimum %d: %w", bal, q.total, s.minBalance, errs.ErrInsufficientFunds)
		}

		ref := orderID.String()
		j := &journal{ledger: r.Ledger}
		if q.total > 0 {
			floor := s.minBalance
			bal, err = j.apply(ctx, model.Delta{
				Identity: acct.Identity, Amount: -q.total, Reason: model.ReasonPurchase, Ref: ref, Floor: &floor,
			})
			if err != nil {
				return s.abort(ctx, j, err)
			}
		}
		for _, c := range q.credits {
			c.Ref = ref
			nb, err := j.apply(ctx, c)
			if err != nil {
				return s.abort(ctx, j, err)
			}
			if c.Identity == acct.Identity {
				bal = nb
			}
		}

		o := &model.Order{ID: orderID, Buyer: acct.Identity, Total: q.total, Lines: q.lines, CreatedAt: s.now()}
		if err := r.Orders.Create(ctx, o); err != nil {
			return s.abort(ctx, j, err)
		}
		res = CheckoutResult{OrderID: orderID, Total: q.total, Balance: bal}
		return nil
	})
	if err != nil {
		err = classify(err)
		metrics.Checkouts.WithLabelValues(resultLabel(err)).Inc()
		return CheckoutResult{}, err
	}
	metrics.Checkouts.WithLabelValues("ok").Inc()
	return res, nil
}

// abort undoes applied postings when the store cannot roll back.
func (s *CheckoutServiceImpl) abort(ctx context.Context, j *journal, cause error) error {
	if s.store.Transactional() || len(j.applied) == 0 {
		return cause
	}
	// the reversal must run even when the request was canceled
	if err := j.revert(context.WithoutCancel(ctx)); err != nil {
		metrics.Compensations.WithLabelValues("failed").Inc()
		s.log.Error("checkout compensation failed; ledger needs manual repair",
			zap.Error(err), zap.NamedError("cause", cause), zap.Int("postings", len(j.applied)))
		return errors.Join(cause, err)
	}
	metrics.Compensations.WithLabelValues("ok").Inc()
	s.log.Warn("checkout compensated", zap.Error(cause), zap.Int("postings", len(j.applied)))
	return cause
}

type quote struct {
	total   int64
	lines   []model.OrderLine
	credits []model.Delta // one per seller, in order of first appearance
}

func buildQuote(cart []CartLine, goods map[int64]model.Good) (quote, error) {
	var q quote
	seller := make(map[string]int)
	q.lines = make([]model.OrderLine, 0, len(cart))
	for _, l := range cart {
		g, ok := goods[l.GoodID]
		if !ok {
			return quote{}, &errs.UnknownGoodError{ID: l.GoodID}
		}
		amt, ok := mulChecked(g.Price, l.Count)
		if !ok {
			return quote{}, fmt.Errorf("good %d x %d overflows: %w", l.GoodID, l.Count, errs.ErrInvalidQuantity)
		}
		if q.total, ok = addChecked(q.total, amt); !ok {
			return quote{}, fmt.Errorf("cart total overflows: %w", errs.ErrInvalidQuantity)
		}
		q.lines = append(q.lines, model.OrderLine{
			GoodID: g.ID, Name: g.Name, Count: l.Count, UnitPrice: g.Price, Seller: g.Owner,
		})
		if amt == 0 {
			continue
		}
		i, seen := seller[g.Owner]
		if !seen {
			i = len(q.credits)
			seller[g.Owner] = i
			q.credits = append(q.credits, model.Delta{Identity: g.Owner, Reason: model.ReasonSale})
		}
		// bounded by total, cannot overflow
		q.credits[i].Amount += amt
	}
	return q, nil
}

func distinctIDs(cart []CartLine) []int64 {
	seen := make(map[int64]struct{}, len(cart))
	ids := make([]int64, 0, len(cart))
	for _, l := range cart {
		if _, ok := seen[l.GoodID]; ok {
			continue
		}
		seen[l.GoodID] = struct{}{}
		ids = append(ids, l.GoodID)
	}
	return ids
}

// affordable reports whether balance-total stays at or above minimum.
func affordable(balance, total, minimum int64) bool {
	if total < 0 || balance < math.MinInt64+total {
		return false
	}
	return balance-total >= minimum
}

func mulChecked(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

func addChecked(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// classify keeps domain failures as they are and marks everything else as a ledger failure.
func classify(err error) error {
	switch {
	case errors.Is(err, errs.ErrUnknownGood),
		errors.Is(err, errs.ErrInvalidQuantity),
		errors.Is(err, errs.ErrInsufficientFunds),
		errors.Is(err, errs.ErrUnauthorized):
		return err
	default:
		return fmt.Errorf("%w: %w", errs.ErrLedgerUnavailable, err)
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, errs.ErrUnknownGood):
		return "unknown_good"
	case errors.Is(err, errs.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, errs.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "ledger_unavailable"
	}
}

// journal records applied postings so they can be reversed.
type journal struct {
	ledger  repository.LedgerRepository
	applied []model.Delta
}

func (j *journal) apply(ctx context.Context, d model.Delta) (int64, error) {
	bal, err := j.ledger.ApplyDelta(ctx, d)
	if err != nil {
		return 0, err
	}
	j.applied = append(j.applied, d)
	observePosting(d.Reason, d.Amount)
	return bal, nil
}

// revert posts the negation of every applied delta, newest first.
func (j *journal) revert(ctx context.Context) error {
	var failed []error
	for i := len(j.applied) - 1; i >= 0; i-- {
		d := j.applied[i]
		rev := model.Delta{Identity: d.Identity, Amount: -d.Amount, Reason: model.ReasonReversal, Ref: d.Ref}
		if _, err := j.ledger.ApplyDelta(ctx, rev); err != nil {
			failed = append(failed, fmt.Errorf("reverse %s %d: %w", d.Identity, d.Amount, err))
			continue
		}
		observePosting(rev.Reason, rev.Amount)
	}
	return errors.Join(failed...)
}
