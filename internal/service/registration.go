package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/score-store/internal/crypto"
	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/metrics"
	"github.com/and161185/score-store/internal/model"
	"github.com/and161185/score-store/internal/repository"
)

// MessageFinder looks up the sender of a chat message. *feed.Feed implements it.
type MessageFinder interface {
	FindIdentityByText(text string) (string, bool)
}

// SignupResult carries the session seed and the code the user must send over chat.
type SignupResult struct {
	LoginToken  string
	ConfirmText string
}

// VerifyResult is the outcome of one confirmation poll.
// When Confirmed is false, Code is the code the user must send next.
type VerifyResult struct {
	Confirmed bool
	Code      string
}

// RegistrationService runs the chat-confirmed signup handshake.
type RegistrationService interface {
	// Signup stores a pending registration and returns its session seed and first code.
	Signup(ctx context.Context, username, password string) (SignupResult, error)
	// PollVerify checks the feed for the current code and promotes or rotates.
	PollVerify(ctx context.Context, username string) (VerifyResult, error)
	// SweepExpired purges pending registrations past their TTL.
	SweepExpired(ctx context.Context) (int64, error)
}

type RegistrationServiceImpl struct {
	store  repository.Store
	feed   MessageFinder
	marker string
	ttl    time.Duration
	now    func() time.Time
}

// NewRegistrationService wires the handshake. marker prefixes the code in the expected chat message.
func NewRegistrationService(store repository.Store, feed MessageFinder, marker string, ttl time.Duration) *RegistrationServiceImpl {
	return &RegistrationServiceImpl{store: store, feed: feed, marker: marker, ttl: ttl, now: time.Now}
}

// Signup rejects taken usernames and live pending signups with errs.ErrAlreadyExists.
func (s *RegistrationServiceImpl) Signup(ctx context.Context, username, password string) (SignupResult, error) {
	if username == "" || password == "" {
		return SignupResult{}, fmt.Errorf("empty username/password: %w", errs.ErrInvalidInput)
	}
	pwdHash, salt, err := pkgcrypto.NewPasswordHash(password)
	if err != nil {
		return SignupResult{}, err
	}
	code, err := pkgcrypto.NewCode()
	if err != nil {
		return SignupResult{}, err
	}
	seed, err := pkgcrypto.NewToken()
	if err != nil {
		return SignupResult{}, err
	}

	now := s.now()
	p := &model.PendingRegistration{
		Username:    username,
		PwdHash:     pwdHash,
		Salt:        salt,
		Code:        code,
		SessionHash: pkgcrypto.HashToken(seed),
		CreatedAt:   now,
		RefreshedAt: now,
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		if err := accountFree(ctx, r, username); err != nil {
			return err
		}
		if err := r.Pending.Create(ctx, p, now.Add(-s.ttl)); err != nil {
			return err
		}
		if s.store.Transactional() {
			// a promotion may have committed while Create waited on the row lock
			return accountFree(ctx, r, username)
		}
		return nil
	})
	if err != nil {
		return SignupResult{}, err
	}
	return SignupResult{LoginToken: seed, ConfirmText: code}, nil
}

func accountFree(ctx context.Context, r repository.Repos, username string) error {
	_, err := r.Accounts.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return errs.ErrAlreadyExists
	case errors.Is(err, errs.ErrNotFound):
		return nil
	default:
		return err
	}
}

// PollVerify promotes the pending signup when the feed holds marker+code, otherwise rotates the code.
// Polls after a successful promotion report Confirmed without side effects.
func (s *RegistrationServiceImpl) PollVerify(ctx context.Context, username string) (VerifyResult, error) {
	var res VerifyResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		res, err = s.poll(ctx, r, username)
		return err
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return res, nil
}

func (s *RegistrationServiceImpl) poll(ctx context.Context, r repository.Repos, username string) (VerifyResult, error) {
	now := s.now()

	p, err := r.Pending.GetByUsername(ctx, username, now.Add(-s.ttl))
	if errors.Is(err, errs.ErrNotFound) {
		return s.settled(ctx, r, username)
	}
	if err != nil {
		return VerifyResult{}, err
	}

	identity, ok := s.feed.FindIdentityByText(s.marker + p.Code)
	if !ok {
		next, err := pkgcrypto.NewCode()
		if err != nil {
			return VerifyResult{}, err
		}
		err = r.Pending.RotateCode(ctx, username, p.Code, next, now)
		if errors.Is(err, errs.ErrVersionConflict) {
			// another poll rotated or promoted first
			return s.current(ctx, r, username)
		}
		if err != nil {
			return VerifyResult{}, err
		}
		metrics.VerifyPolls.WithLabelValues("rotated").Inc()
		return VerifyResult{Code: next}, nil
	}

	// the guarded delete admits exactly one promotion per code
	err = r.Pending.Delete(ctx, username, p.Code)
	if errors.Is(err, errs.ErrNotFound) {
		return s.current(ctx, r, username)
	}
	if err != nil {
		return VerifyResult{}, err
	}
	if !s.store.Transactional() {
		// the row is gone and nothing rolls back: finish or restore even if the caller left
		ctx = context.WithoutCancel(ctx)
	}
	acct := &model.Account{
		Identity:  identity,
		Username:  username,
		PwdHash:   p.PwdHash,
		Salt:      p.Salt,
		CreatedAt: now,
	}
	if err := r.Accounts.Create(ctx, acct); err != nil {
		return VerifyResult{}, s.restore(ctx, r, p, now, fmt.Errorf("promote %s: %w", username, err))
	}
	// an account without its session seed still logs in by password, so it is kept
	if err := r.Credentials.Create(ctx, username, p.SessionHash, now); err != nil {
		return VerifyResult{}, fmt.Errorf("promote %s: %w", username, err)
	}
	metrics.VerifyPolls.WithLabelValues("confirmed").Inc()
	return VerifyResult{Confirmed: true}, nil
}

// restore puts a deleted pending row back after a failed promotion on a store that cannot roll back.
func (s *RegistrationServiceImpl) restore(ctx context.Context, r repository.Repos, p *model.PendingRegistration, now time.Time, cause error) error {
	if s.store.Transactional() {
		return cause
	}
	back := *p
	back.CreatedAt = now
	back.RefreshedAt = now
	if err := r.Pending.Create(ctx, &back, now); err != nil {
		return errors.Join(cause, fmt.Errorf("restore pending %s: %w", p.Username, err))
	}
	return cause
}

// current reports the state left behind by a concurrent poll.
func (s *RegistrationServiceImpl) current(ctx context.Context, r repository.Repos, username string) (VerifyResult, error) {
	p, err := r.Pending.GetByUsername(ctx, username, s.now().Add(-s.ttl))
	if err == nil {
		metrics.VerifyPolls.WithLabelValues("rotated").Inc()
		return VerifyResult{Code: p.Code}, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return VerifyResult{}, err
	}
	return s.settled(ctx, r, username)
}

// settled handles a username with no live pending record.
func (s *RegistrationServiceImpl) settled(ctx context.Context, r repository.Repos, username string) (VerifyResult, error) {
	_, err := r.Accounts.GetByUsername(ctx, username)
	switch {
	case err == nil:
		metrics.VerifyPolls.WithLabelValues("confirmed").Inc()
		return VerifyResult{Confirmed: true}, nil
	case errors.Is(err, errs.ErrNotFound):
		metrics.VerifyPolls.WithLabelValues("unknown").Inc()
		return VerifyResult{}, errs.ErrNotFound
	default:
		return VerifyResult{}, err
	}
}

// SweepExpired removes pending registrations older than the TTL.
func (s *RegistrationServiceImpl) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.Repos().Pending.DeleteExpired(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, err
	}
	metrics.PendingSwept.Add(float64(n))
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *RegistrationServiceImpl) RunSweeper(ctx context.Context, every time.Duration, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("sweep pending registrations", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				log.Info("swept pending registrations", zap.Int64("removed", n))
			}
		}
	}
}
