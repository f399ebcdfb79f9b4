package limiter

import (
	"context"
	"sync"
	"time"
)

type attempts struct {
	fails        int
	lastFailure  time.Time
	blockedUntil time.Time
}

// Memory is a process-local limiter with the same semantics as PG.
type Memory struct {
	mu  sync.Mutex
	cfg Config
	m   map[string]attempts
	now func() time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-memory limiter.
func NewMemory(cfg Config) *Memory {
	return &Memory{cfg: cfg, m: make(map[string]attempts), now: time.Now}
}

func memKey(username string, ipHash []byte) string { return username + "\x00" + string(ipHash) }

// Allow reports whether (username, ip) is currently unblocked.
func (l *Memory) Allow(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.m[memKey(username, ipHash)]
	if left := a.blockedUntil.Sub(l.now()); left > 0 {
		return false, left, nil
	}
	return true, 0, nil
}

// Success forgets recorded failures.
func (l *Memory) Success(_ context.Context, username string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, memKey(username, ipHash))
	return nil
}

// Failure counts a failure within the window and blocks at the threshold.
func (l *Memory) Failure(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	k := memKey(username, ipHash)
	a := l.m[k]
	if now.Sub(a.lastFailure) > l.cfg.Window {
		a.fails = 0
	}
	a.fails++
	a.lastFailure = now
	blocked := a.fails >= l.cfg.MaxFails
	if blocked {
		a.blockedUntil = now.Add(l.cfg.BlockFor)
	}
	l.m[k] = a
	if blocked {
		return true, l.cfg.BlockFor, nil
	}
	return false, 0, nil
}
