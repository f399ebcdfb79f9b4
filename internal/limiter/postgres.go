package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter over the auth_limiter table.
// Timestamps come from the process clock so that PG and Memory agree on windows.
type PG struct {
	q   pgxQuerier
	cfg Config
	now func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Limiter = (*PG)(nil)

// NewPG constructs a PostgreSQL-backed limiter. Both *pgxpool.Pool and pgx.Tx qualify as q.
func NewPG(q pgxQuerier, cfg Config) *PG {
	return &PG{q: q, cfg: cfg, now: time.Now}
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE username=$1 AND ip_hash=$2`
	var blockedUntil time.Time
	err := l.q.QueryRow(ctx, q, username, ipHash).Scan(&blockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	case err != nil:
		return false, 0, err
	}
	if left := blockedUntil.Sub(l.now()); left > 0 {
		return false, left, nil
	}
	return true, 0, nil
}

// Success forgets recorded failures.
func (l *PG) Success(ctx context.Context, username string, ipHash []byte) error {
	_, err := l.q.Exec(ctx, `DELETE FROM auth_limiter WHERE username=$1 AND ip_hash=$2`, username, ipHash)
	return err
}

// Failure counts a failure and, at the threshold, sets the block in the same statement.
// A failure more than Window after the previous one restarts the count.
func (l *PG) Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO auth_limiter AS a (username, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, CASE WHEN 1 >= $4 THEN $5::timestamptz ELSE 'epoch' END, $3)
ON CONFLICT (username, ip_hash) DO UPDATE SET
  fail_count    = CASE WHEN $3 - a.updated_at > $6::interval THEN 1 ELSE a.fail_count + 1 END,
  blocked_until = CASE
                    WHEN (CASE WHEN $3 - a.updated_at > $6::interval THEN 1 ELSE a.fail_count + 1 END) >= $4 THEN $5::timestamptz
                    ELSE a.blocked_until
                  END,
  updated_at    = $3
RETURNING fail_count`
	now := l.now()
	var fails int
	err := l.q.QueryRow(ctx, q, username, ipHash, now, l.cfg.MaxFails, now.Add(l.cfg.BlockFor), l.cfg.Window).Scan(&fails)
	if err != nil {
		return false, 0, err
	}
	if fails < l.cfg.MaxFails {
		return false, 0, nil
	}
	return true, l.cfg.BlockFor, nil
}
