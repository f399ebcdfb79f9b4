package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/model"
)

var accountCols = []string{"username", "identity", "pwd_hash", "salt", "created_at"}

func TestAccountRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()
	a := &model.Account{Username: "alice", Identity: "wx-a", PwdHash: []byte("h"), Salt: []byte("s"), CreatedAt: time.Now()}

	mock.ExpectExec(`INSERT INTO accounts \(username, identity, pwd_hash, salt, created_at\)`).
		WithArgs(a.Username, a.Identity, a.PwdHash, a.Salt, a.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, a))

	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(a.Username, a.Identity, a.PwdHash, a.Salt, a.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, a), errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepo_GetByUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT username, identity, pwd_hash, salt, created_at FROM accounts WHERE username=\$1`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(accountCols).AddRow("alice", "wx-a", []byte("h"), []byte("s"), time.Now()))
	a, err := r.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "wx-a", a.Identity)

	mock.ExpectQuery(`FROM accounts WHERE username=\$1`).
		WithArgs("bob").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByUsername(ctx, "bob")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_CreateAndLookup(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCredentialRepo(db)
	ctx := context.Background()
	hash := []byte("token-hash")
	at := time.Now()

	mock.ExpectExec(`INSERT INTO credentials \(token_hash, username, issued_at\)`).
		WithArgs(hash, "alice", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, "alice", hash, at))

	mock.ExpectQuery(`FROM credentials c JOIN accounts a`).
		WithArgs("alice", hash).
		WillReturnRows(pgxmock.NewRows(accountCols).AddRow("alice", "wx-a", []byte("h"), []byte("s"), at))
	a, err := r.Lookup(ctx, "alice", hash)
	require.NoError(t, err)
	require.Equal(t, "alice", a.Username)

	mock.ExpectQuery(`FROM credentials c JOIN accounts a`).
		WithArgs("alice", []byte("other")).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Lookup(ctx, "alice", []byte("other"))
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPendingRepo(db)
	ctx := context.Background()
	now := time.Now()
	cutoff := now.Add(-10 * time.Minute)
	p := &model.PendingRegistration{
		Username: "alice", PwdHash: []byte("h"), Salt: []byte("s"),
		Code: "c1", SessionHash: []byte("sh"), CreatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO pending_registrations .* ON CONFLICT \(username\) DO UPDATE`).
		WithArgs(p.Username, p.PwdHash, p.Salt, p.Code, p.SessionHash, p.CreatedAt, cutoff).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, p, cutoff))

	// live row: the conditional upsert touches nothing
	mock.ExpectExec(`INSERT INTO pending_registrations`).
		WithArgs(p.Username, p.PwdHash, p.Salt, p.Code, p.SessionHash, p.CreatedAt, cutoff).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	require.ErrorIs(t, r.Create(ctx, p, cutoff), errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingRepo_GetByUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPendingRepo(db)
	ctx := context.Background()
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	mock.ExpectQuery(`FROM pending_registrations WHERE username=\$1 AND refreshed_at > \$2`).
		WithArgs("alice", cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"username", "pwd_hash", "salt", "code", "session_hash", "created_at", "refreshed_at"}).
			AddRow("alice", []byte("h"), []byte("s"), "c1", []byte("sh"), now, now))
	p, err := r.GetByUsername(ctx, "alice", cutoff)
	require.NoError(t, err)
	require.Equal(t, "c1", p.Code)

	mock.ExpectQuery(`FROM pending_registrations`).
		WithArgs("alice", cutoff).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByUsername(ctx, "alice", cutoff)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingRepo_RotateCode_CAS(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPendingRepo(db)
	ctx := context.Background()
	at := time.Now()

	mock.ExpectExec(`UPDATE pending_registrations SET code = \$3, refreshed_at = \$4 WHERE username = \$1 AND code = \$2`).
		WithArgs("alice", "c1", "c2", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.RotateCode(ctx, "alice", "c1", "c2", at))

	mock.ExpectExec(`UPDATE pending_registrations`).
		WithArgs("alice", "c1", "c3", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.RotateCode(ctx, "alice", "c1", "c3", at), errs.ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingRepo_DeleteAndSweep(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPendingRepo(db)
	ctx := context.Background()
	before := time.Now()

	mock.ExpectExec(`DELETE FROM pending_registrations WHERE username=\$1 AND code=\$2`).
		WithArgs("alice", "c2").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Delete(ctx, "alice", "c2"))

	mock.ExpectExec(`DELETE FROM pending_registrations WHERE username=\$1 AND code=\$2`).
		WithArgs("alice", "c2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, r.Delete(ctx, "alice", "c2"), errs.ErrNotFound)

	mock.ExpectExec(`DELETE FROM pending_registrations WHERE refreshed_at <= \$1`).
		WithArgs(before).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	n, err := r.DeleteExpired(ctx, before)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
