package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"sentra.org/internal/identity"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestFindUserLoadsRoles(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("select id, username, email, password_hash.*from users where id=").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "email_verified", "blocked", "created_at", "updated_at"}).
			AddRow("u1", "alice", "alice@example.com", "hash", true, false, now, now))
	mock.ExpectQuery("select role_name from user_roles").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"role_name"}).AddRow("MANAGER").AddRow("USER"))

	u, err := s.FindUser(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Username != "alice" || len(u.Roles) != 2 {
		t.Fatalf("user = %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindUserNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("select id, username, email, password_hash.*from users where id=").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.FindUser(context.Background(), "ghost"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUserUniqueViolation(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.CreateUser(context.Background(), &identity.User{ID: "u1", Username: "alice", Email: "a@example.com"})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetStageCAS(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec("update sessions set stage=").
		WithArgs("s1", "AWAITING_2FA", "AUTHENTICATED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.SetStage(ctx, "s1", identity.StageAwaiting2FA, identity.StageAuthenticated); err != nil {
		t.Fatal(err)
	}

	// Zero rows affected means the stored stage did not match.
	mock.ExpectExec("update sessions set stage=").
		WithArgs("s1", "AWAITING_2FA", "AUTHENTICATED").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.SetStage(ctx, "s1", identity.StageAwaiting2FA, identity.StageAuthenticated); !errors.Is(err, identity.ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestIncrementAttemptsReturnsNewCount(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("update two_factor_challenges set attempt_count").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}).AddRow(2))

	n, err := s.IncrementAttempts(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("attempts = %d", n)
	}
}

func TestIncrementAttemptsMissingChallenge(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("update two_factor_challenges set attempt_count").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}))

	if _, err := s.IncrementAttempts(context.Background(), "ghost"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
