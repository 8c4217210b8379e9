package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"sentra.org/internal/jit"
)

func TestTransitionCAS(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	now := time.Now().UTC()
	upd := jit.StatusUpdate{DecidedBy: "admin-1", DecidedAt: now, ExpiresAt: now.Add(15 * time.Minute)}

	mock.ExpectExec("update access_requests").
		WithArgs("r1", "PENDING", "APPROVED", "admin-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Transition(ctx, "r1", jit.StatusPending, jit.StatusApproved, upd); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionLostRace(t *testing.T) {
	s, mock := newMock(t)

	// Zero rows affected with an existing row means the status moved on.
	mock.ExpectExec("update access_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select status from access_requests").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("REVOKED"))

	err := s.Transition(context.Background(), "r1", jit.StatusApproved, jit.StatusExpired, jit.StatusUpdate{})
	if !errors.Is(err, jit.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestTransitionMissingRequest(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("update access_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select status from access_requests").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := s.Transition(context.Background(), "ghost", jit.StatusPending, jit.StatusApproved, jit.StatusUpdate{})
	if !errors.Is(err, jit.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRequestOpenTupleConflict(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("insert into access_requests").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateRequest(context.Background(), &jit.AccessRequest{
		ID: "r1", UserID: "u1", ResourceType: "document", ResourceID: "d1",
		Reason: "r", DurationMinutes: 15, Status: jit.StatusPending, RequestedAt: time.Now().UTC(),
	})
	if !errors.Is(err, jit.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestFindOpenRequestScansNullableColumns(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "resource_type", "resource_id", "reason",
		"duration_minutes", "status", "requested_at", "decided_at", "decided_by", "expires_at",
	}).AddRow("r1", "u1", "document", "d1", "need", 15, "PENDING", now, nil, nil, nil)

	mock.ExpectQuery("select id, user_id, resource_type").
		WithArgs("u1", "document", "d1").
		WillReturnRows(rows)

	req, err := s.FindOpenRequest(context.Background(), "u1", "document", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !req.DecidedAt.IsZero() || req.DecidedBy != "" || !req.ExpiresAt.IsZero() {
		t.Fatalf("nullable columns must map to zero values: %+v", req)
	}
}
