package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentra.org/internal/jit"
)

// --- jit.RequestStore ---

func (s *Store) CreateRequest(ctx context.Context, r *jit.AccessRequest) error {
	_, err := s.db.ExecContext(ctx, `
		insert into access_requests(id, user_id, resource_type, resource_id, reason, duration_minutes, status, requested_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, r.ID, r.UserID, r.ResourceType, r.ResourceID, r.Reason, r.DurationMinutes, string(r.Status), r.RequestedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: an open request already exists for this resource", jit.ErrConflict)
	}
	return err
}

func (s *Store) FindRequest(ctx context.Context, id string) (*jit.AccessRequest, error) {
	return s.scanRequest(s.db.QueryRowContext(ctx, selectRequest+` where id=$1`, id))
}

func (s *Store) FindOpenRequest(ctx context.Context, userID, resourceType, resourceID string) (*jit.AccessRequest, error) {
	return s.scanRequest(s.db.QueryRowContext(ctx, selectRequest+`
		where user_id=$1 and resource_type=$2 and resource_id=$3 and status in ('PENDING','APPROVED')
	`, userID, resourceType, resourceID))
}

// Transition applies the CAS update: it succeeds only while the stored
// status still equals from. Decision fields are written only when set.
func (s *Store) Transition(ctx context.Context, id string, from, to jit.Status, upd jit.StatusUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		update access_requests
		set status=$3,
		    decided_by=coalesce(nullif($4,''), decided_by),
		    decided_at=coalesce($5, decided_at),
		    expires_at=coalesce($6, expires_at)
		where id=$1 and status=$2
	`, id, string(from), string(to), upd.DecidedBy, nullTime(upd.DecidedAt), nullTime(upd.ExpiresAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, `select status from access_requests where id=$1`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return jit.ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: request is %s, expected %s", jit.ErrInvalidState, current, from)
	}
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, st jit.Status) ([]*jit.AccessRequest, error) {
	return s.listRequests(ctx, selectRequest+` where status=$1 order by requested_at desc, id desc`, string(st))
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]*jit.AccessRequest, error) {
	return s.listRequests(ctx, selectRequest+` where user_id=$1 order by requested_at desc, id desc`, userID)
}

func (s *Store) ListRequests(ctx context.Context) ([]*jit.AccessRequest, error) {
	return s.listRequests(ctx, selectRequest+` order by requested_at desc, id desc`)
}

func (s *Store) ListExpiredApproved(ctx context.Context, now time.Time) ([]*jit.AccessRequest, error) {
	return s.listRequests(ctx, selectRequest+`
		where status='APPROVED' and expires_at <= $1 order by requested_at desc, id desc
	`, now)
}

const selectRequest = `
	select id, user_id, resource_type, resource_id, reason, duration_minutes, status, requested_at, decided_at, decided_by, expires_at
	from access_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRequest(row rowScanner) (*jit.AccessRequest, error) {
	var r jit.AccessRequest
	var status string
	var decidedAt, expiresAt sql.NullTime
	var decidedBy sql.NullString
	err := row.Scan(&r.ID, &r.UserID, &r.ResourceType, &r.ResourceID, &r.Reason, &r.DurationMinutes,
		&status, &r.RequestedAt, &decidedAt, &decidedBy, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = jit.Status(status)
	if decidedAt.Valid {
		r.DecidedAt = decidedAt.Time
	}
	if decidedBy.Valid {
		r.DecidedBy = decidedBy.String
	}
	if expiresAt.Valid {
		r.ExpiresAt = expiresAt.Time
	}
	return &r, nil
}

func (s *Store) listRequests(ctx context.Context, query string, args ...any) ([]*jit.AccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*jit.AccessRequest
	for rows.Next() {
		r, err := s.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
