// Package pg implements the identity, rbac, and jit store contracts on
// PostgreSQL via the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"sentra.org/internal/identity"
	"sentra.org/internal/jit"
	"sentra.org/internal/rbac"
)

// Store wraps a pooled database handle.
type Store struct {
	db *sql.DB
}

var (
	_ identity.Store     = (*Store)(nil)
	_ rbac.RoleStore     = (*Store)(nil)
	_ rbac.UserDirectory = (*Store)(nil)
	_ jit.RequestStore   = (*Store)(nil)
)

// Open connects to Postgres and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (used by tests and cmd/migrate).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- identity.UserStore ---

func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into users(id, username, email, password_hash, email_verified, blocked, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.EmailVerified, u.Blocked, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username or email taken", identity.ErrConflict)
		}
		return err
	}
	for _, role := range u.Roles {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles(user_id, role_name) values ($1,$2)
			on conflict do nothing
		`, u.ID, role); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) FindUser(ctx context.Context, id string) (*identity.User, error) {
	return s.findUserBy(ctx, `id=$1`, id)
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*identity.User, error) {
	return s.findUserBy(ctx, `username=$1`, username)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.findUserBy(ctx, `email=$1`, email)
}

func (s *Store) findUserBy(ctx context.Context, where string, arg any) (*identity.User, error) {
	var u identity.User
	err := s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, email_verified, blocked, created_at, updated_at
		from users where `+where,
		arg,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.EmailVerified, &u.Blocked, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	roles, err := s.userRoleNames(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func (s *Store) userRoleNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select role_name from user_roles where user_id=$1 order by role_name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

func (s *Store) SetEmailVerified(ctx context.Context, userID string, verified bool) error {
	return s.updateUserFlag(ctx, `update users set email_verified=$2, updated_at=now() where id=$1`, userID, verified)
}

func (s *Store) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	return s.updateUserFlag(ctx, `update users set blocked=$2, updated_at=now() where id=$1`, userID, blocked)
}

func (s *Store) updateUserFlag(ctx context.Context, query, userID string, value bool) error {
	res, err := s.db.ExecContext(ctx, query, userID, value)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) SetRoles(ctx context.Context, userID string, roles []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from users where id=$1)`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return identity.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id=$1`, userID); err != nil {
		return err
	}
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, `insert into user_roles(user_id, role_name) values ($1,$2)`, userID, role); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `update users set updated_at=now() where id=$1`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListUsers(ctx context.Context) ([]*identity.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, username, email, password_hash, email_verified, blocked, created_at, updated_at
		from users order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*identity.User
	for rows.Next() {
		var u identity.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.EmailVerified, &u.Blocked, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, u := range out {
		roles, err := s.userRoleNames(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		u.Roles = roles
	}
	return out, nil
}

// --- identity.SessionStore ---

func (s *Store) CreateSession(ctx context.Context, sess *identity.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, user_id, stage, issued_at, expires_at)
		values ($1,$2,$3,$4,$5)
	`, sess.ID, sess.UserID, string(sess.Stage), sess.IssuedAt, sess.ExpiresAt)
	return err
}

func (s *Store) FindSession(ctx context.Context, id string) (*identity.Session, error) {
	var sess identity.Session
	var stage string
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, stage, issued_at, expires_at from sessions where id=$1
	`, id).Scan(&sess.ID, &sess.UserID, &stage, &sess.IssuedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Stage = identity.SessionStage(stage)
	return &sess, nil
}

func (s *Store) SetStage(ctx context.Context, id string, from, to identity.SessionStage) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set stage=$3 where id=$1 and stage=$2
	`, id, string(from), string(to))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrInvalidSession
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where id=$1`, id)
	return err
}

func (s *Store) DeleteSessionsByUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `
		delete from two_factor_challenges
		where session_id in (select id from sessions where user_id=$1)
	`, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from sessions where user_id=$1`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- identity.VerificationStore ---

func (s *Store) PutVerification(ctx context.Context, v *identity.EmailVerification) error {
	_, err := s.db.ExecContext(ctx, `
		insert into email_verifications(email, code, issued_at, expires_at, consumed)
		values ($1,$2,$3,$4,false)
		on conflict (email) do update
		set code=excluded.code, issued_at=excluded.issued_at, expires_at=excluded.expires_at, consumed=false
	`, v.Email, v.Code, v.IssuedAt, v.ExpiresAt)
	return err
}

func (s *Store) FindVerification(ctx context.Context, email string) (*identity.EmailVerification, error) {
	var v identity.EmailVerification
	err := s.db.QueryRowContext(ctx, `
		select email, code, issued_at, expires_at, consumed from email_verifications where email=$1
	`, email).Scan(&v.Email, &v.Code, &v.IssuedAt, &v.ExpiresAt, &v.Consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) ConsumeVerification(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx, `update email_verifications set consumed=true where email=$1`, email)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// --- identity.ChallengeStore ---

func (s *Store) CreateChallenge(ctx context.Context, c *identity.TwoFactorChallenge) error {
	_, err := s.db.ExecContext(ctx, `
		insert into two_factor_challenges(session_id, user_id, code, expires_at, attempt_count, consumed)
		values ($1,$2,$3,$4,0,false)
	`, c.SessionID, c.UserID, c.Code, c.ExpiresAt)
	return err
}

func (s *Store) FindChallenge(ctx context.Context, sessionID string) (*identity.TwoFactorChallenge, error) {
	var c identity.TwoFactorChallenge
	err := s.db.QueryRowContext(ctx, `
		select session_id, user_id, code, expires_at, attempt_count, consumed
		from two_factor_challenges where session_id=$1
	`, sessionID).Scan(&c.SessionID, &c.UserID, &c.Code, &c.ExpiresAt, &c.AttemptCount, &c.Consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) IncrementAttempts(ctx context.Context, sessionID string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		update two_factor_challenges set attempt_count = attempt_count + 1
		where session_id=$1
		returning attempt_count
	`, sessionID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, identity.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func (s *Store) ConsumeChallenge(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `update two_factor_challenges set consumed=true where session_id=$1`, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteChallenge(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `delete from two_factor_challenges where session_id=$1`, sessionID)
	return err
}
