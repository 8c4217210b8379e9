package identity

import "context"

// UserStore persists users. Create fails with ErrConflict when the username
// or email is already taken.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, id string) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	SetEmailVerified(ctx context.Context, userID string, verified bool) error
	SetBlocked(ctx context.Context, userID string, blocked bool) error
	SetRoles(ctx context.Context, userID string, roles []string) error
	ListUsers(ctx context.Context) ([]*User, error)
}

// SessionStore persists sessions. SetStage is a compare-and-set: the update
// applies only while the stored stage equals from, otherwise ErrInvalidSession.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	FindSession(ctx context.Context, id string) (*Session, error)
	SetStage(ctx context.Context, id string, from, to SessionStage) error
	DeleteSession(ctx context.Context, id string) error
	DeleteSessionsByUser(ctx context.Context, userID string) error
}

// VerificationStore keeps at most one email verification per address;
// PutVerification replaces (supersedes) any previous one.
type VerificationStore interface {
	PutVerification(ctx context.Context, v *EmailVerification) error
	FindVerification(ctx context.Context, email string) (*EmailVerification, error)
	ConsumeVerification(ctx context.Context, email string) error
}

// ChallengeStore keeps the 2FA challenge bound to a half-open session.
// IncrementAttempts must be atomic so lockout stays accurate under
// concurrent retries.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, c *TwoFactorChallenge) error
	FindChallenge(ctx context.Context, sessionID string) (*TwoFactorChallenge, error)
	IncrementAttempts(ctx context.Context, sessionID string) (int, error)
	ConsumeChallenge(ctx context.Context, sessionID string) error
	DeleteChallenge(ctx context.Context, sessionID string) error
}

// Store aggregates the persistence surface of the handshake.
type Store interface {
	UserStore
	SessionStore
	VerificationStore
	ChallengeStore
}
