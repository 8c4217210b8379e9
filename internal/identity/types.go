package identity

import "time"

// User represents a registered principal.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"email_verified"`
	Blocked       bool      `json:"blocked"`
	Roles         []string  `json:"roles"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SessionStage marks handshake progress. A session is created half-open and
// only becomes usable after the second factor is verified.
type SessionStage string

const (
	StageAwaiting2FA   SessionStage = "AWAITING_2FA"
	StageAuthenticated SessionStage = "AUTHENTICATED"
)

// Session represents a login-in-progress or completed authentication.
type Session struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Stage     SessionStage `json:"stage"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// EmailVerification is a pending registration challenge. At most one
// unconsumed verification exists per email; a resend supersedes it.
type EmailVerification struct {
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// TwoFactorChallenge is the pending second factor bound to a session.
type TwoFactorChallenge struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Code         string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	AttemptCount int       `json:"attempt_count"`
	Consumed     bool      `json:"consumed"`
}
