package identity

import "errors"

var (
	ErrValidation         = errors.New("identity: invalid input")
	ErrConflict           = errors.New("identity: already exists")
	ErrNotFound           = errors.New("identity: not found")
	ErrInvalidCredentials = errors.New("identity: invalid username or password")
	ErrBlocked            = errors.New("identity: account blocked")
	ErrEmailNotVerified   = errors.New("identity: email not verified")
	ErrAlreadyVerified    = errors.New("identity: email already verified")
	ErrInvalidCode        = errors.New("identity: invalid code")
	ErrCodeExpired        = errors.New("identity: code expired")
	ErrLockedOut          = errors.New("identity: too many attempts")
	ErrResendThrottled    = errors.New("identity: resend throttled")
	ErrInvalidSession     = errors.New("identity: invalid or expired session")
	ErrUnavailable        = errors.New("identity: service unavailable")
)
