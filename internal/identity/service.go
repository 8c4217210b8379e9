package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentra.org/internal/ids"
	"sentra.org/internal/notify"
)

const (
	defaultCodeLength        = 6
	defaultCodeTTL           = 10 * time.Minute
	defaultSessionTTL        = 30 * time.Minute
	defaultMaxAttempts       = 3
	defaultResendInterval    = time.Minute
	defaultMinPasswordLength = 8
	defaultMinUsernameLength = 3
	defaultStoreTimeout      = 5 * time.Second
)

// Sender is the slice of the notification dispatcher the handshake needs.
type Sender interface {
	Enqueue(msg notify.Message)
}

// Service implements the credential and session handshake: registration with
// email verification, password login, one-time 2FA code, session issuance.
type Service struct {
	store   Store
	hasher  Hasher
	sender  Sender
	tokens  *TokenIssuer
	now     func() time.Time
	timeout time.Duration

	codeLength     int
	codeTTL        time.Duration
	sessionTTL     time.Duration
	maxAttempts    int
	resendInterval time.Duration
	minPassword    int
	minUsername    int
	defaultRoles   []string
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithCodeTTL configures verification and 2FA code lifetime.
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

// WithCodeLength configures the number of digits in one-time codes.
func WithCodeLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.codeLength = n
		}
	}
}

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithMaxAttempts configures the 2FA attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithResendInterval configures the minimum interval between code resends.
func WithResendInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.resendInterval = d
		}
	}
}

// WithPasswordPolicy configures minimum credential lengths.
func WithPasswordPolicy(minPassword, minUsername int) Option {
	return func(s *Service) {
		if minPassword > 0 {
			s.minPassword = minPassword
		}
		if minUsername > 0 {
			s.minUsername = minUsername
		}
	}
}

// WithDefaultRoles configures the roles granted at registration.
func WithDefaultRoles(roles []string) Option {
	return func(s *Service) {
		s.defaultRoles = append([]string(nil), roles...)
	}
}

// WithStoreTimeout bounds every store round trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService constructs the handshake service.
func NewService(store Store, hasher Hasher, sender Sender, tokens *TokenIssuer, opts ...Option) *Service {
	s := &Service{
		store:          store,
		hasher:         hasher,
		sender:         sender,
		tokens:         tokens,
		now:            time.Now,
		timeout:        defaultStoreTimeout,
		codeLength:     defaultCodeLength,
		codeTTL:        defaultCodeTTL,
		sessionTTL:     defaultSessionTTL,
		maxAttempts:    defaultMaxAttempts,
		resendInterval: defaultResendInterval,
		minPassword:    defaultMinPasswordLength,
		minUsername:    defaultMinUsernameLength,
		defaultRoles:   []string{"USER"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an unverified user and dispatches a verification code.
func (s *Service) Register(ctx context.Context, username, email, password string) (*User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))
	if len(username) < s.minUsername {
		return nil, fmt.Errorf("%w: username must be at least %d characters", ErrValidation, s.minUsername)
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrValidation)
	}
	if len(password) < s.minPassword {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, s.minPassword)
	}

	if _, err := s.store.FindUserByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("%w: username taken", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, s.storeErr(err)
	}
	if _, err := s.store.FindUserByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email taken", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, s.storeErr(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        append([]string(nil), s.defaultRoles...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, s.storeErr(err)
	}
	if err := s.issueVerification(ctx, email); err != nil {
		return nil, err
	}
	return user, nil
}

// ResendCode supersedes any outstanding verification code for the email and
// dispatches a fresh one. Throttled to blunt spamming.
func (s *Service) ResendCode(ctx context.Context, email string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return s.storeErr(err)
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}
	if prev, err := s.store.FindVerification(ctx, email); err == nil {
		if s.now().Sub(prev.IssuedAt) < s.resendInterval {
			return ErrResendThrottled
		}
	} else if !errors.Is(err, ErrNotFound) {
		return s.storeErr(err)
	}
	return s.issueVerification(ctx, email)
}

// VerifyEmail consumes a verification code and marks the user verified.
// Safe to retry: a second call after success reports ErrAlreadyVerified.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return s.storeErr(err)
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}
	v, err := s.store.FindVerification(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCode
		}
		return s.storeErr(err)
	}
	if v.Consumed {
		return ErrInvalidCode
	}
	if s.now().After(v.ExpiresAt) {
		return ErrCodeExpired
	}
	if !codesEqual(v.Code, code) {
		return ErrInvalidCode
	}
	if err := s.store.ConsumeVerification(ctx, email); err != nil {
		return s.storeErr(err)
	}
	if err := s.store.SetEmailVerified(ctx, user.ID, true); err != nil {
		return s.storeErr(err)
	}
	return nil
}

// Login verifies the password and opens a half-authenticated session with a
// bound 2FA challenge. Unknown user and bad password are indistinguishable.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	username = strings.TrimSpace(username)
	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn a hash comparison so the miss costs the same as a mismatch.
			s.hasher.Verify(password, "")
			return nil, ErrInvalidCredentials
		}
		return nil, s.storeErr(err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if user.Blocked {
		return nil, ErrBlocked
	}
	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	// One active login per user: opening a new session retires older ones.
	if err := s.store.DeleteSessionsByUser(ctx, user.ID); err != nil {
		return nil, s.storeErr(err)
	}

	sessionID, err := newSessionID()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &Session{
		ID:        sessionID,
		UserID:    user.ID,
		Stage:     StageAwaiting2FA,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, s.storeErr(err)
	}

	code, err := generateCode(s.codeLength)
	if err != nil {
		return nil, err
	}
	challenge := &TwoFactorChallenge{
		SessionID: sess.ID,
		UserID:    user.ID,
		Code:      code,
		ExpiresAt: now.Add(s.codeTTL),
	}
	if err := s.store.CreateChallenge(ctx, challenge); err != nil {
		return nil, s.storeErr(err)
	}
	s.sender.Enqueue(notify.Message{
		Destination: user.Email,
		Subject:     "Your login code",
		Body:        fmt.Sprintf("Your two-factor code is %s. It expires in %d minutes.", code, int(s.codeTTL.Minutes())),
	})
	return sess, nil
}

// Verify2FA checks the one-time code, promotes the session to AUTHENTICATED
// and returns a signed session token. After the attempt ceiling the session
// is discarded and a fresh login is required.
func (s *Service) Verify2FA(ctx context.Context, sessionID, code string) (string, *Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	sess, err := s.store.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrInvalidSession
		}
		return "", nil, s.storeErr(err)
	}
	if sess.Stage != StageAwaiting2FA || s.now().After(sess.ExpiresAt) {
		return "", nil, ErrInvalidSession
	}
	challenge, err := s.store.FindChallenge(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrInvalidSession
		}
		return "", nil, s.storeErr(err)
	}
	if challenge.Consumed {
		return "", nil, ErrInvalidCode
	}
	if challenge.AttemptCount >= s.maxAttempts {
		return "", nil, s.lockOut(ctx, sessionID)
	}
	if s.now().After(challenge.ExpiresAt) {
		return "", nil, ErrCodeExpired
	}
	if !codesEqual(challenge.Code, code) {
		attempts, err := s.store.IncrementAttempts(ctx, sessionID)
		if err != nil {
			return "", nil, s.storeErr(err)
		}
		if attempts >= s.maxAttempts {
			return "", nil, s.lockOut(ctx, sessionID)
		}
		return "", nil, ErrInvalidCode
	}

	if err := s.store.ConsumeChallenge(ctx, sessionID); err != nil {
		return "", nil, s.storeErr(err)
	}
	if err := s.store.SetStage(ctx, sessionID, StageAwaiting2FA, StageAuthenticated); err != nil {
		return "", nil, s.storeErr(err)
	}
	sess.Stage = StageAuthenticated

	user, err := s.store.FindUser(ctx, sess.UserID)
	if err != nil {
		return "", nil, s.storeErr(err)
	}
	token, err := s.tokens.Mint(sess, user)
	if err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

// Logout destroys the session unconditionally. Idempotent.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.store.DeleteChallenge(ctx, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return s.storeErr(err)
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return s.storeErr(err)
	}
	return nil
}

// Authenticate resolves a session token into its user and session. Only
// fully authenticated, unexpired sessions pass.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, *Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, nil, ErrInvalidSession
	}
	sess, err := s.store.FindSession(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrInvalidSession
		}
		return nil, nil, s.storeErr(err)
	}
	if sess.Stage != StageAuthenticated || s.now().After(sess.ExpiresAt) {
		return nil, nil, ErrInvalidSession
	}
	user, err := s.store.FindUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrInvalidSession
		}
		return nil, nil, s.storeErr(err)
	}
	if user.Blocked {
		return nil, nil, ErrBlocked
	}
	return user, sess, nil
}

// SetBlocked toggles the blocked flag; blocking also retires live sessions.
func (s *Service) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.store.SetBlocked(ctx, userID, blocked); err != nil {
		return s.storeErr(err)
	}
	if blocked {
		if err := s.store.DeleteSessionsByUser(ctx, userID); err != nil {
			return s.storeErr(err)
		}
	}
	return nil
}

// User returns a user by id.
func (s *Service) User(ctx context.Context, userID string) (*User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	u, err := s.store.FindUser(ctx, userID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return u, nil
}

// Users lists all users.
func (s *Service) Users(ctx context.Context) ([]*User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	list, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return list, nil
}

func (s *Service) issueVerification(ctx context.Context, email string) error {
	code, err := generateCode(s.codeLength)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	v := &EmailVerification{
		Email:     email,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.codeTTL),
	}
	if err := s.store.PutVerification(ctx, v); err != nil {
		return s.storeErr(err)
	}
	s.sender.Enqueue(notify.Message{
		Destination: email,
		Subject:     "Verify your email",
		Body:        fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.codeTTL.Minutes())),
	})
	return nil
}

func (s *Service) lockOut(ctx context.Context, sessionID string) error {
	_ = s.store.DeleteChallenge(ctx, sessionID)
	_ = s.store.DeleteSession(ctx, sessionID)
	return ErrLockedOut
}

func (s *Service) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// storeErr maps a timed-out or cancelled store call to the retryable
// unavailability error; everything else passes through.
func (s *Service) storeErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
