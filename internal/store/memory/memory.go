// Package memory implements the identity, rbac, and jit store contracts
// in-process. Used for dev mode and tests; Postgres is the durable option.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sentra.org/internal/identity"
	"sentra.org/internal/jit"
	"sentra.org/internal/rbac"
)

// Store holds all state behind one RWMutex. Every read hands out copies so
// callers can never mutate shared state without going through the store.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*identity.User // by id
	sessions      map[string]*identity.Session
	verifications map[string]*identity.EmailVerification // by email
	challenges    map[string]*identity.TwoFactorChallenge
	roles         map[string]*rbac.Role
	requests      map[string]*jit.AccessRequest
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]*identity.User),
		sessions:      make(map[string]*identity.Session),
		verifications: make(map[string]*identity.EmailVerification),
		challenges:    make(map[string]*identity.TwoFactorChallenge),
		roles:         make(map[string]*rbac.Role),
		requests:      make(map[string]*jit.AccessRequest),
	}
}

var (
	_ identity.Store     = (*Store)(nil)
	_ rbac.RoleStore     = (*Store)(nil)
	_ rbac.UserDirectory = (*Store)(nil)
	_ jit.RequestStore   = (*Store)(nil)
)

// --- identity.UserStore ---

func (s *Store) CreateUser(_ context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return fmt.Errorf("%w: username %s", identity.ErrConflict, u.Username)
		}
		if existing.Email == u.Email {
			return fmt.Errorf("%w: email %s", identity.ErrConflict, u.Email)
		}
	}
	cp := copyUser(u)
	s.users[u.ID] = cp
	return nil
}

func (s *Store) FindUser(_ context.Context, id string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return copyUser(u), nil
}

func (s *Store) FindUserByUsername(_ context.Context, username string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *Store) SetEmailVerified(_ context.Context, userID string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return identity.ErrNotFound
	}
	u.EmailVerified = verified
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetBlocked(_ context.Context, userID string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return identity.ErrNotFound
	}
	u.Blocked = blocked
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetRoles(_ context.Context, userID string, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return identity.ErrNotFound
	}
	u.Roles = append([]string(nil), roles...)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*identity.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- identity.SessionStore ---

func (s *Store) CreateSession(_ context.Context, sess *identity.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) FindSession(_ context.Context, id string) (*identity.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) SetStage(_ context.Context, id string, from, to identity.SessionStage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return identity.ErrNotFound
	}
	if sess.Stage != from {
		return identity.ErrInvalidSession
	}
	sess.Stage = to
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteSessionsByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
			delete(s.challenges, id)
		}
	}
	return nil
}

// --- identity.VerificationStore ---

func (s *Store) PutVerification(_ context.Context, v *identity.EmailVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.verifications[v.Email] = &cp
	return nil
}

func (s *Store) FindVerification(_ context.Context, email string) (*identity.EmailVerification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verifications[email]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) ConsumeVerification(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verifications[email]
	if !ok {
		return identity.ErrNotFound
	}
	v.Consumed = true
	return nil
}

// --- identity.ChallengeStore ---

func (s *Store) CreateChallenge(_ context.Context, c *identity.TwoFactorChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.challenges[c.SessionID] = &cp
	return nil
}

func (s *Store) FindChallenge(_ context.Context, sessionID string) (*identity.TwoFactorChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.challenges[sessionID]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) IncrementAttempts(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[sessionID]
	if !ok {
		return 0, identity.ErrNotFound
	}
	c.AttemptCount++
	return c.AttemptCount, nil
}

func (s *Store) ConsumeChallenge(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[sessionID]
	if !ok {
		return identity.ErrNotFound
	}
	c.Consumed = true
	return nil
}

func (s *Store) DeleteChallenge(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, sessionID)
	return nil
}

// --- rbac.RoleStore ---

func (s *Store) FindRole(_ context.Context, name string) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[name]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	return copyRole(r), nil
}

func (s *Store) ListRoles(_ context.Context) ([]*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, copyRole(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) EnsureRoles(_ context.Context, roles []rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range roles {
		if _, ok := s.roles[roles[i].Name]; ok {
			continue
		}
		s.roles[roles[i].Name] = copyRole(&roles[i])
	}
	return nil
}

// --- rbac.UserDirectory ---

func (s *Store) UserRoles(ctx context.Context, userID string) ([]string, error) {
	u, err := s.FindUser(ctx, userID)
	if err != nil {
		return nil, rbac.ErrNotFound
	}
	return u.Roles, nil
}

func (s *Store) SetUserRoles(ctx context.Context, userID string, roles []string) error {
	if err := s.SetRoles(ctx, userID, roles); err != nil {
		return rbac.ErrNotFound
	}
	return nil
}

// --- jit.RequestStore ---

func (s *Store) CreateRequest(_ context.Context, r *jit.AccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.UserID == r.UserID &&
			existing.ResourceType == r.ResourceType &&
			existing.ResourceID == r.ResourceID &&
			!existing.Status.Terminal() {
			return jit.ErrConflict
		}
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *Store) FindRequest(_ context.Context, id string) (*jit.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, jit.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) FindOpenRequest(_ context.Context, userID, resourceType, resourceID string) (*jit.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if r.UserID == userID && r.ResourceType == resourceType && r.ResourceID == resourceID && !r.Status.Terminal() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, jit.ErrNotFound
}

func (s *Store) Transition(_ context.Context, id string, from, to jit.Status, upd jit.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return jit.ErrNotFound
	}
	if r.Status != from {
		return fmt.Errorf("%w: status is %s", jit.ErrInvalidState, r.Status)
	}
	r.Status = to
	if upd.DecidedBy != "" {
		r.DecidedBy = upd.DecidedBy
	}
	if !upd.DecidedAt.IsZero() {
		r.DecidedAt = upd.DecidedAt
	}
	if !upd.ExpiresAt.IsZero() {
		r.ExpiresAt = upd.ExpiresAt
	}
	return nil
}

func (s *Store) ListByStatus(_ context.Context, st jit.Status) ([]*jit.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*jit.AccessRequest
	for _, r := range s.requests {
		if r.Status == st {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortByRequestedAtDesc(out)
	return out, nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]*jit.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*jit.AccessRequest
	for _, r := range s.requests {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortByRequestedAtDesc(out)
	return out, nil
}

func (s *Store) ListRequests(_ context.Context) ([]*jit.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*jit.AccessRequest, 0, len(s.requests))
	for _, r := range s.requests {
		cp := *r
		out = append(out, &cp)
	}
	sortByRequestedAtDesc(out)
	return out, nil
}

func (s *Store) ListExpiredApproved(_ context.Context, now time.Time) ([]*jit.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*jit.AccessRequest
	for _, r := range s.requests {
		if r.Status == jit.StatusApproved && !now.Before(r.ExpiresAt) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortByRequestedAtDesc(out)
	return out, nil
}

// --- helpers ---

func copyUser(u *identity.User) *identity.User {
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return &cp
}

func copyRole(r *rbac.Role) *rbac.Role {
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return &cp
}

func sortByRequestedAtDesc(list []*jit.AccessRequest) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].RequestedAt.Equal(list[j].RequestedAt) {
			return list[i].RequestedAt.After(list[j].RequestedAt)
		}
		return list[i].ID > list[j].ID
	})
}
