package jit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentra.org/internal/ids"
	"sentra.org/internal/obs"
	"sentra.org/internal/rbac"
)

const (
	defaultMinDuration  = 1
	defaultMaxDuration  = 120
	defaultDuration     = 15
	defaultStoreTimeout = 5 * time.Second
)

// RankChecker is the slice of the RBAC service the lifecycle engine needs
// for its admin-gated operations.
type RankChecker interface {
	RequireRank(ctx context.Context, userID string, required rbac.Rank) error
}

// Service owns the access-request lifecycle state machine.
type Service struct {
	store   RequestStore
	ranks   RankChecker
	now     func() time.Time
	timeout time.Duration

	minDuration     int
	maxDuration     int
	defaultDuration int
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

// WithDurationBounds configures the accepted and default request durations,
// in minutes.
func WithDurationBounds(min, max, def int) Option {
	return func(s *Service) {
		if min > 0 {
			s.minDuration = min
		}
		if max > 0 {
			s.maxDuration = max
		}
		if def > 0 {
			s.defaultDuration = def
		}
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

// NewService constructs the lifecycle engine.
func NewService(store RequestStore, ranks RankChecker, opts ...Option) *Service {
	s := &Service{
		store:           store,
		ranks:           ranks,
		now:             time.Now,
		timeout:         defaultStoreTimeout,
		minDuration:     defaultMinDuration,
		maxDuration:     defaultMaxDuration,
		defaultDuration: defaultDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestAccess creates a PENDING request. At most one request may be open
// (PENDING or APPROVED) per (user, resourceType, resourceID) tuple.
func (s *Service) RequestAccess(ctx context.Context, userID, resourceType, resourceID, reason string, durationMinutes int) (*AccessRequest, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	resourceType = strings.TrimSpace(resourceType)
	resourceID = strings.TrimSpace(resourceID)
	reason = strings.TrimSpace(reason)
	if resourceType == "" || resourceID == "" {
		return nil, fmt.Errorf("%w: resource type and id are required", ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	if durationMinutes == 0 {
		durationMinutes = s.defaultDuration
	}
	if durationMinutes < s.minDuration || durationMinutes > s.maxDuration {
		return nil, fmt.Errorf("%w: duration must be within [%d,%d] minutes", ErrValidation, s.minDuration, s.maxDuration)
	}

	if open, err := s.store.FindOpenRequest(ctx, userID, resourceType, resourceID); err == nil && open != nil {
		return nil, fmt.Errorf("%w: request %s is %s", ErrConflict, open.ID, open.Status)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, s.storeErr(err)
	}

	req := &AccessRequest{
		ID:              ids.New(),
		UserID:          userID,
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		Reason:          reason,
		DurationMinutes: durationMinutes,
		Status:          StatusPending,
		RequestedAt:     s.now().UTC(),
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, s.storeErr(err)
	}
	obs.ObserveTransition(string(StatusPending))
	return req, nil
}

// Approve transitions PENDING -> APPROVED and stamps the expiry. Admin only.
func (s *Service) Approve(ctx context.Context, requestID, approverID string) (*AccessRequest, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.requireAdmin(ctx, approverID); err != nil {
		return nil, err
	}
	req, err := s.store.FindRequest(ctx, requestID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	now := s.now().UTC()
	upd := StatusUpdate{
		DecidedBy: approverID,
		DecidedAt: now,
		ExpiresAt: now.Add(time.Duration(req.DurationMinutes) * time.Minute),
	}
	if err := s.store.Transition(ctx, requestID, StatusPending, StatusApproved, upd); err != nil {
		return nil, s.storeErr(err)
	}
	obs.ObserveTransition(string(StatusApproved))
	req.Status = StatusApproved
	req.DecidedBy = upd.DecidedBy
	req.DecidedAt = upd.DecidedAt
	req.ExpiresAt = upd.ExpiresAt
	return req, nil
}

// Reject transitions PENDING -> REJECTED. Admin only.
func (s *Service) Reject(ctx context.Context, requestID, approverID string) (*AccessRequest, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.requireAdmin(ctx, approverID); err != nil {
		return nil, err
	}
	req, err := s.store.FindRequest(ctx, requestID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	now := s.now().UTC()
	upd := StatusUpdate{DecidedBy: approverID, DecidedAt: now}
	if err := s.store.Transition(ctx, requestID, StatusPending, StatusRejected, upd); err != nil {
		return nil, s.storeErr(err)
	}
	obs.ObserveTransition(string(StatusRejected))
	req.Status = StatusRejected
	req.DecidedBy = upd.DecidedBy
	req.DecidedAt = upd.DecidedAt
	return req, nil
}

// Revoke transitions a live APPROVED grant to REVOKED. Allowed for the
// request owner or an admin.
func (s *Service) Revoke(ctx context.Context, requestID, actorID string) (*AccessRequest, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	req, err := s.store.FindRequest(ctx, requestID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	if req.UserID != actorID {
		if err := s.requireAdmin(ctx, actorID); err != nil {
			return nil, err
		}
	}
	now := s.now().UTC()
	if !req.ActiveAt(now) {
		if req.Status == StatusApproved {
			return nil, fmt.Errorf("%w: grant already expired", ErrInvalidState)
		}
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
	}
	if err := s.store.Transition(ctx, requestID, StatusApproved, StatusRevoked, StatusUpdate{}); err != nil {
		return nil, s.storeErr(err)
	}
	obs.ObserveTransition(string(StatusRevoked))
	req.Status = StatusRevoked
	return req, nil
}

// ListPending returns all PENDING requests. Admin only.
func (s *Service) ListPending(ctx context.Context, adminID string) ([]*AccessRequest, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	list, err := s.store.ListByStatus(ctx, StatusPending)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return list, nil
}

// ListMine returns all requests for a user, most recent first.
func (s *Service) ListMine(ctx context.Context, userID string) ([]*AccessRequest, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	list, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return list, nil
}

// Report summarizes all requests for auditing. Admin only.
type Report struct {
	Requests []*AccessRequest `json:"requests"`
	ByStatus map[Status]int   `json:"by_status"`
}

// ListAll returns the full request history plus per-status counts. Admin only.
func (s *Service) ListAll(ctx context.Context, adminID string) (*Report, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	list, err := s.store.ListRequests(ctx)
	if err != nil {
		return nil, s.storeErr(err)
	}
	report := &Report{Requests: list, ByStatus: make(map[Status]int)}
	for _, r := range list {
		report.ByStatus[r.Status]++
	}
	return report, nil
}

// GetActiveGrant returns the request covering the exact resource only if it
// is APPROVED and unexpired right now. The predicate is evaluated live; the
// reconciler only keeps listings tidy, it is not consulted here.
func (s *Service) GetActiveGrant(ctx context.Context, userID, resourceType, resourceID string) (*AccessRequest, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	req, err := s.store.FindOpenRequest(ctx, userID, resourceType, resourceID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	if !req.ActiveAt(s.now()) {
		return nil, ErrNotFound
	}
	return req, nil
}

// HasActiveGrant implements rbac.GrantChecker.
func (s *Service) HasActiveGrant(ctx context.Context, userID, resourceType, resourceID string) (bool, error) {
	_, err := s.GetActiveGrant(ctx, userID, resourceType, resourceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) requireAdmin(ctx context.Context, userID string) error {
	if err := s.ranks.RequireRank(ctx, userID, rbac.RankAdmin); err != nil {
		if errors.Is(err, rbac.ErrForbidden) {
			return fmt.Errorf("%w: admin rank required", ErrForbidden)
		}
		return s.storeErr(err)
	}
	return nil
}

func (s *Service) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) storeErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
