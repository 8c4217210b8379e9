package rbac

import "context"

// Requirement describes what an action demands: a minimum organizational
// rank, an explicit permission, or both alternatives; optionally scoped to a
// concrete resource so JIT grants can satisfy it.
type Requirement struct {
	MinRank      Rank
	Permission   string
	ResourceType string
	ResourceID   string
}

// Decision is the authorization outcome.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Via     string `json:"via,omitempty"`    // "rank", "permission", or "grant"
	Reason  string `json:"reason,omitempty"` // set when denied
}

const ReasonInsufficientPrivilege = "InsufficientPrivilege"

// GrantChecker answers whether a live JIT grant covers the exact resource.
type GrantChecker interface {
	HasActiveGrant(ctx context.Context, userID, resourceType, resourceID string) (bool, error)
}

// Authorizer combines static role state with dynamic JIT grants.
type Authorizer struct {
	svc    *Service
	grants GrantChecker
}

// NewAuthorizer constructs an authorizer. grants may be nil when JIT access
// is disabled; resource-scoped checks then fall through to denial.
func NewAuthorizer(svc *Service, grants GrantChecker) *Authorizer {
	return &Authorizer{svc: svc, grants: grants}
}

// Authorize evaluates, in order: effective rank, permission set, and finally
// an active JIT grant on the exact resource. The grant predicate is live; it
// never trusts a possibly stale stored status.
func (a *Authorizer) Authorize(ctx context.Context, userID string, req Requirement) (Decision, error) {
	if req.MinRank > RankNone {
		rank, err := a.svc.EffectiveRank(ctx, userID)
		if err != nil {
			return Decision{}, err
		}
		if rank >= req.MinRank {
			return Decision{Allowed: true, Via: "rank"}, nil
		}
	}
	if req.Permission != "" {
		ok, err := a.svc.HasPermission(ctx, userID, req.Permission)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return Decision{Allowed: true, Via: "permission"}, nil
		}
	}
	if req.ResourceType != "" && req.ResourceID != "" && a.grants != nil {
		ok, err := a.grants.HasActiveGrant(ctx, userID, req.ResourceType, req.ResourceID)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return Decision{Allowed: true, Via: "grant"}, nil
		}
	}
	return Decision{Allowed: false, Reason: ReasonInsufficientPrivilege}, nil
}
