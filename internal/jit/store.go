package jit

import (
	"context"
	"time"
)

// StatusUpdate carries the decision fields written alongside a transition.
// Zero values leave the stored field unchanged.
type StatusUpdate struct {
	DecidedBy string
	DecidedAt time.Time
	ExpiresAt time.Time
}

// RequestStore persists access requests.
//
// Transition is a compare-and-set keyed on (id, from): the update applies
// only while the stored status still equals from, otherwise ErrInvalidState.
// This is the sole mutation path after creation; user-driven transitions and
// the reconciler sweep share it, so they cannot both win a race.
type RequestStore interface {
	CreateRequest(ctx context.Context, r *AccessRequest) error
	FindRequest(ctx context.Context, id string) (*AccessRequest, error)
	FindOpenRequest(ctx context.Context, userID, resourceType, resourceID string) (*AccessRequest, error)
	Transition(ctx context.Context, id string, from, to Status, upd StatusUpdate) error
	ListByStatus(ctx context.Context, st Status) ([]*AccessRequest, error)
	ListByUser(ctx context.Context, userID string) ([]*AccessRequest, error)
	ListRequests(ctx context.Context) ([]*AccessRequest, error)
	ListExpiredApproved(ctx context.Context, now time.Time) ([]*AccessRequest, error)
}
