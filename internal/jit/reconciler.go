package jit

import (
	"context"
	"errors"
	"time"

	"sentra.org/internal/obs"
)

const defaultSweepInterval = time.Minute

// Reconciler periodically materializes computed expiry into stored state:
// every APPROVED request whose expiry has passed becomes EXPIRED. It uses
// the same compare-and-set transition as user-driven actions, so it can
// never clobber a concurrent revoke. Authorization never depends on it; the
// live predicate in GetActiveGrant already denies stale grants.
type Reconciler struct {
	store    RequestStore
	interval time.Duration
	now      func() time.Time
}

// ReconcilerOption configures the reconciler.
type ReconcilerOption func(*Reconciler)

// WithSweepInterval overrides the pass interval.
func WithSweepInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReconcilerClock overrides the time source (useful for tests).
func WithReconcilerClock(fn func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewReconciler constructs a reconciler over the request store.
func NewReconciler(store RequestStore, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:    store,
		interval: defaultSweepInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := r.Sweep(ctx)
			if err != nil {
				obs.Error("reconciler sweep failed", map[string]any{"error": err.Error()})
				continue
			}
			if expired > 0 {
				obs.Info("reconciler expired grants", map[string]any{"count": expired})
			}
		}
	}
}

// Sweep performs one pass and returns how many requests it expired.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	now := r.now().UTC()
	stale, err := r.store.ListExpiredApproved(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, req := range stale {
		err := r.store.Transition(ctx, req.ID, StatusApproved, StatusExpired, StatusUpdate{})
		if err != nil {
			// A concurrent revoke may have won the CAS; that is fine.
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			return expired, err
		}
		obs.ObserveTransition(string(StatusExpired))
		expired++
	}
	obs.ObserveSweep(expired)
	return expired, nil
}
