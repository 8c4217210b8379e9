package jit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sentra.org/internal/identity"
	"sentra.org/internal/ids"
	"sentra.org/internal/jit"
	"sentra.org/internal/rbac"
	"sentra.org/internal/store/memory"
)

type fixture struct {
	store *memory.Store
	svc   *jit.Service
	rbac  *rbac.Service

	adminID string
	userID  string

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: memory.New(),
		now:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	f.rbac = rbac.NewService(f.store, f.store)
	if err := f.rbac.EnsureBuiltins(ctx); err != nil {
		t.Fatal(err)
	}
	f.adminID = createUser(t, f.store, "root", rbac.RoleAdmin)
	f.userID = createUser(t, f.store, "bob", rbac.RoleUser)
	f.svc = jit.NewService(f.store, f.rbac, jit.WithClock(f.clock))
	return f
}

func createUser(t *testing.T, store *memory.Store, username string, roles ...string) string {
	t.Helper()
	u := &identity.User{
		ID:            ids.New(),
		Username:      username,
		Email:         username + "@example.com",
		PasswordHash:  "x",
		EmailVerified: true,
		Roles:         roles,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u.ID
}

func request(t *testing.T, f *fixture) *jit.AccessRequest {
	t.Helper()
	req, err := f.svc.RequestAccess(context.Background(), f.userID, "document", "doc-7", "quarterly report", 30)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestRequestAccessDefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.RequestAccess(ctx, f.userID, "document", "doc-1", "need it", 0)
	if err != nil {
		t.Fatal(err)
	}
	if req.DurationMinutes != 15 {
		t.Fatalf("default duration = %d", req.DurationMinutes)
	}
	if req.Status != jit.StatusPending {
		t.Fatalf("status = %s", req.Status)
	}

	if _, err := f.svc.RequestAccess(ctx, f.userID, "", "doc-2", "r", 10); !errors.Is(err, jit.ErrValidation) {
		t.Fatalf("missing type: got %v", err)
	}
	if _, err := f.svc.RequestAccess(ctx, f.userID, "document", "doc-2", "", 10); !errors.Is(err, jit.ErrValidation) {
		t.Fatalf("missing reason: got %v", err)
	}
	if _, err := f.svc.RequestAccess(ctx, f.userID, "document", "doc-2", "r", 121); !errors.Is(err, jit.ErrValidation) {
		t.Fatalf("duration over max: got %v", err)
	}
}

func TestRequestAccessOpenConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := request(t, f)

	if _, err := f.svc.RequestAccess(ctx, f.userID, "document", "doc-7", "again", 10); !errors.Is(err, jit.ErrConflict) {
		t.Fatalf("pending duplicate: got %v", err)
	}
	if _, err := f.svc.Approve(ctx, req.ID, f.adminID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RequestAccess(ctx, f.userID, "document", "doc-7", "again", 10); !errors.Is(err, jit.ErrConflict) {
		t.Fatalf("approved duplicate: got %v", err)
	}
	// A different resource is fine.
	if _, err := f.svc.RequestAccess(ctx, f.userID, "document", "doc-8", "other", 10); err != nil {
		t.Fatal(err)
	}
}

func TestApproveStampsExpiry(t *testing.T) {
	f := newFixture(t)
	req := request(t, f)

	approved, err := f.svc.Approve(context.Background(), req.ID, f.adminID)
	if err != nil {
		t.Fatal(err)
	}
	if approved.Status != jit.StatusApproved {
		t.Fatalf("status = %s", approved.Status)
	}
	want := f.clock().UTC().Add(30 * time.Minute)
	if !approved.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %s, want %s", approved.ExpiresAt, want)
	}
	if approved.DecidedBy != f.adminID {
		t.Fatalf("decided_by = %s", approved.DecidedBy)
	}
}

func TestApproveRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	req := request(t, f)
	ctx := context.Background()

	if _, err := f.svc.Approve(ctx, req.ID, f.userID); !errors.Is(err, jit.ErrForbidden) {
		t.Fatalf("non-admin approve: got %v", err)
	}
	managerID := createUser(t, f.store, "mgr", rbac.RoleManager)
	if _, err := f.svc.Approve(ctx, req.ID, managerID); !errors.Is(err, jit.ErrForbidden) {
		t.Fatalf("manager approve: got %v", err)
	}
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture(t)
	req := request(t, f)
	ctx := context.Background()

	rejected, err := f.svc.Reject(ctx, req.ID, f.adminID)
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != jit.StatusRejected {
		t.Fatalf("status = %s", rejected.Status)
	}
	if _, err := f.svc.Approve(ctx, req.ID, f.adminID); !errors.Is(err, jit.ErrInvalidState) {
		t.Fatalf("approve after reject: got %v", err)
	}
}

func TestRevokeOwnerAndAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Owner revokes their own grant.
	req := request(t, f)
	if _, err := f.svc.Approve(ctx, req.ID, f.adminID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Revoke(ctx, req.ID, f.userID); err != nil {
		t.Fatal(err)
	}

	// Admin revokes someone else's grant.
	otherID := createUser(t, f.store, "carol", rbac.RoleUser)
	req2, err := f.svc.RequestAccess(ctx, otherID, "document", "doc-9", "r", 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Approve(ctx, req2.ID, f.adminID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Revoke(ctx, req2.ID, f.adminID); err != nil {
		t.Fatal(err)
	}

	// A stranger cannot.
	req3, err := f.svc.RequestAccess(ctx, f.userID, "document", "doc-10", "r", 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Approve(ctx, req3.ID, f.adminID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Revoke(ctx, req3.ID, otherID); !errors.Is(err, jit.ErrForbidden) {
		t.Fatalf("stranger revoke: got %v", err)
	}
}

func TestRevokeStateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request(t, f)
	if _, err := f.svc.Revoke(ctx, req.ID, f.userID); !errors.Is(err, jit.ErrInvalidState) {
		t.Fatalf("revoke pending: got %v", err)
	}
	if _, err := f.svc.Approve(ctx, req.ID, f.adminID); err != nil {
		t.Fatal(err)
	}
	f.advance(31 * time.Minute)
	if _, err := f.svc.Revoke(ctx, req.ID, f.userID); !errors.Is(err, jit.ErrInvalidState) {
		t.Fatalf("revoke expired grant: got %v", err)
	}
}

func TestActiveGrantLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := request(t, f)

	// Pending is not active.
	if ok, err := f.svc.HasActiveGrant(ctx, f.userID, "document", "doc-7"); err != nil || ok {
		t.Fatalf("pending active = %v, err %v", ok, err)
	}
	if _, err := f.svc.Approve(ctx, req.ID, f.adminID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f.svc.HasActiveGrant(ctx, f.userID, "document", "doc-7"); !ok {
		t.Fatal("approved grant must be active")
	}
	// Exact-resource scope.
	if ok, _ := f.svc.HasActiveGrant(ctx, f.userID, "document", "doc-8"); ok {
		t.Fatal("grant must not cover other resources")
	}
	// Expiry is computed live, ahead of any reconciler pass.
	f.advance(31 * time.Minute)
	if ok, _ := f.svc.HasActiveGrant(ctx, f.userID, "document", "doc-7"); ok {
		t.Fatal("expired grant must not be active")
	}
}

func TestListPendingAndReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := request(t, f)
	f.advance(time.Minute)
	second, err := f.svc.RequestAccess(ctx, f.userID, "document", "doc-8", "r", 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Approve(ctx, second.ID, f.adminID); err != nil {
		t.Fatal(err)
	}

	pending, err := f.svc.ListPending(ctx, f.adminID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("pending = %+v", pending)
	}
	if _, err := f.svc.ListPending(ctx, f.userID); !errors.Is(err, jit.ErrForbidden) {
		t.Fatalf("non-admin pending list: got %v", err)
	}

	report, err := f.svc.ListAll(ctx, f.adminID)
	if err != nil {
		t.Fatal(err)
	}
	if report.ByStatus[jit.StatusPending] != 1 || report.ByStatus[jit.StatusApproved] != 1 {
		t.Fatalf("report counts = %+v", report.ByStatus)
	}

	mine, err := f.svc.ListMine(ctx, f.userID)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 || mine[0].ID != second.ID {
		t.Fatalf("mine must be newest first, got %+v", mine)
	}
}

func TestConcurrentDecisionsExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := request(t, f)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.svc.Approve(ctx, req.ID, f.adminID)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := f.svc.Reject(ctx, req.ID, f.adminID)
		results <- err
	}()
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, jit.ErrInvalidState):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins=%d losses=%d", wins, losses)
	}
}
