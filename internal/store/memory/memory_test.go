package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sentra.org/internal/identity"
	"sentra.org/internal/jit"
)

func seedUser(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.CreateUser(context.Background(), &identity.User{
		ID:       id,
		Username: "u-" + id,
		Email:    id + "@example.com",
		Roles:    []string{"USER"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCreateUserConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1")

	err := s.CreateUser(ctx, &identity.User{ID: "u2", Username: "u-u1", Email: "x@example.com"})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("username conflict: got %v", err)
	}
	err = s.CreateUser(ctx, &identity.User{ID: "u2", Username: "fresh", Email: "u1@example.com"})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("email conflict: got %v", err)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1")

	u, err := s.FindUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	u.Roles[0] = "ADMIN"
	u.Username = "hacked"

	again, _ := s.FindUser(ctx, "u1")
	if again.Roles[0] != "USER" || again.Username != "u-u1" {
		t.Fatal("mutation leaked into the store")
	}
}

func TestSetStageCAS(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1")
	sess := &identity.Session{ID: "s1", UserID: "u1", Stage: identity.StageAwaiting2FA}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	if err := s.SetStage(ctx, "s1", identity.StageAuthenticated, identity.StageAwaiting2FA); !errors.Is(err, identity.ErrInvalidSession) {
		t.Fatalf("wrong expected stage: got %v", err)
	}
	if err := s.SetStage(ctx, "s1", identity.StageAwaiting2FA, identity.StageAuthenticated); err != nil {
		t.Fatal(err)
	}
	// Promoting twice fails: the stored stage moved on.
	if err := s.SetStage(ctx, "s1", identity.StageAwaiting2FA, identity.StageAuthenticated); !errors.Is(err, identity.ErrInvalidSession) {
		t.Fatalf("second promote: got %v", err)
	}
}

func TestDeleteSessionsByUserDropsChallenges(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1")
	_ = s.CreateSession(ctx, &identity.Session{ID: "s1", UserID: "u1", Stage: identity.StageAwaiting2FA})
	_ = s.CreateChallenge(ctx, &identity.TwoFactorChallenge{SessionID: "s1", UserID: "u1", Code: "123456"})

	if err := s.DeleteSessionsByUser(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindChallenge(ctx, "s1"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("challenge must die with the session, got %v", err)
	}
}

func TestCreateRequestOpenTupleConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := jit.AccessRequest{
		UserID:       "u1",
		ResourceType: "document",
		ResourceID:   "doc-1",
		Status:       jit.StatusPending,
	}

	first := base
	first.ID = "r1"
	if err := s.CreateRequest(ctx, &first); err != nil {
		t.Fatal(err)
	}
	second := base
	second.ID = "r2"
	if err := s.CreateRequest(ctx, &second); !errors.Is(err, jit.ErrConflict) {
		t.Fatalf("open duplicate: got %v", err)
	}

	// Once the first goes terminal the tuple frees up.
	if err := s.Transition(ctx, "r1", jit.StatusPending, jit.StatusRejected, jit.StatusUpdate{}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRequest(ctx, &second); err != nil {
		t.Fatal(err)
	}
}

func TestTransitionCASUnderContention(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateRequest(ctx, &jit.AccessRequest{
		ID: "r1", UserID: "u1", ResourceType: "document", ResourceID: "d", Status: jit.StatusApproved,
	}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, to := range []jit.Status{jit.StatusRevoked, jit.StatusExpired} {
		wg.Add(1)
		go func(to jit.Status) {
			defer wg.Done()
			errs <- s.Transition(ctx, "r1", jit.StatusApproved, to, jit.StatusUpdate{})
		}(to)
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, jit.ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
}

func TestListByUserOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		err := s.CreateRequest(ctx, &jit.AccessRequest{
			ID:           id,
			UserID:       "u1",
			ResourceType: "document",
			ResourceID:   "doc-" + id,
			Status:       jit.StatusPending,
			RequestedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != "r3" || list[2].ID != "r1" {
		t.Fatalf("order = %s,%s,%s", list[0].ID, list[1].ID, list[2].ID)
	}
}
