package rbac_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentra.org/internal/identity"
	"sentra.org/internal/ids"
	"sentra.org/internal/rbac"
	"sentra.org/internal/store/memory"
)

func newService(t *testing.T) (*rbac.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := rbac.NewService(store, store)
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatal(err)
	}
	return svc, store
}

func seedUser(t *testing.T, store *memory.Store, username string, roles ...string) string {
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

func TestEffectiveRankIsMaxOverRoles(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		roles []string
		want  rbac.Rank
	}{
		{"admin", []string{rbac.RoleAdmin}, rbac.RankAdmin},
		{"manager and user", []string{rbac.RoleUser, rbac.RoleManager}, rbac.RankManager},
		{"resource role only", []string{rbac.RoleDocumentViewer}, rbac.RankNone},
		{"no roles", nil, rbac.RankNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := seedUser(t, store, "rank-"+tc.name, tc.roles...)
			rank, err := svc.EffectiveRank(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if rank != tc.want {
				t.Fatalf("rank = %d, want %d", rank, tc.want)
			}
		})
	}
}

func TestRequireRank(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	managerID := seedUser(t, store, "mgr", rbac.RoleManager)

	if err := svc.RequireRank(ctx, managerID, rbac.RankManager); err != nil {
		t.Fatal(err)
	}
	if err := svc.RequireRank(ctx, managerID, rbac.RankAdmin); !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	viewerID := seedUser(t, store, "viewer", rbac.RoleDocumentViewer)
	plainID := seedUser(t, store, "plain", rbac.RoleUser)

	if ok, err := svc.HasPermission(ctx, viewerID, rbac.PermReadDocuments); err != nil || !ok {
		t.Fatalf("viewer read = %v, err %v", ok, err)
	}
	if ok, _ := svc.HasPermission(ctx, viewerID, rbac.PermWriteDocuments); ok {
		t.Fatal("viewer must not write")
	}
	// The plain USER role deliberately carries no permissions.
	if ok, _ := svc.HasPermission(ctx, plainID, rbac.PermReadDocuments); ok {
		t.Fatal("plain user must not read documents")
	}
}

func TestAssignAndRevokeRoleIdempotent(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	id := seedUser(t, store, "bob", rbac.RoleUser)

	if err := svc.AssignRole(ctx, id, rbac.RoleDocumentEditor); err != nil {
		t.Fatal(err)
	}
	// Assigning again is a no-op success.
	if err := svc.AssignRole(ctx, id, rbac.RoleDocumentEditor); err != nil {
		t.Fatal(err)
	}
	if ok, _ := svc.HasPermission(ctx, id, rbac.PermWriteDocuments); !ok {
		t.Fatal("editor must write")
	}

	if err := svc.RevokeRole(ctx, id, rbac.RoleDocumentEditor); err != nil {
		t.Fatal(err)
	}
	if err := svc.RevokeRole(ctx, id, rbac.RoleDocumentEditor); err != nil {
		t.Fatal(err)
	}
	if ok, _ := svc.HasPermission(ctx, id, rbac.PermWriteDocuments); ok {
		t.Fatal("revoked editor must not write")
	}
}

func TestAssignUnknownRole(t *testing.T) {
	svc, store := newService(t)
	id := seedUser(t, store, "bob", rbac.RoleUser)

	if err := svc.AssignRole(context.Background(), id, "SUPERUSER"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListUserRolesSkipsUnknownNames(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	// A stale membership referencing a role that left the catalog.
	id := seedUser(t, store, "bob", rbac.RoleUser, "RETIRED_ROLE")

	roles, err := svc.ListUserRoles(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[0].Name != rbac.RoleUser {
		t.Fatalf("roles = %+v", roles)
	}
}
