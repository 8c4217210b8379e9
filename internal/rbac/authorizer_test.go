package rbac_test

import (
	"context"
	"testing"

	"sentra.org/internal/rbac"
)

type staticGrants map[string]bool

func (g staticGrants) HasActiveGrant(_ context.Context, userID, resourceType, resourceID string) (bool, error) {
	return g[userID+"/"+resourceType+"/"+resourceID], nil
}

func TestAuthorizeOrder(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	adminID := seedUser(t, store, "root", rbac.RoleAdmin)
	viewerID := seedUser(t, store, "viewer", rbac.RoleDocumentViewer)
	plainID := seedUser(t, store, "plain", rbac.RoleUser)

	grants := staticGrants{plainID + "/document/doc-1": true}
	authz := rbac.NewAuthorizer(svc, grants)

	docReq := rbac.Requirement{
		MinRank:      rbac.RankManager,
		Permission:   rbac.PermReadDocuments,
		ResourceType: "document",
		ResourceID:   "doc-1",
	}

	cases := []struct {
		name    string
		userID  string
		req     rbac.Requirement
		allowed bool
		via     string
	}{
		{"rank wins first", adminID, docReq, true, "rank"},
		{"permission when rank short", viewerID, docReq, true, "permission"},
		{"grant as last resort", plainID, docReq, true, "grant"},
		{"denied without any", plainID, rbac.Requirement{
			MinRank:      rbac.RankManager,
			Permission:   rbac.PermReadDocuments,
			ResourceType: "document",
			ResourceID:   "doc-2",
		}, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := authz.Authorize(ctx, tc.userID, tc.req)
			if err != nil {
				t.Fatal(err)
			}
			if d.Allowed != tc.allowed || d.Via != tc.via {
				t.Fatalf("decision = %+v", d)
			}
			if !tc.allowed && d.Reason != rbac.ReasonInsufficientPrivilege {
				t.Fatalf("reason = %q", d.Reason)
			}
		})
	}
}

func TestAuthorizeGrantDoesNotCoverRankOnlyChecks(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	plainID := seedUser(t, store, "plain", rbac.RoleUser)

	grants := staticGrants{plainID + "/panel/admin": true}
	authz := rbac.NewAuthorizer(svc, grants)

	// Rank-only requirements carry no resource scope, so a grant cannot help.
	d, err := authz.Authorize(ctx, plainID, rbac.Requirement{MinRank: rbac.RankAdmin})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("grant must not satisfy a pure rank requirement")
	}
}

func TestAuthorizeNilGrantChecker(t *testing.T) {
	svc, store := newService(t)
	plainID := seedUser(t, store, "plain", rbac.RoleUser)
	authz := rbac.NewAuthorizer(svc, nil)

	d, err := authz.Authorize(context.Background(), plainID, rbac.Requirement{
		MinRank:      rbac.RankManager,
		ResourceType: "document",
		ResourceID:   "doc-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("no grant checker means resource checks fall through to denial")
	}
}
