package httpapi

import (
	"net/http"
	"strings"

	"sentra.org/internal/rbac"
)

// handleResources serves the tiered demo resources. The three rank-gated
// panels exercise pure RBAC; documents additionally accept a live JIT grant
// on the exact document.
func (a *API) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/resources/"), "/")
	switch path {
	case "admin":
		a.serveRankedResource(w, r, "admin", rbac.RankAdmin)
	case "manager":
		a.serveRankedResource(w, r, "manager", rbac.RankManager)
	case "user":
		a.serveRankedResource(w, r, "user", rbac.RankUser)
	default:
		parts := strings.Split(path, "/")
		if len(parts) == 2 && parts[0] == "documents" && parts[1] != "" {
			a.serveDocument(w, r, parts[1])
			return
		}
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) serveRankedResource(w http.ResponseWriter, r *http.Request, name string, minRank rbac.Rank) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	decision, err := a.authz.Authorize(r.Context(), userID, rbac.Requirement{MinRank: minRank})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	if !decision.Allowed {
		writeError(w, r, http.StatusForbidden, decision.Reason)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource": name,
		"message":  "access granted to " + name + " resource",
		"via":      decision.Via,
	})
}

func (a *API) serveDocument(w http.ResponseWriter, r *http.Request, docID string) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	decision, err := a.authz.Authorize(r.Context(), userID, rbac.Requirement{
		MinRank:      rbac.RankManager,
		Permission:   rbac.PermReadDocuments,
		ResourceType: "document",
		ResourceID:   docID,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	if !decision.Allowed {
		writeError(w, r, http.StatusForbidden, decision.Reason)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":    "document",
		"document_id": docID,
		"message":     "access granted to document " + docID,
		"via":         decision.Via,
	})
}
