package httpapi

import (
	"net/http"
	"strings"

	"sentra.org/internal/audit"
	"sentra.org/internal/rbac"
)

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := currentUserID(w, r); !ok {
		return
	}
	roles, err := a.rbac.ListRoles(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensureAuthorized(w, r, rbac.Requirement{MinRank: rbac.RankAdmin, Permission: rbac.PermManageUsers}) {
		return
	}
	users, err := a.identity.Users(r.Context())
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleUserScoped routes /v1/users/{id}/roles[/{role}], /block, /unblock.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]
	if len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch parts[1] {
	case "roles":
		switch len(parts) {
		case 2:
			a.handleUserRoles(w, r, userID)
		case 3:
			a.handleUserRole(w, r, userID, parts[2])
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	case "block":
		a.handleSetBlocked(w, r, userID, true)
	case "unblock":
		a.handleSetBlocked(w, r, userID, false)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		actorID, ok := currentUserID(w, r)
		if !ok {
			return
		}
		// Users can read their own roles; anyone else's require admin.
		if actorID != userID {
			if !a.ensureAuthorized(w, r, rbac.Requirement{MinRank: rbac.RankAdmin, Permission: rbac.PermAssignRoles}) {
				return
			}
		}
		roles, err := a.rbac.ListUserRoles(r.Context(), userID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensureAuthorized(w, r, rbac.Requirement{MinRank: rbac.RankAdmin, Permission: rbac.PermAssignRoles}) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.AssignRole(r.Context(), userID, req.Role); err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.assigned", map[string]any{
			"user_id": userID,
			"role":    req.Role,
		})
		writeJSON(w, http.StatusOK, map[string]any{"assigned": true})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, userID, roleName string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensureAuthorized(w, r, rbac.Requirement{MinRank: rbac.RankAdmin, Permission: rbac.PermAssignRoles}) {
		return
	}
	if err := a.rbac.RevokeRole(r.Context(), userID, roleName); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.revoked", map[string]any{
		"user_id": userID,
		"role":    roleName,
	})
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

func (a *API) handleSetBlocked(w http.ResponseWriter, r *http.Request, userID string, blocked bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensureAuthorized(w, r, rbac.Requirement{MinRank: rbac.RankAdmin, Permission: rbac.PermManageUsers}) {
		return
	}
	if err := a.identity.SetBlocked(r.Context(), userID, blocked); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	event := "user.unblocked"
	if blocked {
		event = "user.blocked"
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{"user_id": userID})
	writeJSON(w, http.StatusOK, map[string]any{"blocked": blocked})
}

// ensureAuthorized evaluates the requirement against the current user and
// replies 401/403 on its own when the check fails.
func (a *API) ensureAuthorized(w http.ResponseWriter, r *http.Request, req rbac.Requirement) bool {
	userID, ok := currentUserID(w, r)
	if !ok {
		return false
	}
	decision, err := a.authz.Authorize(r.Context(), userID, req)
	if err != nil {
		handleRBACError(w, r, err)
		return false
	}
	if !decision.Allowed {
		writeError(w, r, http.StatusForbidden, decision.Reason)
		return false
	}
	return true
}
