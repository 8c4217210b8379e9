package httpapi

import (
	"net/http"
	"strings"

	"sentra.org/internal/audit"
)

type accessRequestCreate struct {
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (a *API) handleAccessRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	var req accessRequestCreate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.jit.RequestAccess(r.Context(), userID, req.ResourceType, req.ResourceID, req.Reason, req.DurationMinutes)
	if err != nil {
		handleJITError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "jit.request.created", map[string]any{
		"request_id":    created.ID,
		"resource_type": created.ResourceType,
		"resource_id":   created.ResourceID,
	})
	writeJSON(w, http.StatusCreated, created)
}

// handleAccessRequestScoped routes /v1/access-requests/{mine|pending|report|active}
// and /v1/access-requests/{id}/{approve|reject|revoke}.
func (a *API) handleAccessRequestScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/access-requests/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch parts[0] {
	case "mine":
		a.handleMyRequests(w, r)
		return
	case "pending":
		a.handlePendingRequests(w, r)
		return
	case "report":
		a.handleAccessReport(w, r)
		return
	case "active":
		a.handleActiveGrant(w, r)
		return
	}
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	requestID := parts[0]
	switch parts[1] {
	case "approve":
		a.handleDecision(w, r, requestID, "approve")
	case "reject":
		a.handleDecision(w, r, requestID, "reject")
	case "revoke":
		a.handleDecision(w, r, requestID, "revoke")
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleMyRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	list, err := a.jit.ListMine(r.Context(), userID)
	if err != nil {
		handleJITError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (a *API) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	list, err := a.jit.ListPending(r.Context(), userID)
	if err != nil {
		handleJITError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (a *API) handleAccessReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	report, err := a.jit.ListAll(r.Context(), userID)
	if err != nil {
		handleJITError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleActiveGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	resourceType := strings.TrimSpace(r.URL.Query().Get("resource_type"))
	resourceID := strings.TrimSpace(r.URL.Query().Get("resource_id"))
	if resourceType == "" || resourceID == "" {
		writeError(w, r, http.StatusBadRequest, "resource_type and resource_id are required")
		return
	}
	grant, err := a.jit.GetActiveGrant(r.Context(), userID, resourceType, resourceID)
	if err != nil {
		handleJITError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (a *API) handleDecision(w http.ResponseWriter, r *http.Request, requestID, action string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actorID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	var (
		req any
		err error
	)
	switch action {
	case "approve":
		req, err = a.jit.Approve(r.Context(), requestID, actorID)
	case "reject":
		req, err = a.jit.Reject(r.Context(), requestID, actorID)
	case "revoke":
		req, err = a.jit.Revoke(r.Context(), requestID, actorID)
	}
	if err != nil {
		handleJITError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "jit.request."+action, map[string]any{
		"request_id": requestID,
	})
	writeJSON(w, http.StatusOK, req)
}
