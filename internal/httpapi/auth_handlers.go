package httpapi

import (
	"errors"
	"net/http"

	"sentra.org/internal/audit"
	"sentra.org/internal/identity"
	"sentra.org/internal/obs"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resendCodeRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type verify2FARequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

type loginResponse struct {
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
	ExpiresAt string `json:"expires_at"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.identity.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.user.registered", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.identity.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.email.verified", map[string]any{
		"email": req.Email,
	})
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

func (a *API) handleResendCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resendCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.identity.ResendCode(r.Context(), req.Email); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		obs.ObserveLogin(loginOutcome(err))
		handleIdentityError(w, r, err)
		return
	}
	obs.ObserveLogin("ok")
	_ = audit.LogEvent(r.Context(), "auth.login.challenge", map[string]any{
		"user_id":    sess.UserID,
		"session_id": sess.ID,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		SessionID: sess.ID,
		Stage:     string(sess.Stage),
		ExpiresAt: sess.ExpiresAt.Format(timeFormat),
	})
}

func (a *API) handleVerify2FA(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verify2FARequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, sess, err := a.identity.Verify2FA(r.Context(), req.SessionID, req.Code)
	if err != nil {
		if errors.Is(err, identity.ErrLockedOut) {
			obs.ObserveLockout()
			_ = audit.LogEvent(r.Context(), "auth.2fa.lockout", map[string]any{
				"session_id": req.SessionID,
			})
		}
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login.completed", map[string]any{
		"user_id":    sess.UserID,
		"session_id": sess.ID,
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt.Format(timeFormat),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sessionID, ok := identity.SessionIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.identity.Logout(r.Context(), sessionID); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"session_id": sessionID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	user, err := a.identity.User(r.Context(), userID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	roles, err := a.rbac.ListUserRoles(r.Context(), userID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  user,
		"roles": roles,
	})
}

func loginOutcome(err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "invalid"
	case errors.Is(err, identity.ErrBlocked):
		return "blocked"
	case errors.Is(err, identity.ErrEmailNotVerified):
		return "unverified"
	default:
		return "error"
	}
}
