package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ma496/EasyForNet-sub002/internal/audit"
	"github.com/ma496/EasyForNet-sub002/internal/auth"
	"github.com/ma496/EasyForNet-sub002/internal/obs"
)

type signInRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	UserID       string `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type meResponse struct {
	auth.User
	Roles       []auth.Role `json:"roles"`
	Permissions []string    `json:"permissions"`
}

func (a *API) authRoutes() []route {
	return []route{
		{method: http.MethodPost, path: "/v1/auth/sign-in", handler: a.handleSignIn},
		{method: http.MethodPost, path: "/v1/auth/refresh", handler: a.handleRefresh},
		{method: http.MethodPost, path: "/v1/auth/forgot-password", handler: a.handleForgotPassword},
		{method: http.MethodPost, path: "/v1/auth/reset-password", handler: a.handleResetPassword},
		{method: http.MethodPost, path: "/v1/auth/confirm-email", handler: a.handleConfirmEmail},
		{method: http.MethodPost, path: "/v1/auth/sign-out", authenticated: true, handler: a.handleSignOut},
		{method: http.MethodPost, path: "/v1/auth/change-password", authenticated: true, handler: a.handleChangePassword},
		{method: http.MethodPost, path: "/v1/auth/verify-email", authenticated: true, handler: a.handleVerifyEmail},
	}
}

func (a *API) profileRoutes() []route {
	return []route{
		{method: http.MethodGet, path: "/v1/me", perm: auth.PermProfileView, handler: a.handleMe},
		{method: http.MethodPut, path: "/v1/me", perm: auth.PermProfileUpdate, handler: a.handleUpdateMe},
	}
}

// The username field may carry an email address; email is used when it is empty.
func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !bind(w, r, &req) {
		return
	}
	identifier := strings.TrimSpace(req.Username)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}
	creds, err := a.accounts.SignIn(r.Context(), identifier, req.Password)
	obs.RecordSignIn(signInOutcome(err))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSignIn, map[string]any{
		"user_id":    creds.UserID,
		"session_id": creds.SessionID,
	})
	writeJSON(w, http.StatusOK, creds)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !bind(w, r, &req) {
		return
	}
	creds, err := a.accounts.Refresh(r.Context(), req.UserID, req.RefreshToken)
	obs.RecordRefresh(refreshOutcome(err))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	all := false
	if v := r.URL.Query().Get("all"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "all must be a boolean")
			return
		}
		all = b
	}
	if err := a.accounts.SignOut(r.Context(), claims, all); err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSignOut, map[string]any{"all": all, "session_id": claims.SessionID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !bind(w, r, &req) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := a.accounts.ChangePassword(r.Context(), claims, req.CurrentPassword, req.NewPassword); err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPasswordChanged, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := a.accounts.RequestEmailVerification(r.Context(), claims.Subject); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !bind(w, r, &req) {
		return
	}
	user, err := a.accounts.ConfirmEmail(r.Context(), req.Token)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventEmailConfirmed, map[string]any{"user_id": user.ID})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !bind(w, r, &req) {
		return
	}
	if err := a.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !bind(w, r, &req) {
		return
	}
	if err := a.accounts.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPasswordReset, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	user, roles, err := a.accounts.Me(r.Context(), claims.Subject)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	perms := claims.Permissions
	if perms == nil {
		perms = []string{}
	}
	writeJSON(w, http.StatusOK, meResponse{User: user, Roles: roles, Permissions: perms})
}

func (a *API) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req auth.ProfileUpdate
	if !bind(w, r, &req) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	user, err := a.accounts.UpdateProfile(r.Context(), claims.Subject, req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func signInOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, auth.ErrInvalidUsernamePassword), errors.Is(err, auth.ErrInvalidEmailPassword):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrUserNotActive):
		return "inactive"
	case errors.Is(err, auth.ErrEmailNotVerified):
		return "unverified"
	default:
		return "error"
	}
}

func refreshOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid"
	case errors.Is(err, auth.ErrUserNotActive):
		return "inactive"
	default:
		return "error"
	}
}
