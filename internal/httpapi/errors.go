package httpapi

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ma496/EasyForNet-sub002/internal/audit"
	"github.com/ma496/EasyForNet-sub002/internal/auth"
	"github.com/ma496/EasyForNet-sub002/internal/obs"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
	// detail echoes the wrapped message. Only set for errors whose text is
	// composed by the service layer; the rest report the sentinel text.
	detail bool
}

// Order matters: specific sentinels before the generic ones they may wrap.
var errorMappings = []errorMapping{
	{auth.ErrInvalidUsernamePassword, http.StatusUnauthorized, "invalid_username_password", false},
	{auth.ErrInvalidEmailPassword, http.StatusUnauthorized, "invalid_email_password", false},
	{auth.ErrUserNotActive, http.StatusForbidden, "user_not_active", false},
	{auth.ErrEmailNotVerified, http.StatusForbidden, "email_not_verified", false},
	{auth.ErrTokenExpired, http.StatusUnauthorized, "token_expired", false},
	{auth.ErrTokenAlreadyUsed, http.StatusBadRequest, "token_already_used", false},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "invalid_token", false},
	{auth.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", false},
	{auth.ErrForbidden, http.StatusForbidden, "forbidden", false},
	{auth.ErrDefaultRoleCannotBeDeleted, http.StatusConflict, "default_role_cannot_be_deleted", false},
	{auth.ErrDefaultRoleCannotBeUpdated, http.StatusConflict, "default_role_cannot_be_updated", false},
	{auth.ErrDefaultRolePermissionsCannotBeChanged, http.StatusConflict, "default_role_permissions_cannot_be_changed", false},
	{auth.ErrDefaultUserCannotBeDeleted, http.StatusConflict, "default_user_cannot_be_deleted", false},
	{auth.ErrDefaultUserCannotBeUpdated, http.StatusConflict, "default_user_cannot_be_updated", false},
	{auth.ErrConflict, http.StatusConflict, "conflict", true},
	{auth.ErrInvalidInput, http.StatusBadRequest, "invalid_input", true},
	{auth.ErrNotFound, http.StatusNotFound, "not_found", false},
}

// respondErr maps a service error to its HTTP form. Unknown errors are
// logged and reported as a bare 500.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.target.Error()
		if m.detail {
			msg = err.Error()
		}
		body := errorBody{Error: msg, Code: m.code, RequestID: audit.RequestID(r.Context())}
		if field, ok := auth.ConflictField(err); ok {
			body.Field = field
		}
		writeJSON(w, m.status, body)
		return
	}
	obs.Logger().WithError(err).WithFields(logrus.Fields{
		"request_id": audit.RequestID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	}).Error("unhandled error")
	writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code, RequestID: audit.RequestID(r.Context())})
}
