package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

func withClaims(r *http.Request, roles []string, perms ...string) *http.Request {
	c := &auth.Claims{Roles: roles, Permissions: perms}
	c.Subject = "user-1"
	return r.WithContext(auth.ContextWithClaims(r.Context(), c))
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole("admin")(okHandler())
	req := withClaims(httptest.NewRequest(http.MethodGet, "/internal", nil), []string{"Admin"})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole("admin")(okHandler())
	req := withClaims(httptest.NewRequest(http.MethodGet, "/internal", nil), []string{"viewer"})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
}

func TestRequireRoleRejectsMissingUser(t *testing.T) {
	handler := RequireRole("admin")(okHandler())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/internal", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
}

func TestRequirePermissionUsesClaimsOnly(t *testing.T) {
	handler := requirePermission(auth.PermRoleDelete, okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, withClaims(httptest.NewRequest(http.MethodDelete, "/v1/roles/x", nil), []string{"Admin"}, auth.PermRoleDelete))
	assert.Equal(t, http.StatusOK, rr.Code)

	create := requirePermission(auth.PermRoleCreate, okHandler())
	rr = httptest.NewRecorder()
	create.ServeHTTP(rr, withClaims(httptest.NewRequest(http.MethodPost, "/v1/roles", nil), []string{"Admin"}, auth.PermRoleDelete))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := extractBearerToken("bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	for _, h := range []string{"", "Basic xyz", "Bearer   ", "Bear"} {
		_, err := extractBearerToken(h)
		assert.Error(t, err, h)
	}
}
