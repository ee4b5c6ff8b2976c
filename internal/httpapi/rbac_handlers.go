package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ma496/EasyForNet-sub002/internal/audit"
	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type userRolesRequest struct {
	RoleIDs []string `json:"role_ids"`
}

func (a *API) permissionRoutes() []route {
	return []route{
		{method: http.MethodGet, path: "/v1/permissions/definitions", perm: auth.PermPermissionView, handler: a.handlePermissionDefinitions},
		{method: http.MethodGet, path: "/v1/permissions", perm: auth.PermPermissionView, handler: a.handleListPermissions},
	}
}

func (a *API) roleRoutes() []route {
	return []route{
		{method: http.MethodGet, path: "/v1/roles", perm: auth.PermRoleView, handler: a.handleListRoles},
		{method: http.MethodPost, path: "/v1/roles", perm: auth.PermRoleCreate, handler: a.handleCreateRole},
		{method: http.MethodGet, path: "/v1/roles/{id}", perm: auth.PermRoleView, handler: a.handleGetRole},
		{method: http.MethodPut, path: "/v1/roles/{id}", perm: auth.PermRoleUpdate, handler: a.handleUpdateRole},
		{method: http.MethodDelete, path: "/v1/roles/{id}", perm: auth.PermRoleDelete, handler: a.handleDeleteRole},
		{method: http.MethodPut, path: "/v1/roles/{id}/permissions", perm: auth.PermRoleChangePermissions, handler: a.handleSetRolePermissions},
	}
}

func (a *API) userRoutes() []route {
	return []route{
		{method: http.MethodGet, path: "/v1/users", perm: auth.PermUserView, handler: a.handleListUsers},
		{method: http.MethodPost, path: "/v1/users", perm: auth.PermUserCreate, handler: a.handleCreateUser},
		{method: http.MethodGet, path: "/v1/users/{id}", perm: auth.PermUserView, handler: a.handleGetUser},
		{method: http.MethodPut, path: "/v1/users/{id}", perm: auth.PermUserUpdate, handler: a.handleUpdateUser},
		{method: http.MethodDelete, path: "/v1/users/{id}", perm: auth.PermUserDelete, handler: a.handleDeleteUser},
		{method: http.MethodPut, path: "/v1/users/{id}/roles", perm: auth.PermUserChangeRoles, handler: a.handleSetUserRoles},
	}
}

func (a *API) handlePermissionDefinitions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.rbac.Definitions()})
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	q, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	page, err := a.rbac.ListPermissions(r.Context(), q)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	q, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	page, err := a.rbac.ListRoles(r.Context(), q)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req auth.RoleInput
	if !bind(w, r, &req) {
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleCreated, map[string]any{
		"role_id":     role.ID,
		"name":        role.Name,
		"permissions": len(role.Permissions),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.rbac.GetRole(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req auth.RoleUpdate
	if !bind(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	role, err := a.rbac.UpdateRole(r.Context(), id, req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleUpdated, map[string]any{"role_id": id})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.rbac.DeleteRole(r.Context(), id); err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleDeleted, map[string]any{"role_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req rolePermissionsRequest
	if !bind(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	perms, err := a.rbac.SetRolePermissions(r.Context(), id, req.Permissions)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRolePermissionsSet, map[string]any{
		"role_id": id,
		"count":   len(perms),
	})
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	page, err := a.rbac.ListUsers(r.Context(), q)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.UserInput
	if !bind(w, r, &req) {
		return
	}
	user, err := a.rbac.CreateUser(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserCreated, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.rbac.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.UserUpdate
	if !bind(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	user, err := a.rbac.UpdateUser(r.Context(), id, req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserUpdated, map[string]any{"user_id": id})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.rbac.DeleteUser(r.Context(), id); err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserDeleted, map[string]any{"user_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetUserRoles(w http.ResponseWriter, r *http.Request) {
	var req userRolesRequest
	if !bind(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	roles, err := a.rbac.SetUserRoles(r.Context(), id, req.RoleIDs)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserRolesSet, map[string]any{
		"user_id": id,
		"count":   len(roles),
	})
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// parseListQuery reads page, page_size, search, sort and order. Range and
// sort-key checks happen in the service.
func parseListQuery(w http.ResponseWriter, r *http.Request) (auth.ListQuery, bool) {
	v := r.URL.Query()
	var q auth.ListQuery
	var err error
	if q.Page, err = intParam(v, "page"); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return auth.ListQuery{}, false
	}
	if q.PageSize, err = intParam(v, "page_size"); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return auth.ListQuery{}, false
	}
	q.Search = v.Get("search")
	q.SortBy = v.Get("sort")
	switch strings.ToLower(v.Get("order")) {
	case "", "asc":
	case "desc":
		q.SortDesc = true
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_input", "order must be asc or desc")
		return auth.ListQuery{}, false
	}
	return q, true
}

func intParam(v url.Values, key string) (int, error) {
	raw := strings.TrimSpace(v.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}
