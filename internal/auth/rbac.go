package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ma496/EasyForNet-sub002/internal/ids"
)

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID string) (int64, error)
}

// RoleInput describes a role to create.
type RoleInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// RoleUpdate is a partial role edit. Nil fields are left alone.
type RoleUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// RoleDetail is a role together with the names of its granted permissions.
type RoleDetail struct {
	Role
	Permissions []string `json:"permissions"`
}

// UserInput describes a user to create.
type UserInput struct {
	Username        string   `json:"username"`
	Email           string   `json:"email"`
	Password        string   `json:"password"`
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name"`
	IsActive        *bool    `json:"is_active"`
	IsEmailVerified bool     `json:"is_email_verified"`
	RoleIDs         []string `json:"role_ids"`
}

// UserUpdate is a partial user edit. Nil fields are left alone.
type UserUpdate struct {
	Username        *string `json:"username"`
	Email           *string `json:"email"`
	Password        *string `json:"password"`
	FirstName       *string `json:"first_name"`
	LastName        *string `json:"last_name"`
	ProfileImage    *string `json:"profile_image"`
	IsActive        *bool   `json:"is_active"`
	IsEmailVerified *bool   `json:"is_email_verified"`
}

// UserDetail is a user together with its roles.
type UserDetail struct {
	User
	Roles []Role `json:"roles"`
}

// RBACService manages permissions, roles and users on behalf of
// administrators. Default roles and users are protected from edits.
type RBACService struct {
	store    Store
	catalog  *Catalog
	sessions SessionRevoker
	now      func() time.Time
}

// RBACOption configures RBACService.
type RBACOption func(*RBACService)

// WithSessionRevoker ends a user's sessions after role, password or
// activation changes.
func WithSessionRevoker(r SessionRevoker) RBACOption {
	return func(s *RBACService) { s.sessions = r }
}

// WithRBACClock overrides the time source.
func WithRBACClock(fn func() time.Time) RBACOption {
	return func(s *RBACService) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewRBACService(store Store, catalog *Catalog, opts ...RBACOption) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	s := &RBACService{store: store, catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Definitions returns the pruned permission tree.
func (s *RBACService) Definitions() []*PermissionDefinition {
	return s.catalog.GetPermissions()
}

func (s *RBACService) ListPermissions(ctx context.Context, q ListQuery) (Page[Permission], error) {
	q, err := q.Normalize(PermissionSortKeys)
	if err != nil {
		return Page[Permission]{}, err
	}
	return s.store.Permissions().List(ctx, q)
}

func (s *RBACService) CreateRole(ctx context.Context, in RoleInput) (RoleDetail, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return RoleDetail{}, invalidInput("role name is required")
	}
	perms, err := s.grantable(in.Permissions)
	if err != nil {
		return RoleDetail{}, err
	}
	by := Actor(ctx)
	now := s.now().UTC()
	role := Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Audit:       Audit{CreatedAt: now, CreatedBy: by, UpdatedAt: now, UpdatedBy: by},
	}
	role.Normalize()
	if err := s.store.Roles().Create(ctx, &role); err != nil {
		return RoleDetail{}, err
	}
	if len(perms) > 0 {
		if err := s.store.Roles().SetPermissions(ctx, role.ID, perms, by); err != nil {
			return RoleDetail{}, s.undo(ctx, err, func(ctx context.Context) error {
				return s.store.Roles().Delete(ctx, role.ID)
			})
		}
	}
	return RoleDetail{Role: role, Permissions: nonNil(perms)}, nil
}

func (s *RBACService) GetRole(ctx context.Context, roleID string) (RoleDetail, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return RoleDetail{}, invalidInput("role_id is required")
	}
	role, err := s.store.Roles().Get(ctx, roleID)
	if err != nil {
		return RoleDetail{}, err
	}
	perms, err := s.store.Roles().Permissions(ctx, roleID)
	if err != nil {
		return RoleDetail{}, err
	}
	return RoleDetail{Role: role, Permissions: nonNil(permissionNames(perms))}, nil
}

func (s *RBACService) ListRoles(ctx context.Context, q ListQuery) (Page[Role], error) {
	q, err := q.Normalize(RoleSortKeys)
	if err != nil {
		return Page[Role]{}, err
	}
	return s.store.Roles().List(ctx, q)
}

// UpdateRole edits name and description. Default roles keep their exact name.
func (s *RBACService) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, invalidInput("role_id is required")
	}
	role, err := s.store.Roles().Get(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	var ch RoleChanges
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, invalidInput("role name is required")
		}
		if role.Default && name != role.Name {
			return Role{}, ErrDefaultRoleCannotBeUpdated
		}
		if name != role.Name {
			ch.SetName(name)
		}
	}
	if upd.Description != nil {
		ch.SetDescription(strings.TrimSpace(*upd.Description))
	}
	if ch.Empty() {
		return role, nil
	}
	ch.UpdatedBy = Actor(ctx)
	return s.store.Roles().Update(ctx, roleID, ch)
}

func (s *RBACService) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return invalidInput("role_id is required")
	}
	role, err := s.store.Roles().Get(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Default {
		return ErrDefaultRoleCannotBeDeleted
	}
	return s.store.Roles().Delete(ctx, roleID)
}

// SetRolePermissions replaces the grants of a non-default role. Every name
// must be a grantable catalog leaf.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleID string, permissions []string) ([]string, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, invalidInput("role_id is required")
	}
	perms, err := s.grantable(permissions)
	if err != nil {
		return nil, err
	}
	role, err := s.store.Roles().Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.Default {
		return nil, ErrDefaultRolePermissionsCannotBeChanged
	}
	if err := s.store.Roles().SetPermissions(ctx, roleID, perms, Actor(ctx)); err != nil {
		return nil, err
	}
	return nonNil(perms), nil
}

func (s *RBACService) CreateUser(ctx context.Context, in UserInput) (UserDetail, error) {
	username, err := validUsername(in.Username)
	if err != nil {
		return UserDetail{}, err
	}
	email, err := validEmail(in.Email)
	if err != nil {
		return UserDetail{}, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return UserDetail{}, err
	}
	roleIDs, err := s.existingRoles(ctx, in.RoleIDs)
	if err != nil {
		return UserDetail{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return UserDetail{}, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	by := Actor(ctx)
	now := s.now().UTC()
	user := User{
		ID:              ids.New(),
		Username:        username,
		Email:           email,
		PasswordHash:    hash,
		FirstName:       strings.TrimSpace(in.FirstName),
		LastName:        strings.TrimSpace(in.LastName),
		IsActive:        active,
		IsEmailVerified: in.IsEmailVerified,
		Audit:           Audit{CreatedAt: now, CreatedBy: by, UpdatedAt: now, UpdatedBy: by},
	}
	user.Normalize()
	if err := s.store.Users().Create(ctx, &user); err != nil {
		return UserDetail{}, err
	}
	if len(roleIDs) > 0 {
		if err := s.store.Users().SetRoles(ctx, user.ID, roleIDs, by); err != nil {
			return UserDetail{}, s.undo(ctx, err, func(ctx context.Context) error {
				return s.store.Users().Delete(ctx, user.ID)
			})
		}
	}
	return s.GetUser(ctx, user.ID)
}

func (s *RBACService) GetUser(ctx context.Context, userID string) (UserDetail, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserDetail{}, invalidInput("user_id is required")
	}
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return UserDetail{}, err
	}
	roles, err := s.store.Users().Roles(ctx, userID)
	if err != nil {
		return UserDetail{}, err
	}
	if roles == nil {
		roles = []Role{}
	}
	return UserDetail{User: user, Roles: roles}, nil
}

func (s *RBACService) ListUsers(ctx context.Context, q ListQuery) (Page[User], error) {
	q, err := q.Normalize(UserSortKeys)
	if err != nil {
		return Page[User]{}, err
	}
	return s.store.Users().List(ctx, q)
}

// UpdateUser applies an administrative edit. Changing the email clears its
// verified flag unless the edit sets it explicitly. Deactivation and password
// changes end the user's sessions.
func (s *RBACService) UpdateUser(ctx context.Context, userID string, upd UserUpdate) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, invalidInput("user_id is required")
	}
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.Default {
		return User{}, ErrDefaultUserCannotBeUpdated
	}

	var ch UserChanges
	if upd.Username != nil {
		username, err := validUsername(*upd.Username)
		if err != nil {
			return User{}, err
		}
		if username != user.Username {
			ch.SetUsername(username)
		}
	}
	if upd.Email != nil {
		email, err := validEmail(*upd.Email)
		if err != nil {
			return User{}, err
		}
		if email != user.Email {
			ch.SetEmail(email)
		}
	}
	if upd.Password != nil {
		if err := ValidatePassword(*upd.Password); err != nil {
			return User{}, err
		}
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return User{}, err
		}
		ch.SetPasswordHash(hash)
	}
	if upd.FirstName != nil {
		ch.SetFirstName(strings.TrimSpace(*upd.FirstName))
	}
	if upd.LastName != nil {
		ch.SetLastName(strings.TrimSpace(*upd.LastName))
	}
	if upd.ProfileImage != nil {
		ch.SetProfileImage(strings.TrimSpace(*upd.ProfileImage))
	}
	if upd.IsActive != nil {
		ch.SetActive(*upd.IsActive)
	}
	if upd.IsEmailVerified != nil {
		ch.SetEmailVerified(*upd.IsEmailVerified)
	}
	if ch.Empty() {
		return user, nil
	}
	ch.UpdatedBy = Actor(ctx)
	updated, err := s.store.Users().Update(ctx, userID, ch)
	if err != nil {
		return User{}, err
	}
	if ch.PasswordHash != nil || (user.IsActive && !updated.IsActive) {
		if err := s.revoke(ctx, userID); err != nil {
			return User{}, err
		}
	}
	return updated, nil
}

func (s *RBACService) DeleteUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return invalidInput("user_id is required")
	}
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return err
	}
	if user.Default {
		return ErrDefaultUserCannotBeDeleted
	}
	return s.store.Users().Delete(ctx, userID)
}

// SetUserRoles replaces the user's role assignments and ends the user's
// sessions so that the next sign-in carries the new claims.
func (s *RBACService) SetUserRoles(ctx context.Context, userID string, roleIDs []string) ([]Role, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidInput("user_id is required")
	}
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Default {
		return nil, ErrDefaultUserCannotBeUpdated
	}
	if err := s.store.Users().SetRoles(ctx, userID, dedupeStrings(roleIDs), Actor(ctx)); err != nil {
		return nil, err
	}
	if err := s.revoke(ctx, userID); err != nil {
		return nil, err
	}
	roles, err := s.store.Users().Roles(ctx, userID)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []Role{}
	}
	return roles, nil
}

func (s *RBACService) revoke(ctx context.Context, userID string) error {
	if s.sessions == nil {
		return nil
	}
	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

// existingRoles de-duplicates ids and checks that each names a stored role.
func (s *RBACService) existingRoles(ctx context.Context, roleIDs []string) ([]string, error) {
	roleIDs = dedupeStrings(roleIDs)
	for _, id := range roleIDs {
		if _, err := s.store.Roles().Get(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, invalidInput("unknown role %q", id)
			}
			return nil, err
		}
	}
	return roleIDs, nil
}

// undo removes a half-created row after a failed follow-up write and returns
// the original error. The cleanup runs even if ctx was canceled.
func (s *RBACService) undo(ctx context.Context, cause error, remove func(ctx context.Context) error) error {
	if err := remove(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrNotFound) {
		return errors.Join(cause, fmt.Errorf("undo create: %w", err))
	}
	return cause
}

func (s *RBACService) grantable(names []string) ([]string, error) {
	names = dedupeStrings(names)
	for _, n := range names {
		if !s.catalog.IsGrantable(n) {
			return nil, invalidInput("unknown permission %q", n)
		}
	}
	return names, nil
}

func validUsername(v string) (string, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return "", invalidInput("username is required")
	case strings.ContainsAny(v, "@ \t\r\n"):
		return "", invalidInput("username must not contain '@' or whitespace")
	case len(v) > 64:
		return "", invalidInput("username is too long")
	}
	return v, nil
}

func validEmail(v string) (string, error) {
	v = strings.TrimSpace(v)
	at := strings.LastIndex(v, "@")
	if at <= 0 || at == len(v)-1 || strings.ContainsAny(v, " \t\r\n") {
		return "", invalidInput("valid email is required")
	}
	return v, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
