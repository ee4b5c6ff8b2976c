package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity core.
// Uniqueness and atomicity are the store's job: implementations must report
// unique violations as *ConflictError and never pre-check.
type Store interface {
	Permissions() PermissionStore
	Roles() RoleStore
	Users() UserStore
	AuthTokens() AuthTokenStore
	Tokens() TokenStore
}

// PermissionStore manages persisted permission records.
type PermissionStore interface {
	All(ctx context.Context) ([]Permission, error)
	List(ctx context.Context, q ListQuery) (Page[Permission], error)
	// Insert adds rows whose name is not yet stored and skips the rest.
	Insert(ctx context.Context, perms []Permission) error
	UpdateDisplayName(ctx context.Context, name, displayName, updatedBy string) error
}

// RoleStore manages roles and their permission links.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Get(ctx context.Context, id string) (Role, error)
	GetByName(ctx context.Context, nameNormalized string) (Role, error)
	List(ctx context.Context, q ListQuery) (Page[Role], error)
	Update(ctx context.Context, id string, changes RoleChanges) (Role, error)
	Delete(ctx context.Context, id string) error
	Permissions(ctx context.Context, roleID string) ([]Permission, error)
	// SetPermissions replaces the role's grants with the named permissions.
	SetPermissions(ctx context.Context, roleID string, names []string, by string) error
}

// UserStore manages users and their role links.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	Get(ctx context.Context, id string) (User, error)
	GetByUsername(ctx context.Context, usernameNormalized string) (User, error)
	GetByEmail(ctx context.Context, emailNormalized string) (User, error)
	List(ctx context.Context, q ListQuery) (Page[User], error)
	Update(ctx context.Context, id string, changes UserChanges) (User, error)
	Delete(ctx context.Context, id string) error
	Roles(ctx context.Context, userID string) ([]Role, error)
	SetRoles(ctx context.Context, userID string, roleIDs []string, by string) error
	// Permissions is the distinct union of permissions granted through roles.
	Permissions(ctx context.Context, userID string) ([]Permission, error)
}

// AuthTokenStore manages sessions.
type AuthTokenStore interface {
	Create(ctx context.Context, tok *AuthToken) error
	// Exists reports a session for userID whose refresh digest matches and
	// whose refresh expiry is after now.
	Exists(ctx context.Context, userID, refreshHash string, now time.Time) (bool, error)
	// Consume atomically removes the matching unexpired session. Exactly one
	// of several concurrent callers succeeds; the others get ErrNotFound.
	Consume(ctx context.Context, userID, refreshHash string, now time.Time) (AuthToken, error)
	Delete(ctx context.Context, userID, id string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenStore manages single-use tokens.
type TokenStore interface {
	Create(ctx context.Context, tok *Token) error
	GetByValue(ctx context.Context, valueHash string) (Token, error)
	// MarkUsed flips is_used only if it is still false; otherwise it returns
	// ErrTokenAlreadyUsed.
	MarkUsed(ctx context.Context, id, by string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
