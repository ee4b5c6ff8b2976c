package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the authorization payload embedded in access tokens. Once signed
// it is immutable: changes to roles or grants take effect on the next issue.
type Claims struct {
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	SessionID   string   `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// BuildClaims assembles claims for user from its roles and the permissions
// those roles grant. Roles keep their given order; permissions are
// de-duplicated by name in first-seen order.
func BuildClaims(user User, roles []Role, perms []Permission) Claims {
	c := Claims{
		Username: user.Username,
		Email:    user.Email,
	}
	c.Subject = user.ID

	seenRole := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		key := NormalizeKey(r.Name)
		if key == "" {
			continue
		}
		if _, ok := seenRole[key]; ok {
			continue
		}
		seenRole[key] = struct{}{}
		c.Roles = append(c.Roles, r.Name)
	}
	c.Permissions = dedupeStrings(permissionNames(perms))
	return c
}

// UserID is the subject the claims were issued for.
func (c *Claims) UserID() string { return c.Subject }

// HasPermission reports whether the claims grant name.
func (c *Claims) HasPermission(name string) bool {
	for _, p := range c.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// HasRole reports whether the claims carry role, ignoring case.
func (c *Claims) HasRole(role string) bool {
	role = strings.TrimSpace(role)
	if role == "" {
		return false
	}
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func permissionNames(perms []Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.Name)
	}
	return out
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
