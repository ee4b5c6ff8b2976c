package auth

import (
	"strings"
	"time"
)

// Audit carries who and when for persisted rows.
type Audit struct {
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Permission is the persisted, grantable counterpart of a catalog leaf.
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Audit
}

// Role groups permissions.
type Role struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	NameNormalized string `json:"-"`
	Description    string `json:"description,omitempty"`
	Default        bool   `json:"default"`
	Audit
}

// Normalize recomputes derived lookup fields.
func (r *Role) Normalize() {
	r.NameNormalized = NormalizeKey(r.Name)
}

// RolePermission links a role to a permission.
type RolePermission struct {
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
	CreatedBy    string    `json:"created_by,omitempty"`
}

// User is a human account.
type User struct {
	ID                 string `json:"id"`
	Username           string `json:"username"`
	UsernameNormalized string `json:"-"`
	Email              string `json:"email"`
	EmailNormalized    string `json:"-"`
	PasswordHash       string `json:"-"`
	FirstName          string `json:"first_name,omitempty"`
	LastName           string `json:"last_name,omitempty"`
	IsActive           bool   `json:"is_active"`
	IsEmailVerified    bool   `json:"is_email_verified"`
	Default            bool   `json:"default"`
	ProfileImage       string `json:"profile_image,omitempty"`
	Audit
}

// Normalize recomputes derived lookup fields.
func (u *User) Normalize() {
	u.UsernameNormalized = NormalizeKey(u.Username)
	u.EmailNormalized = NormalizeKey(u.Email)
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// AuthToken is one session. Only digests of the issued strings are stored.
type AuthToken struct {
	ID               string
	UserID           string
	AccessTokenHash  string
	AccessExpiry     time.Time
	RefreshTokenHash string
	RefreshExpiry    time.Time
	CreatedAt        time.Time
	CreatedBy        string
}

// TokenPurpose scopes a single-use token to one flow.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p TokenPurpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposePasswordReset:
		return true
	}
	return false
}

// Token is a single-use credential for out-of-band flows.
type Token struct {
	ID        string
	UserID    string
	ValueHash string
	Purpose   TokenPurpose
	Expiry    time.Time
	IsUsed    bool
	Audit
}

// NormalizeKey is the canonical form used for unique lookups.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RoleChanges is a partial role update. Use the setters so derived fields
// stay in sync.
type RoleChanges struct {
	Name           *string
	NameNormalized *string
	Description    *string
	UpdatedBy      string
}

func (c *RoleChanges) SetName(name string) {
	norm := NormalizeKey(name)
	c.Name = &name
	c.NameNormalized = &norm
}

func (c *RoleChanges) SetDescription(desc string) {
	c.Description = &desc
}

// Empty reports whether nothing would change.
func (c RoleChanges) Empty() bool {
	return c.Name == nil && c.Description == nil
}

// UserChanges is a partial user update.
type UserChanges struct {
	Username           *string
	UsernameNormalized *string
	Email              *string
	EmailNormalized    *string
	PasswordHash       *string
	FirstName          *string
	LastName           *string
	ProfileImage       *string
	IsActive           *bool
	IsEmailVerified    *bool
	UpdatedBy          string
}

func (c *UserChanges) SetUsername(v string) {
	norm := NormalizeKey(v)
	c.Username = &v
	c.UsernameNormalized = &norm
}

// SetEmail also resets verification, since the new address is unproven.
func (c *UserChanges) SetEmail(v string) {
	norm := NormalizeKey(v)
	verified := false
	c.Email = &v
	c.EmailNormalized = &norm
	c.IsEmailVerified = &verified
}

func (c *UserChanges) SetPasswordHash(v string) { c.PasswordHash = &v }
func (c *UserChanges) SetFirstName(v string)    { c.FirstName = &v }
func (c *UserChanges) SetLastName(v string)     { c.LastName = &v }
func (c *UserChanges) SetProfileImage(v string) { c.ProfileImage = &v }
func (c *UserChanges) SetActive(v bool)         { c.IsActive = &v }
func (c *UserChanges) SetEmailVerified(v bool)  { c.IsEmailVerified = &v }

// Empty reports whether nothing would change.
func (c UserChanges) Empty() bool {
	return c.Username == nil && c.Email == nil && c.PasswordHash == nil &&
		c.FirstName == nil && c.LastName == nil && c.ProfileImage == nil &&
		c.IsActive == nil && c.IsEmailVerified == nil
}

// Apply copies the changes onto u. Stores without partial updates use it.
func (c UserChanges) Apply(u *User) {
	if c.Username != nil {
		u.Username = *c.Username
	}
	if c.Email != nil {
		u.Email = *c.Email
	}
	if c.PasswordHash != nil {
		u.PasswordHash = *c.PasswordHash
	}
	if c.FirstName != nil {
		u.FirstName = *c.FirstName
	}
	if c.LastName != nil {
		u.LastName = *c.LastName
	}
	if c.ProfileImage != nil {
		u.ProfileImage = *c.ProfileImage
	}
	if c.IsActive != nil {
		u.IsActive = *c.IsActive
	}
	if c.IsEmailVerified != nil {
		u.IsEmailVerified = *c.IsEmailVerified
	}
	u.Normalize()
	u.UpdatedBy = c.UpdatedBy
}

// Apply copies the changes onto r.
func (c RoleChanges) Apply(r *Role) {
	if c.Name != nil {
		r.Name = *c.Name
	}
	if c.Description != nil {
		r.Description = *c.Description
	}
	r.Normalize()
	r.UpdatedBy = c.UpdatedBy
}
