package auth

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestBuildClaimsDedupes(t *testing.T) {
	user := User{ID: "u1", Username: "jane", Email: "jane@example.com"}
	roles := []Role{{Name: "Admin"}, {Name: "admin"}, {Name: "Editor"}}
	perms := []Permission{{Name: PermRoleView}, {Name: PermRoleDelete}, {Name: PermRoleView}}

	c := BuildClaims(user, roles, perms)
	assert.Equal(t, "u1", c.UserID())
	assert.Equal(t, []string{"Admin", "Editor"}, c.Roles)
	assert.Equal(t, []string{PermRoleView, PermRoleDelete}, c.Permissions)
	assert.True(t, c.HasRole("EDITOR"))
	assert.False(t, c.HasRole(""))
}

func TestRequirePermissionChecksClaimsOnly(t *testing.T) {
	claims := &Claims{Roles: []string{"Admin"}, Permissions: []string{PermRoleDelete}}
	claims.Subject = "u1"
	ctx := ContextWithClaims(context.Background(), claims)

	assert.NoError(t, RequirePermission(ctx, PermRoleDelete))
	assert.ErrorIs(t, RequirePermission(ctx, PermRoleCreate), ErrForbidden)
	assert.ErrorIs(t, RequirePermission(context.Background(), PermRoleDelete), ErrUnauthenticated)

	assert.NoError(t, RequireRole(ctx, "admin"))
	assert.ErrorIs(t, RequireRole(ctx, "Auditor"), ErrForbidden)
	assert.Equal(t, "u1", Actor(ctx))
	assert.Equal(t, SystemActor, Actor(context.Background()))
}

func TestTokenSignerRoundTrip(t *testing.T) {
	s, err := NewTokenSigner(testSecret, WithSignerIssuer("tests"))
	require.NoError(t, err)

	claims := Claims{Username: "jane", Permissions: []string{PermProfileView}, SessionID: "sess-1"}
	claims.Subject = "u1"
	now := time.Now()
	token, err := s.Sign(claims, now, now.Add(time.Minute))
	require.NoError(t, err)

	got, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.Subject)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "tests", got.Issuer)
	assert.NotEmpty(t, got.ID)
	assert.True(t, got.HasPermission(PermProfileView))
}

func TestTokenSignerRejects(t *testing.T) {
	s, err := NewTokenSigner(testSecret)
	require.NoError(t, err)
	claims := Claims{}
	claims.Subject = "u1"

	past := time.Now().Add(-2 * time.Hour)
	expired, err := s.Sign(claims, past, past.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.Parse(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	now := time.Now()
	valid, err := s.Sign(claims, now, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.Parse(valid[:len(valid)-2] + "xx")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenSigner(strings.Repeat("z", 32), WithSignerIssuer("someone-else"))
	require.NoError(t, err)
	foreign, err := other.Sign(claims, now, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.Parse(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Parse("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokenSigner("short")
	assert.Error(t, err)

	_, err = s.Sign(Claims{}, now, now.Add(time.Hour))
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	assert.NoError(t, VerifyPassword(hash, "correct horse"))
	assert.Error(t, VerifyPassword(hash, "wrong horse"))

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, VerifyPassword(string(legacy), "legacy-pass"))
	assert.Error(t, VerifyPassword(string(legacy), "nope"))

	assert.Error(t, VerifyPassword("plain", "plain"))
	assert.ErrorIs(t, ValidatePassword("short"), ErrInvalidInput)
	assert.ErrorIs(t, ValidatePassword(strings.Repeat("x", 129)), ErrInvalidInput)
	assert.NoError(t, ValidatePassword("eight ch"))
}

func TestListQueryNormalize(t *testing.T) {
	q, err := ListQuery{PageSize: 1000, SortBy: " Email "}.Normalize(UserSortKeys)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, MaxPageSize, q.PageSize)
	assert.Equal(t, "email", q.SortBy)

	q, err = ListQuery{Page: 3, PageSize: 10}.Normalize(RoleSortKeys)
	require.NoError(t, err)
	assert.Equal(t, "name", q.SortBy)
	assert.Equal(t, 20, q.Offset())

	_, err = ListQuery{SortBy: "password_hash"}.Normalize(UserSortKeys)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListQueryPageOutOfRange(t *testing.T) {
	_, err := ListQuery{Page: 95000000000000001, PageSize: 100}.Normalize(RoleSortKeys)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = ListQuery{Page: math.MaxInt, PageSize: 1}.Normalize(RoleSortKeys)
	assert.ErrorIs(t, err, ErrInvalidInput)

	q, err := ListQuery{Page: MaxOffset/MaxPageSize + 1, PageSize: MaxPageSize}.Normalize(RoleSortKeys)
	require.NoError(t, err)
	assert.LessOrEqual(t, q.Offset(), MaxOffset)

	assert.Equal(t, math.MaxInt, ListQuery{Page: math.MaxInt, PageSize: 100}.Offset())
}

func TestConflictError(t *testing.T) {
	err := Conflict("email")
	assert.True(t, errors.Is(err, ErrConflict))
	field, ok := ConflictField(err)
	assert.True(t, ok)
	assert.Equal(t, "email", field)

	_, ok = ConflictField(ErrNotFound)
	assert.False(t, ok)
}
