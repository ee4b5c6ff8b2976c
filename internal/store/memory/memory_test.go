package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
	"github.com/ma496/EasyForNet-sub002/internal/ids"
)

var seq ids.Sequence

func newUser(t *testing.T, s *Store, username, email string) auth.User {
	t.Helper()
	u := auth.User{ID: ids.New(), Username: username, Email: email, PasswordHash: "x", IsActive: true}
	require.NoError(t, s.Users().Create(context.Background(), &u))
	return u
}

func TestUserUniquenessIsNormalized(t *testing.T) {
	s := New()
	ctx := context.Background()
	newUser(t, s, "Alice", "alice@example.com")

	dup := auth.User{ID: ids.New(), Username: "  alice ", Email: "other@example.com"}
	err := s.Users().Create(ctx, &dup)
	require.ErrorIs(t, err, auth.ErrConflict)
	field, ok := auth.ConflictField(err)
	require.True(t, ok)
	assert.Equal(t, "username", field)

	dup = auth.User{ID: ids.New(), Username: "bob", Email: "ALICE@example.com"}
	err = s.Users().Create(ctx, &dup)
	field, _ = auth.ConflictField(err)
	assert.Equal(t, "email", field)
}

func TestUserUpdateRenormalizesEmail(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := newUser(t, s, seq.NextString("user"), "First@Example.com")

	var ch auth.UserChanges
	ch.SetEmail("  New@Example.COM ")
	updated, err := s.Users().Update(ctx, u.ID, ch)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", updated.EmailNormalized)

	got, err := s.Users().GetByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Users().GetByEmail(ctx, "first@example.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestRoleRenameConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := auth.Role{ID: ids.New(), Name: "Editors"}
	b := auth.Role{ID: ids.New(), Name: "Viewers"}
	require.NoError(t, s.Roles().Create(ctx, &a))
	require.NoError(t, s.Roles().Create(ctx, &b))

	var ch auth.RoleChanges
	ch.SetName("EDITORS")
	_, err := s.Roles().Update(ctx, b.ID, ch)
	require.ErrorIs(t, err, auth.ErrConflict)

	got, err := s.Roles().Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Viewers", got.Name)
}

func TestConsumeHasSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := newUser(t, s, seq.NextString("user"), seq.NextString("mail")+"@example.com")
	now := time.Now()
	require.NoError(t, s.AuthTokens().Create(ctx, &auth.AuthToken{
		ID: ids.New(), UserID: u.ID, RefreshTokenHash: "r1", RefreshExpiry: now.Add(time.Hour),
	}))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AuthTokens().Consume(ctx, u.ID, "r1", now); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, auth.ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

// createConcurrently runs create once per goroutine and returns the number of
// successes and the conflict field reported by each failure.
func createConcurrently(t *testing.T, n int, create func(i int) error) (int32, []string) {
	t.Helper()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   atomic.Int32
		fields []string
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := create(i)
			if err == nil {
				wins.Add(1)
				return
			}
			field, ok := auth.ConflictField(err)
			if !ok {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			fields = append(fields, field)
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()
	return wins.Load(), fields
}

func TestConcurrentRoleCreateHasSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	names := []string{"Editors", " editors", "EDITORS ", "eDiToRs", "editors", "\tEditors", "Editors  ", "EDITORS"}

	wins, fields := createConcurrently(t, len(names), func(i int) error {
		role := auth.Role{ID: ids.New(), Name: names[i]}
		return s.Roles().Create(ctx, &role)
	})
	assert.EqualValues(t, 1, wins)
	require.Len(t, fields, len(names)-1)
	for _, f := range fields {
		assert.Equal(t, "name", f)
	}

	q, err := auth.ListQuery{}.Normalize(auth.RoleSortKeys)
	require.NoError(t, err)
	page, err := s.Roles().List(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestConcurrentUserCreateHasSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	emails := []string{"dup@example.com", " DUP@example.com", "Dup@Example.com ", "dup@EXAMPLE.COM", "DUP@EXAMPLE.COM", "dup@example.com  "}

	wins, fields := createConcurrently(t, len(emails), func(i int) error {
		u := auth.User{ID: ids.New(), Username: seq.NextString("racer"), Email: emails[i], PasswordHash: "x"}
		return s.Users().Create(ctx, &u)
	})
	assert.EqualValues(t, 1, wins)
	require.Len(t, fields, len(emails)-1)
	for _, f := range fields {
		assert.Equal(t, "email", f)
	}

	got, err := s.Users().GetByEmail(ctx, "dup@example.com")
	require.NoError(t, err)
	assert.Equal(t, "dup@example.com", got.EmailNormalized)
}

func TestExistsIgnoresExpiredAndForeignSessions(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := newUser(t, s, seq.NextString("user"), seq.NextString("mail")+"@example.com")
	other := newUser(t, s, seq.NextString("user"), seq.NextString("mail")+"@example.com")
	now := time.Now()
	require.NoError(t, s.AuthTokens().Create(ctx, &auth.AuthToken{
		ID: ids.New(), UserID: u.ID, RefreshTokenHash: "old", RefreshExpiry: now.Add(-time.Minute),
	}))
	require.NoError(t, s.AuthTokens().Create(ctx, &auth.AuthToken{
		ID: ids.New(), UserID: u.ID, RefreshTokenHash: "live", RefreshExpiry: now.Add(time.Minute),
	}))

	ok, err := s.AuthTokens().Exists(ctx, u.ID, "old", now)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _ = s.AuthTokens().Exists(ctx, other.ID, "live", now)
	assert.False(t, ok)
	ok, _ = s.AuthTokens().Exists(ctx, u.ID, "live", now)
	assert.True(t, ok)
}

func TestDeleteUserCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := newUser(t, s, seq.NextString("user"), seq.NextString("mail")+"@example.com")
	role := auth.Role{ID: ids.New(), Name: "Ops"}
	require.NoError(t, s.Roles().Create(ctx, &role))
	require.NoError(t, s.Users().SetRoles(ctx, u.ID, []string{role.ID}, "test"))
	require.NoError(t, s.AuthTokens().Create(ctx, &auth.AuthToken{ID: ids.New(), UserID: u.ID, RefreshExpiry: time.Now().Add(time.Hour)}))
	require.NoError(t, s.Tokens().Create(ctx, &auth.Token{ID: ids.New(), UserID: u.ID, ValueHash: "v", Expiry: time.Now().Add(time.Hour)}))

	require.NoError(t, s.Users().Delete(ctx, u.ID))
	assert.Empty(t, s.sessions)
	assert.Empty(t, s.tokens)
	assert.Empty(t, s.userRoles)

	_, err := s.Roles().Get(ctx, role.ID)
	assert.NoError(t, err)
}

func TestDeleteRoleRemovesLinks(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Permissions().Insert(ctx, []auth.Permission{{ID: ids.New(), Name: "Role.View"}}))
	u := newUser(t, s, seq.NextString("user"), seq.NextString("mail")+"@example.com")
	role := auth.Role{ID: ids.New(), Name: "Auditors"}
	require.NoError(t, s.Roles().Create(ctx, &role))
	require.NoError(t, s.Roles().SetPermissions(ctx, role.ID, []string{"Role.View"}, "test"))
	require.NoError(t, s.Users().SetRoles(ctx, u.ID, []string{role.ID}, "test"))

	perms, err := s.Users().Permissions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)

	require.NoError(t, s.Roles().Delete(ctx, role.ID))
	perms, err = s.Users().Permissions(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)
	roles, err := s.Users().Roles(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestSetPermissionsRejectsUnknownNames(t *testing.T) {
	s := New()
	ctx := context.Background()
	role := auth.Role{ID: ids.New(), Name: "Ops"}
	require.NoError(t, s.Roles().Create(ctx, &role))
	err := s.Roles().SetPermissions(ctx, role.ID, []string{"Nope"}, "test")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestMarkUsedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := newUser(t, s, seq.NextString("user"), seq.NextString("mail")+"@example.com")
	tok := auth.Token{ID: ids.New(), UserID: u.ID, ValueHash: "h", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, s.Tokens().Create(ctx, &tok))

	require.NoError(t, s.Tokens().MarkUsed(ctx, tok.ID, "test"))
	assert.ErrorIs(t, s.Tokens().MarkUsed(ctx, tok.ID, "test"), auth.ErrTokenAlreadyUsed)
}

func TestDeleteExpired(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	u := newUser(t, s, seq.NextString("user"), seq.NextString("mail")+"@example.com")
	a := auth.AuthToken{ID: ids.New(), UserID: u.ID, RefreshExpiry: now.Add(-24 * time.Hour)}
	b := auth.AuthToken{ID: ids.New(), UserID: u.ID, RefreshExpiry: now.Add(24 * time.Hour)}
	require.NoError(t, s.AuthTokens().Create(ctx, &a))
	require.NoError(t, s.AuthTokens().Create(ctx, &b))
	used := auth.Token{ID: ids.New(), UserID: u.ID, ValueHash: "1", Expiry: now.Add(-time.Hour), IsUsed: true}
	fresh := auth.Token{ID: ids.New(), UserID: u.ID, ValueHash: "2", Expiry: now.Add(time.Hour)}
	require.NoError(t, s.Tokens().Create(ctx, &used))
	require.NoError(t, s.Tokens().Create(ctx, &fresh))

	n, err := s.AuthTokens().DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Contains(t, s.sessions, b.ID)
	assert.NotContains(t, s.sessions, a.ID)

	n, err = s.Tokens().DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.AuthTokens().DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListPagesSearchesAndSorts(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, name := range []string{"carol", "alice", "bob", "alina"} {
		newUser(t, s, name, name+"@example.com")
	}

	q, err := auth.ListQuery{PageSize: 2}.Normalize(auth.UserSortKeys)
	require.NoError(t, err)
	page, err := s.Users().List(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "alice", page.Items[0].Username)
	assert.Equal(t, "alina", page.Items[1].Username)

	q, _ = auth.ListQuery{Search: "AL", SortDesc: true}.Normalize(auth.UserSortKeys)
	page, err = s.Users().List(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "alina", page.Items[0].Username)

	q, _ = auth.ListQuery{Page: 9}.Normalize(auth.UserSortKeys)
	page, err = s.Users().List(ctx, q)
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
}

func TestListPastTheEndDoesNotOverflow(t *testing.T) {
	s := New()
	ctx := context.Background()
	newUser(t, s, "alice", "alice@example.com")

	// Unnormalized on purpose: (Page-1)*PageSize overflows int.
	q := auth.ListQuery{Page: 95000000000000001, PageSize: 100, SortBy: "username"}
	require.NotPanics(t, func() {
		page, err := s.Users().List(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
		assert.Empty(t, page.Items)
	})
}

func TestCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Users().Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
