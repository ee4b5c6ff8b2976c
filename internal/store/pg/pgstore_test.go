package pg

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

var roleCols = []string{"id", "name", "name_normalized", "description", "is_default", "created_at", "created_by", "updated_at", "updated_by"}

func TestUserCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "users_email_normalized_key"})

	u := auth.User{ID: "u1", Username: "Alice", Email: "A@x.io", PasswordHash: "h"}
	err := store.Users().Create(context.Background(), &u)
	require.ErrorIs(t, err, auth.ErrConflict)
	field, _ := auth.ConflictField(err)
	assert.Equal(t, "email", field)
	assert.Equal(t, "a@x.io", u.EmailNormalized)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapErrorForeignKey(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "user_roles_role_id_fkey"})
	assert.ErrorIs(t, err, auth.ErrNotFound)

	err = mapError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "roles_pkey"})
	field, ok := auth.ConflictField(err)
	require.True(t, ok)
	assert.Equal(t, "id", field)
}

func TestRoleGetNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("from roles where id = \\$1").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(roleCols))

	_, err := store.Roles().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleUpdateBuildsSetClause(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(
		"update roles set name = $1, name_normalized = $2, description = $3, updated_by = $4, updated_at = now() where id = $5",
	)).WithArgs("Ops", "ops", "on call", "admin", "r1").
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow("r1", "Ops", "ops", "on call", false, now, "system", now, "admin"))

	var ch auth.RoleChanges
	ch.SetName("Ops")
	ch.SetDescription("on call")
	ch.UpdatedBy = "admin"
	role, err := store.Roles().Update(context.Background(), "r1", ch)
	require.NoError(t, err)
	assert.Equal(t, "Ops", role.Name)
	assert.Equal(t, "admin", role.UpdatedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPermissionsUnknownNameRollsBack(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles where id = \\$1 for update").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_permissions").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "Role.View", "admin").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "Nope", "admin").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Roles().SetPermissions(context.Background(), "r1", []string{"Role.View", "Nope"}, "admin")
	require.ErrorIs(t, err, auth.ErrNotFound)
	assert.Contains(t, err.Error(), "Nope")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeDeletesOnce(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	cols := []string{"id", "user_id", "access_token_hash", "access_expiry", "refresh_token_hash", "refresh_expiry", "created_at", "created_by"}
	mock.ExpectQuery("delete from auth_tokens").WithArgs("u1", "h", now).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("s1", "u1", "a", now, "h", now.Add(time.Hour), now, "u1"))
	mock.ExpectQuery("delete from auth_tokens").WithArgs("u1", "h", now).
		WillReturnRows(sqlmock.NewRows(cols))

	sess, err := store.AuthTokens().Consume(context.Background(), "u1", "h", now)
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)

	_, err = store.AuthTokens().Consume(context.Background(), "u1", "h", now)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpiredReportsCount(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectExec("delete from auth_tokens where refresh_expiry < \\$1").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from tokens where expiry < \\$1").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := store.AuthTokens().DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	n, err = store.Tokens().DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUsedDistinguishesUsedFromMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("update tokens set is_used = true").WithArgs("t1", "u1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select is_used from tokens").WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"is_used"}).AddRow(true))
	mock.ExpectExec("update tokens set is_used = true").WithArgs("t2", "u1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select is_used from tokens").WithArgs("t2").
		WillReturnRows(sqlmock.NewRows([]string{"is_used"}))
	mock.ExpectExec("update tokens set is_used = true").WithArgs("t3", "u1").WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	assert.ErrorIs(t, store.Tokens().MarkUsed(ctx, "t1", "u1"), auth.ErrTokenAlreadyUsed)
	assert.ErrorIs(t, store.Tokens().MarkUsed(ctx, "t2", "u1"), auth.ErrNotFound)
	assert.NoError(t, store.Tokens().MarkUsed(ctx, "t3", "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserListSearchSortAndPage(t *testing.T) {
	store, mock := newMock(t)
	pattern := `%a\_b%`
	mock.ExpectQuery(regexp.QuoteMeta("select count(*) from users where (username ilike $1 or email ilike $1")).
		WithArgs(pattern).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("order by email_normalized desc, id desc limit $2 offset $3")).
		WithArgs(pattern, 10, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	q := auth.ListQuery{Page: 2, PageSize: 10, Search: "a_b", SortBy: "email", SortDesc: true}
	page, err := store.Users().List(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRejectsUnknownSortColumn(t *testing.T) {
	store, _ := newMock(t)
	_, err := store.Roles().List(context.Background(), auth.ListQuery{PageSize: 5, SortBy: "password_hash"})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestLikePatternEscapes(t *testing.T) {
	assert.Equal(t, `%50\%\_off\\%`, likePattern(`50%_off\`))
}
