package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

const userColumns = `id, username, username_normalized, email, email_normalized, password_hash,
	first_name, last_name, is_active, is_email_verified, is_default, profile_image,
	created_at, created_by, updated_at, updated_by`

var userList = listSpec{
	table:   "users",
	columns: userColumns,
	search:  []string{"username", "email", "first_name", "last_name"},
	sort: map[string]string{
		"username":   "username_normalized",
		"email":      "email_normalized",
		"created_at": "created_at",
		"updated_at": "updated_at",
	},
}

func scanUser(r rowScanner) (auth.User, error) {
	var u auth.User
	err := r.Scan(&u.ID, &u.Username, &u.UsernameNormalized, &u.Email, &u.EmailNormalized, &u.PasswordHash,
		&u.FirstName, &u.LastName, &u.IsActive, &u.IsEmailVerified, &u.Default, &u.ProfileImage,
		&u.CreatedAt, &u.CreatedBy, &u.UpdatedAt, &u.UpdatedBy)
	return u, err
}

type userRepo struct {
	db *sql.DB
}

func (r userRepo) Create(ctx context.Context, u *auth.User) error {
	u.Normalize()
	row := r.db.QueryRowContext(ctx, `
		insert into users (id, username, username_normalized, email, email_normalized, password_hash,
			first_name, last_name, is_active, is_email_verified, is_default, profile_image, created_by, updated_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		returning created_at, updated_at
	`, u.ID, u.Username, u.UsernameNormalized, u.Email, u.EmailNormalized, u.PasswordHash,
		u.FirstName, u.LastName, u.IsActive, u.IsEmailVerified, u.Default, u.ProfileImage, u.CreatedBy, u.UpdatedBy)
	return mapError(row.Scan(&u.CreatedAt, &u.UpdatedAt))
}

func (r userRepo) Get(ctx context.Context, id string) (auth.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	return u, mapError(err)
}

func (r userRepo) GetByUsername(ctx context.Context, usernameNormalized string) (auth.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `select `+userColumns+` from users where username_normalized = $1`, usernameNormalized))
	return u, mapError(err)
}

func (r userRepo) GetByEmail(ctx context.Context, emailNormalized string) (auth.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `select `+userColumns+` from users where email_normalized = $1`, emailNormalized))
	return u, mapError(err)
}

func (r userRepo) List(ctx context.Context, q auth.ListQuery) (auth.Page[auth.User], error) {
	return list(ctx, r.db, userList, q, scanUser)
}

func (r userRepo) Update(ctx context.Context, id string, ch auth.UserChanges) (auth.User, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if ch.Username != nil {
		set("username", *ch.Username)
		set("username_normalized", *ch.UsernameNormalized)
	}
	if ch.Email != nil {
		set("email", *ch.Email)
		set("email_normalized", *ch.EmailNormalized)
	}
	if ch.PasswordHash != nil {
		set("password_hash", *ch.PasswordHash)
	}
	if ch.FirstName != nil {
		set("first_name", *ch.FirstName)
	}
	if ch.LastName != nil {
		set("last_name", *ch.LastName)
	}
	if ch.ProfileImage != nil {
		set("profile_image", *ch.ProfileImage)
	}
	if ch.IsActive != nil {
		set("is_active", *ch.IsActive)
	}
	if ch.IsEmailVerified != nil {
		set("is_email_verified", *ch.IsEmailVerified)
	}
	if len(sets) == 0 {
		return r.Get(ctx, id)
	}
	set("updated_by", ch.UpdatedBy)
	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(`update users set %s where id = $%d returning %s`, strings.Join(sets, ", "), len(args), userColumns)
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	return u, mapError(err)
}

func (r userRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return affected(res)
}

func (r userRepo) Roles(ctx context.Context, userID string) ([]auth.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select r.id, r.name, r.name_normalized, r.description, r.is_default,
			r.created_at, r.created_by, r.updated_at, r.updated_by
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name_normalized
	`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRole)
}

func (r userRepo) SetRoles(ctx context.Context, userID string, roleIDs []string, by string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from users where id = $1 for update`, userID).Scan(&exists); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, userID); err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id, created_by)
			values ($1, $2, $3)
			on conflict do nothing
		`, userID, roleID, by); err != nil {
			return mapError(err)
		}
	}
	return tx.Commit()
}

func (r userRepo) Permissions(ctx context.Context, userID string) ([]auth.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		select distinct p.id, p.name, p.display_name, p.created_at, p.created_by, p.updated_at, p.updated_by
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
		order by p.name
	`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPermission)
}
