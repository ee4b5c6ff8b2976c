package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

const permissionColumns = `id, name, display_name, created_at, created_by, updated_at, updated_by`

var permissionList = listSpec{
	table:   "permissions",
	columns: permissionColumns,
	search:  []string{"name", "display_name"},
	sort:    map[string]string{"name": "name", "display_name": "display_name"},
}

func scanPermission(r rowScanner) (auth.Permission, error) {
	var p auth.Permission
	err := r.Scan(&p.ID, &p.Name, &p.DisplayName, &p.CreatedAt, &p.CreatedBy, &p.UpdatedAt, &p.UpdatedBy)
	return p, err
}

type permissionRepo struct {
	db *sql.DB
}

func (r permissionRepo) All(ctx context.Context) ([]auth.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `select `+permissionColumns+` from permissions order by name`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPermission)
}

func (r permissionRepo) List(ctx context.Context, q auth.ListQuery) (auth.Page[auth.Permission], error) {
	return list(ctx, r.db, permissionList, q, scanPermission)
}

func (r permissionRepo) Insert(ctx context.Context, perms []auth.Permission) error {
	if len(perms) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, name, display_name, created_by, updated_by)
			values ($1, $2, $3, $4, $5)
			on conflict (name) do nothing
		`, p.ID, p.Name, p.DisplayName, p.CreatedBy, p.UpdatedBy); err != nil {
			return mapError(err)
		}
	}
	return tx.Commit()
}

func (r permissionRepo) UpdateDisplayName(ctx context.Context, name, displayName, updatedBy string) error {
	res, err := r.db.ExecContext(ctx, `
		update permissions
		set display_name = $2, updated_by = $3, updated_at = now()
		where name = $1
	`, name, displayName, updatedBy)
	if err != nil {
		return err
	}
	return affected(res)
}

const roleColumns = `id, name, name_normalized, description, is_default, created_at, created_by, updated_at, updated_by`

var roleList = listSpec{
	table:   "roles",
	columns: roleColumns,
	search:  []string{"name", "description"},
	sort:    map[string]string{"name": "name_normalized", "created_at": "created_at", "updated_at": "updated_at"},
}

func scanRole(r rowScanner) (auth.Role, error) {
	var role auth.Role
	err := r.Scan(&role.ID, &role.Name, &role.NameNormalized, &role.Description, &role.Default,
		&role.CreatedAt, &role.CreatedBy, &role.UpdatedAt, &role.UpdatedBy)
	return role, err
}

type roleRepo struct {
	db *sql.DB
}

func (r roleRepo) Create(ctx context.Context, role *auth.Role) error {
	role.Normalize()
	row := r.db.QueryRowContext(ctx, `
		insert into roles (id, name, name_normalized, description, is_default, created_by, updated_by)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, role.ID, role.Name, role.NameNormalized, role.Description, role.Default, role.CreatedBy, role.UpdatedBy)
	return mapError(row.Scan(&role.CreatedAt, &role.UpdatedAt))
}

func (r roleRepo) Get(ctx context.Context, id string) (auth.Role, error) {
	role, err := scanRole(r.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	return role, mapError(err)
}

func (r roleRepo) GetByName(ctx context.Context, nameNormalized string) (auth.Role, error) {
	role, err := scanRole(r.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where name_normalized = $1`, nameNormalized))
	return role, mapError(err)
}

func (r roleRepo) List(ctx context.Context, q auth.ListQuery) (auth.Page[auth.Role], error) {
	return list(ctx, r.db, roleList, q, scanRole)
}

func (r roleRepo) Update(ctx context.Context, id string, ch auth.RoleChanges) (auth.Role, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if ch.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx), fmt.Sprintf("name_normalized = $%d", idx+1))
		args = append(args, *ch.Name, *ch.NameNormalized)
		idx += 2
	}
	if ch.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, *ch.Description)
		idx++
	}
	if len(sets) == 0 {
		return r.Get(ctx, id)
	}
	sets = append(sets, fmt.Sprintf("updated_by = $%d", idx), "updated_at = now()")
	args = append(args, ch.UpdatedBy, id)
	query := fmt.Sprintf(`update roles set %s where id = $%d returning %s`, strings.Join(sets, ", "), idx+1, roleColumns)
	role, err := scanRole(r.db.QueryRowContext(ctx, query, args...))
	return role, mapError(err)
}

func (r roleRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	return affected(res)
}

func (r roleRepo) Permissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		select p.id, p.name, p.display_name, p.created_at, p.created_by, p.updated_at, p.updated_by
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPermission)
}

func (r roleRepo) SetPermissions(ctx context.Context, roleID string, names []string, by string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1 for update`, roleID).Scan(&exists); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, name := range names {
		res, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id, created_by)
			select $1, id, $3 from permissions where name = $2
			on conflict do nothing
		`, roleID, name, by)
		if err != nil {
			return mapError(err)
		}
		if err := affected(res); err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				return fmt.Errorf("%w: permission %s", auth.ErrNotFound, name)
			}
			return err
		}
	}
	return tx.Commit()
}
