package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

const sessionColumns = `id, user_id, access_token_hash, access_expiry, refresh_token_hash, refresh_expiry, created_at, created_by`

func scanSession(r rowScanner) (auth.AuthToken, error) {
	var t auth.AuthToken
	err := r.Scan(&t.ID, &t.UserID, &t.AccessTokenHash, &t.AccessExpiry, &t.RefreshTokenHash, &t.RefreshExpiry, &t.CreatedAt, &t.CreatedBy)
	return t, err
}

type sessionRepo struct {
	db *sql.DB
}

func (r sessionRepo) Create(ctx context.Context, t *auth.AuthToken) error {
	_, err := r.db.ExecContext(ctx, `
		insert into auth_tokens (`+sessionColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.UserID, t.AccessTokenHash, t.AccessExpiry, t.RefreshTokenHash, t.RefreshExpiry, t.CreatedAt, t.CreatedBy)
	return mapError(err)
}

func (r sessionRepo) Exists(ctx context.Context, userID, refreshHash string, now time.Time) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		select exists (
			select 1 from auth_tokens
			where user_id = $1 and refresh_token_hash = $2 and refresh_expiry > $3
		)
	`, userID, refreshHash, now).Scan(&ok)
	return ok, err
}

// Consume is a single conditional delete, so concurrent callers race on the
// row lock and only one sees it returned.
func (r sessionRepo) Consume(ctx context.Context, userID, refreshHash string, now time.Time) (auth.AuthToken, error) {
	t, err := scanSession(r.db.QueryRowContext(ctx, `
		delete from auth_tokens
		where user_id = $1 and refresh_token_hash = $2 and refresh_expiry > $3
		returning `+sessionColumns, userID, refreshHash, now))
	return t, mapError(err)
}

func (r sessionRepo) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `delete from auth_tokens where id = $1 and user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	return affected(res)
}

func (r sessionRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `delete from auth_tokens where user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r sessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `delete from auth_tokens where refresh_expiry < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
