package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

const tokenColumns = `id, user_id, value_hash, purpose, expiry, is_used, created_at, created_by, updated_at, updated_by`

func scanToken(r rowScanner) (auth.Token, error) {
	var (
		t       auth.Token
		purpose string
	)
	err := r.Scan(&t.ID, &t.UserID, &t.ValueHash, &purpose, &t.Expiry, &t.IsUsed, &t.CreatedAt, &t.CreatedBy, &t.UpdatedAt, &t.UpdatedBy)
	t.Purpose = auth.TokenPurpose(purpose)
	return t, err
}

type tokenRepo struct {
	db *sql.DB
}

func (r tokenRepo) Create(ctx context.Context, t *auth.Token) error {
	_, err := r.db.ExecContext(ctx, `
		insert into tokens (id, user_id, value_hash, purpose, expiry, is_used, created_at, created_by, updated_at, updated_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.UserID, t.ValueHash, string(t.Purpose), t.Expiry, t.IsUsed, t.CreatedAt, t.CreatedBy, t.UpdatedAt, t.UpdatedBy)
	return mapError(err)
}

func (r tokenRepo) GetByValue(ctx context.Context, valueHash string) (auth.Token, error) {
	t, err := scanToken(r.db.QueryRowContext(ctx, `select `+tokenColumns+` from tokens where value_hash = $1`, valueHash))
	return t, mapError(err)
}

func (r tokenRepo) MarkUsed(ctx context.Context, id, by string) error {
	res, err := r.db.ExecContext(ctx, `
		update tokens set is_used = true, updated_by = $2, updated_at = now()
		where id = $1 and not is_used
	`, id, by)
	if err != nil {
		return err
	}
	if err := affected(res); !errors.Is(err, auth.ErrNotFound) {
		return err
	}
	var used bool
	if err := r.db.QueryRowContext(ctx, `select is_used from tokens where id = $1`, id).Scan(&used); err != nil {
		return mapError(err)
	}
	return auth.ErrTokenAlreadyUsed
}

func (r tokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `delete from tokens where expiry < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
