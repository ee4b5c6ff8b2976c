package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ma496/EasyForNet-sub002/internal/ids"
)

const (
	defaultTokenTTL = time.Hour
	oneTimeBytes    = 32
)

// IssuedToken is the plaintext value handed to the user out of band.
type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenIssuer issues and redeems single-use tokens.
type TokenIssuer struct {
	tokens TokenStore
	users  UserStore
	now    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(tokens TokenStore, users UserStore, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{tokens: tokens, users: users, now: now}
}

// Issue creates a token for user valid for validity.
func (t *TokenIssuer) Issue(ctx context.Context, user User, purpose TokenPurpose, validity time.Duration) (IssuedToken, error) {
	if !purpose.Valid() {
		return IssuedToken{}, invalidInput("unknown token purpose %q", purpose)
	}
	if validity <= 0 {
		validity = defaultTokenTTL
	}
	value, err := generateSecret(oneTimeBytes)
	if err != nil {
		return IssuedToken{}, err
	}
	now := t.now().UTC()
	rec := &Token{
		ID:        ids.New(),
		UserID:    user.ID,
		ValueHash: digest(value),
		Purpose:   purpose,
		Expiry:    now.Add(validity),
		Audit:     Audit{CreatedAt: now, CreatedBy: Actor(ctx), UpdatedAt: now, UpdatedBy: Actor(ctx)},
	}
	if err := t.tokens.Create(ctx, rec); err != nil {
		return IssuedToken{}, fmt.Errorf("persist token: %w", err)
	}
	return IssuedToken{Value: value, ExpiresAt: rec.Expiry}, nil
}

// Redeem marks the token used and returns its user. A token issued for a
// different purpose is treated as unknown.
func (t *TokenIssuer) Redeem(ctx context.Context, value string, purpose TokenPurpose) (User, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return User{}, ErrInvalidToken
	}
	tok, err := t.tokens.GetByValue(ctx, digest(value))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidToken
		}
		return User{}, err
	}
	if tok.Purpose != purpose {
		return User{}, ErrInvalidToken
	}
	if tok.Expiry.Before(t.now().UTC()) {
		return User{}, ErrTokenExpired
	}
	if tok.IsUsed {
		return User{}, ErrTokenAlreadyUsed
	}
	if err := t.tokens.MarkUsed(ctx, tok.ID, Actor(ctx)); err != nil {
		return User{}, err
	}
	user, err := t.users.Get(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidToken
		}
		return User{}, err
	}
	return user, nil
}
