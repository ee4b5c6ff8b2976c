package auth

import (
	"context"
	"fmt"
	"time"
)

// Cleaner deletes expired sessions and single-use tokens. Both sweeps are
// bulk deletes by expiry and safe to repeat or run alongside traffic.
type Cleaner struct {
	sessions AuthTokenStore
	tokens   TokenStore
	now      func() time.Time
}

// NewCleaner constructs a Cleaner over store.
func NewCleaner(store Store, now func() time.Time) *Cleaner {
	if now == nil {
		now = time.Now
	}
	return &Cleaner{sessions: store.AuthTokens(), tokens: store.Tokens(), now: now}
}

// DeleteExpiredAuthTokens removes sessions whose refresh expiry has passed.
func (c *Cleaner) DeleteExpiredAuthTokens(ctx context.Context) (int64, error) {
	n, err := c.sessions.DeleteExpired(ctx, c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}

// DeleteExpiredTokens removes single-use tokens past expiry, used or not.
func (c *Cleaner) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	n, err := c.tokens.DeleteExpired(ctx, c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return n, nil
}
