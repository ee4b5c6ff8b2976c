package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ma496/EasyForNet-sub002/internal/ids"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	refreshTokenBytes = 32
)

// IssuedCredentials is what a client receives on sign-in or refresh.
type IssuedCredentials struct {
	UserID           string    `json:"user_id"`
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// ClaimsLoader resolves the current user and a freshly built claim set.
type ClaimsLoader func(ctx context.Context, userID string) (User, Claims, error)

// CredentialIssuer manages the access/refresh lifecycle of sessions.
type CredentialIssuer struct {
	sessions   AuthTokenStore
	signer     *TokenSigner
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// IssuerOption configures a CredentialIssuer.
type IssuerOption func(*CredentialIssuer)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(c *CredentialIssuer) {
		if ttl > 0 {
			c.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(c *CredentialIssuer) {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
	}
}

// WithIssuerClock overrides the time source.
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(c *CredentialIssuer) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCredentialIssuer constructs an issuer persisting sessions in sessions.
func NewCredentialIssuer(sessions AuthTokenStore, signer *TokenSigner, opts ...IssuerOption) (*CredentialIssuer, error) {
	if sessions == nil {
		return nil, errors.New("auth: session store is required")
	}
	if signer == nil {
		return nil, errors.New("auth: token signer is required")
	}
	c := &CredentialIssuer{
		sessions:   sessions,
		signer:     signer,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs claims into an access token, mints a refresh token and
// persists the session.
func (c *CredentialIssuer) Issue(ctx context.Context, user User, claims Claims) (IssuedCredentials, error) {
	if user.ID == "" {
		return IssuedCredentials{}, errors.New("auth: cannot issue credentials without user id")
	}
	now := c.now().UTC()
	sessionID := ids.New()

	claims.Subject = user.ID
	claims.SessionID = sessionID
	accessExp := now.Add(c.accessTTL)
	access, err := c.signer.Sign(claims, now, accessExp)
	if err != nil {
		return IssuedCredentials{}, err
	}
	refresh, err := generateSecret(refreshTokenBytes)
	if err != nil {
		return IssuedCredentials{}, err
	}
	refreshExp := now.Add(c.refreshTTL)

	rec := &AuthToken{
		ID:               sessionID,
		UserID:           user.ID,
		AccessTokenHash:  digest(access),
		AccessExpiry:     accessExp,
		RefreshTokenHash: digest(refresh),
		RefreshExpiry:    refreshExp,
		CreatedAt:        now,
		CreatedBy:        user.ID,
	}
	if err := c.sessions.Create(ctx, rec); err != nil {
		return IssuedCredentials{}, fmt.Errorf("persist session: %w", err)
	}
	return IssuedCredentials{
		UserID:           user.ID,
		SessionID:        sessionID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IsValidRefreshToken reports whether an unexpired session matches both
// userID and refreshToken exactly.
func (c *CredentialIssuer) IsValidRefreshToken(ctx context.Context, userID, refreshToken string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || refreshToken == "" {
		return false, nil
	}
	return c.sessions.Exists(ctx, userID, digest(refreshToken), c.now().UTC())
}

// Refresh consumes the session holding refreshToken and issues a new pair
// with claims rebuilt by load. A refresh token is good for one call only.
func (c *CredentialIssuer) Refresh(ctx context.Context, userID, refreshToken string, load ClaimsLoader) (IssuedCredentials, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || refreshToken == "" {
		return IssuedCredentials{}, ErrInvalidToken
	}
	if _, err := c.sessions.Consume(ctx, userID, digest(refreshToken), c.now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return IssuedCredentials{}, ErrInvalidToken
		}
		return IssuedCredentials{}, err
	}
	user, claims, err := load(ctx, userID)
	if err != nil {
		return IssuedCredentials{}, err
	}
	return c.Issue(ctx, user, claims)
}

// Revoke ends one session.
func (c *CredentialIssuer) Revoke(ctx context.Context, userID, sessionID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return invalidInput("user id and session id are required")
	}
	return c.sessions.Delete(ctx, userID, sessionID)
}

// RevokeAll ends every session of userID.
func (c *CredentialIssuer) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return c.sessions.DeleteByUser(ctx, userID)
}

func generateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// digest is the stored form of issued secrets.
func digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// HashToken exposes the stored digest form for store implementations and tools.
func HashToken(secret string) string { return digest(secret) }
