package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Notifier delivers single-use tokens to users out of band.
type Notifier interface {
	SendToken(ctx context.Context, user User, purpose TokenPurpose, value string, expiresAt time.Time) error
}

// Service provides sign-in, session and account flows.
type Service struct {
	store       Store
	credentials *CredentialIssuer
	tokens      *TokenIssuer
	notifier    Notifier
	signer      *TokenSigner
	now         func() time.Time

	tokenTTL             time.Duration
	requireVerifiedEmail bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenTTL configures how long single-use tokens stay valid.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
		return nil
	}
}

// WithNotifier sets the delivery channel for single-use tokens.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

// WithRequireVerifiedEmail rejects sign-in for unverified addresses.
func WithRequireVerifiedEmail(v bool) ServiceOption {
	return func(s *Service) error {
		s.requireVerifiedEmail = v
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, signer *TokenSigner, credentials *CredentialIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil || signer == nil || credentials == nil {
		return nil, errors.New("auth: store, signer and credential issuer are required")
	}
	svc := &Service{
		store:       store,
		credentials: credentials,
		signer:      signer,
		now:         time.Now,
		tokenTTL:    defaultTokenTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	svc.tokens = NewTokenIssuer(store.Tokens(), store.Users(), svc.now)
	return svc, nil
}

// Credentials exposes the session issuer.
func (s *Service) Credentials() *CredentialIssuer { return s.credentials }

// Tokens exposes the single-use token issuer.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// Authenticate verifies an access token and returns its claims.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return s.signer.Parse(token)
}

// BuildClaims loads user with its roles and granted permissions.
func (s *Service) BuildClaims(ctx context.Context, userID string) (User, Claims, error) {
	users := s.store.Users()
	user, err := users.Get(ctx, userID)
	if err != nil {
		return User{}, Claims{}, err
	}
	roles, err := users.Roles(ctx, userID)
	if err != nil {
		return User{}, Claims{}, err
	}
	perms, err := users.Permissions(ctx, userID)
	if err != nil {
		return User{}, Claims{}, err
	}
	return user, BuildClaims(user, roles, perms), nil
}

// SignIn authenticates identifier, which is an email when it contains "@"
// and a username otherwise, and opens a new session.
func (s *Service) SignIn(ctx context.Context, identifier, password string) (IssuedCredentials, error) {
	identifier = strings.TrimSpace(identifier)
	byEmail := strings.Contains(identifier, "@")
	badCredentials := ErrInvalidUsernamePassword
	if byEmail {
		badCredentials = ErrInvalidEmailPassword
	}
	if identifier == "" || password == "" {
		return IssuedCredentials{}, badCredentials
	}

	var (
		user User
		err  error
	)
	if byEmail {
		user, err = s.store.Users().GetByEmail(ctx, NormalizeKey(identifier))
	} else {
		user, err = s.store.Users().GetByUsername(ctx, NormalizeKey(identifier))
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return IssuedCredentials{}, badCredentials
		}
		return IssuedCredentials{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return IssuedCredentials{}, badCredentials
	}
	if !user.IsActive {
		return IssuedCredentials{}, ErrUserNotActive
	}
	if s.requireVerifiedEmail && !user.IsEmailVerified {
		return IssuedCredentials{}, ErrEmailNotVerified
	}

	user, claims, err := s.BuildClaims(ctx, user.ID)
	if err != nil {
		return IssuedCredentials{}, err
	}
	return s.credentials.Issue(ctx, user, claims)
}

// Refresh rotates the refresh token and re-issues credentials with claims
// recomputed from the current role and permission assignments.
func (s *Service) Refresh(ctx context.Context, userID, refreshToken string) (IssuedCredentials, error) {
	return s.credentials.Refresh(ctx, userID, refreshToken, s.activeClaims)
}

func (s *Service) activeClaims(ctx context.Context, userID string) (User, Claims, error) {
	user, claims, err := s.BuildClaims(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, Claims{}, ErrInvalidToken
		}
		return User{}, Claims{}, err
	}
	if !user.IsActive {
		return User{}, Claims{}, ErrUserNotActive
	}
	return user, claims, nil
}

// SignOut ends the session in claims, or every session of the user when all
// is set.
func (s *Service) SignOut(ctx context.Context, claims *Claims, all bool) error {
	if claims == nil {
		return ErrUnauthenticated
	}
	if all {
		_, err := s.credentials.RevokeAll(ctx, claims.Subject)
		return err
	}
	err := s.credentials.Revoke(ctx, claims.Subject, claims.SessionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Me returns the user behind claims.
func (s *Service) Me(ctx context.Context, userID string) (User, []Role, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return User{}, nil, err
	}
	roles, err := s.store.Users().Roles(ctx, userID)
	if err != nil {
		return User{}, nil, err
	}
	return user, roles, nil
}

// ProfileUpdate is a self-service edit of display fields.
type ProfileUpdate struct {
	FirstName    *string `json:"first_name"`
	LastName     *string `json:"last_name"`
	ProfileImage *string `json:"profile_image"`
}

// UpdateProfile edits the caller's own display fields. Default users may use it.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (User, error) {
	var ch UserChanges
	if upd.FirstName != nil {
		ch.SetFirstName(strings.TrimSpace(*upd.FirstName))
	}
	if upd.LastName != nil {
		ch.SetLastName(strings.TrimSpace(*upd.LastName))
	}
	if upd.ProfileImage != nil {
		ch.SetProfileImage(strings.TrimSpace(*upd.ProfileImage))
	}
	if ch.Empty() {
		return s.store.Users().Get(ctx, userID)
	}
	ch.UpdatedBy = userID
	return s.store.Users().Update(ctx, userID, ch)
}

// RequestEmailVerification mails a verification token to the user.
func (s *Service) RequestEmailVerification(ctx context.Context, userID string) error {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsEmailVerified {
		return nil
	}
	return s.issueAndSend(ctx, user, PurposeEmailVerification)
}

// ConfirmEmail redeems a verification token.
func (s *Service) ConfirmEmail(ctx context.Context, value string) (User, error) {
	user, err := s.tokens.Redeem(ctx, value, PurposeEmailVerification)
	if err != nil {
		return User{}, err
	}
	var ch UserChanges
	ch.SetEmailVerified(true)
	ch.UpdatedBy = user.ID
	return s.store.Users().Update(ctx, user.ID, ch)
}

// ForgotPassword mails a reset token when email belongs to an active user.
// Unknown or inactive addresses return nil without sending anything.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = NormalizeKey(email)
	if email == "" {
		return invalidInput("email is required")
	}
	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}
	return s.issueAndSend(ctx, user, PurposePasswordReset)
}

// ResetPassword redeems a reset token, stores the new password and ends all
// sessions of the user.
func (s *Service) ResetPassword(ctx context.Context, value, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.tokens.Redeem(ctx, value, PurposePasswordReset)
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, user.ID, newPassword, user.ID); err != nil {
		return err
	}
	_, err = s.credentials.RevokeAll(ctx, user.ID)
	return err
}

// ChangePassword replaces the caller's password after checking the current
// one, then ends all of the caller's sessions.
func (s *Service) ChangePassword(ctx context.Context, claims *Claims, current, next string) error {
	if claims == nil {
		return ErrUnauthenticated
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	user, err := s.store.Users().Get(ctx, claims.Subject)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return fmt.Errorf("%w: current password is incorrect", ErrInvalidInput)
	}
	if err := s.setPassword(ctx, user.ID, next, user.ID); err != nil {
		return err
	}
	if _, err := s.credentials.RevokeAll(ctx, user.ID); err != nil {
		return err
	}
	return nil
}

func (s *Service) setPassword(ctx context.Context, userID, password, by string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	var ch UserChanges
	ch.SetPasswordHash(hash)
	ch.UpdatedBy = by
	_, err = s.store.Users().Update(ctx, userID, ch)
	return err
}

func (s *Service) issueAndSend(ctx context.Context, user User, purpose TokenPurpose) error {
	issued, err := s.tokens.Issue(ctx, user, purpose, s.tokenTTL)
	if err != nil {
		return err
	}
	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.SendToken(ctx, user, purpose, issued.Value, issued.ExpiresAt); err != nil {
		return fmt.Errorf("deliver %s token: %w", purpose, err)
	}
	return nil
}
