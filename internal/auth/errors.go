package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("auth: not found")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrConflict        = errors.New("auth: conflict")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
)

// Sign-in outcomes.
var (
	ErrInvalidUsernamePassword = errors.New("auth: invalid username or password")
	ErrInvalidEmailPassword    = errors.New("auth: invalid email or password")
	ErrUserNotActive           = errors.New("auth: user is not active")
	ErrEmailNotVerified        = errors.New("auth: email is not verified")
)

// Token outcomes, shared by refresh tokens and single-use tokens.
var (
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrTokenExpired     = errors.New("auth: token expired")
	ErrTokenAlreadyUsed = errors.New("auth: token already used")
)

// Bootstrap entities are only mutated through seeding.
var (
	ErrDefaultRoleCannotBeDeleted            = errors.New("auth: default role cannot be deleted")
	ErrDefaultRoleCannotBeUpdated            = errors.New("auth: default role cannot be updated")
	ErrDefaultRolePermissionsCannotBeChanged = errors.New("auth: default role permissions cannot be changed")
	ErrDefaultUserCannotBeDeleted            = errors.New("auth: default user cannot be deleted")
	ErrDefaultUserCannotBeUpdated            = errors.New("auth: default user cannot be updated")
)

// ConflictError reports a uniqueness violation on a single field.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("auth: %s already exists", e.Field)
}

// Is makes errors.Is(err, ErrConflict) hold for every ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Conflict returns a ConflictError for field.
func Conflict(field string) error {
	return &ConflictError{Field: field}
}

// ConflictField extracts the offending field from a conflict error.
func ConflictField(err error) (string, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Field, true
	}
	return "", false
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
