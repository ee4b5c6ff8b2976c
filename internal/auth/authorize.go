package auth

import "context"

// RequirePermission allows the call iff the caller's claims carry perm.
func RequirePermission(ctx context.Context, perm string) error {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if !c.HasPermission(perm) {
		return ErrForbidden
	}
	return nil
}

// RequireRole allows the call iff the caller's claims carry role.
func RequireRole(ctx context.Context, role string) error {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if !c.HasRole(role) {
		return ErrForbidden
	}
	return nil
}
