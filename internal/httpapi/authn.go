package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type authFailureKey struct{}

// authFailure is why a presented bearer token was not accepted.
type authFailure struct {
	code string
	msg  string
}

// authn verifies a bearer token when one is sent and attaches its claims.
// A missing or rejected token leaves the request anonymous so public routes
// such as refresh still work; guarded routes report the recorded failure.
func (a *API) authn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(authHeader)
		if strings.TrimSpace(header) == "" || a.accounts == nil {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(header)
		if err != nil {
			next.ServeHTTP(w, withAuthFailure(r, "invalid_token", err.Error()))
			return
		}
		claims, err := a.accounts.Authenticate(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				next.ServeHTTP(w, withAuthFailure(r, "token_expired", "token expired"))
				return
			}
			next.ServeHTTP(w, withAuthFailure(r, "invalid_token", "invalid token"))
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withAuthFailure(r *http.Request, code, msg string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), authFailureKey{}, authFailure{code: code, msg: msg}))
}

// unauthenticated writes the 401 for a request that reached a guard without
// claims, naming the token failure when there was one.
func unauthenticated(w http.ResponseWriter, r *http.Request) {
	if f, ok := r.Context().Value(authFailureKey{}).(authFailure); ok {
		unauthorized(w, r, f.code, f.msg)
		return
	}
	unauthorized(w, r, "unauthenticated", "missing bearer token")
}

func requireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.ClaimsFromContext(r.Context()); !ok {
			unauthenticated(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requirePermission checks perm against the token's claims only.
func requirePermission(perm string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch err := auth.RequirePermission(r.Context(), perm); {
		case errors.Is(err, auth.ErrUnauthenticated):
			unauthenticated(w, r)
		case errors.Is(err, auth.ErrForbidden):
			writeError(w, r, http.StatusForbidden, "forbidden", "missing permission "+perm)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// RequireRole guards a handler by role name.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch err := auth.RequireRole(r.Context(), role); {
			case errors.Is(err, auth.ErrUnauthenticated):
				unauthenticated(w, r)
			case errors.Is(err, auth.ErrForbidden):
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "forbidden", "missing role "+role)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, code, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="easyfornet"`)
	writeError(w, r, http.StatusUnauthorized, code, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
