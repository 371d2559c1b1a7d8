// Package middleware holds the HTTP middleware shared by the API routes.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/PaulBabatuyi/biodata-api/internal/auth"
	"github.com/PaulBabatuyi/biodata-api/internal/data"
	"github.com/PaulBabatuyi/biodata-api/internal/response"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type contextKey string

const emailKey contextKey = "email"

// TokenVerifier validates a session token.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// RoleLookup returns the stored role of a user.
type RoleLookup interface {
	RoleOf(ctx context.Context, email string) (data.Role, error)
}

// Authenticate requires a valid session token and stores the caller's email
// in the request context. A missing token is 401, an invalid one 400.
func Authenticate(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.VerifyToken(auth.TokenFromRequest(r))
			switch {
			case errors.Is(err, auth.ErrNoToken):
				response.Error(w, http.StatusUnauthorized, "unauthorized access")
				return
			case err != nil:
				response.Error(w, http.StatusBadRequest, "invalid token")
				return
			}

			ctx := WithEmail(r.Context(), claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin admits only callers whose stored role is Admin. It must run
// after Authenticate. The role is read on every request so a demotion takes
// effect immediately.
func RequireAdmin(users RoleLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := EmailFromContext(r.Context())
			if email == "" {
				response.Error(w, http.StatusUnauthorized, "unauthorized access")
				return
			}

			role, err := users.RoleOf(r.Context(), email)
			switch {
			case errors.Is(err, data.ErrNotFound):
				response.Error(w, http.StatusForbidden, "forbidden access")
				return
			case err != nil:
				log.Error().Err(err).
					Str("request_id", chimw.GetReqID(r.Context())).
					Str("email", email).
					Msg("failed to look up role")
				response.Error(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if !role.IsAdmin() {
				response.Error(w, http.StatusForbidden, "forbidden access")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithEmail returns a copy of ctx carrying the caller's email.
func WithEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, emailKey, email)
}

// EmailFromContext returns the authenticated caller's email, or "".
func EmailFromContext(ctx context.Context) string {
	email, ok := ctx.Value(emailKey).(string)
	if !ok {
		return ""
	}
	return email
}
