package auth

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/club-directory/internal/model"
)

// TokenValidator turns a bearer token into an identity.
type TokenValidator interface {
	ValidateToken(tokenString string) (model.Identity, error)
}

type contextKeyIdentity struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity{}, id)
}

// IdentityFrom returns the authenticated identity, if any.
func IdentityFrom(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity{}).(model.Identity)
	return id, ok
}

// ErrorWriter renders an auth failure. Handlers pass their own JSON writer
// so auth errors share the API's error envelope.
type ErrorWriter func(w http.ResponseWriter, status int, code, description string)

// RequireAuth rejects requests without a valid bearer token with 401 and
// stores the verified identity in the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeErr(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			id, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", middleware.GetReqID(ctx),
				)
				writeErr(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

// RequireRole rejects authenticated callers whose role is not in roles
// with 403. It must run after RequireAuth.
func RequireRole(writeErr ErrorWriter, roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeErr(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !slices.Contains(roles, id.Role) {
				writeErr(w, http.StatusForbidden, "forbidden", "role "+string(id.Role)+" may not perform this action")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
