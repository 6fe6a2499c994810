// Package rbac gates HTTP routes by the caller's portal role.
package rbac

import (
	"log/slog"
	"net/http"

	"github.com/school-portal/portal/internal/platform/httpx"
	"github.com/school-portal/portal/internal/shared"
)

// Middleware wires role authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAny ensures the current caller holds at least one of the roles.
func (m Middleware) RequireAny(roles ...shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(roles) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			identity := shared.IdentityFromContext(r.Context())
			if identity == nil {
				httpx.Fail(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "authentication required", nil)
				return
			}
			if shared.HasAnyRole(identity.Role, roles...) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Info("rbac denied",
					slog.Int64("user_id", identity.UserID),
					slog.String("role", string(identity.Role)),
					slog.String("path", r.URL.Path))
			}
			httpx.Fail(w, http.StatusForbidden, httpx.CodeForbidden, "insufficient role", nil)
		})
	}
}
