package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/school-portal/portal/internal/platform/httpx"
	"github.com/school-portal/portal/internal/shared"
)

// Verifier validates bearer tokens.
type Verifier interface {
	Verify(token string) (*shared.Identity, error)
}

// Middleware authenticates API requests from the Authorization header.
type Middleware struct {
	Verifier Verifier
	Logger   *slog.Logger
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller identity in the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.Verifier.Verify(bearerToken(r))
		if err != nil {
			if m.Logger != nil && !errors.Is(err, ErrMissingToken) {
				m.Logger.Debug("token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			}
			httpx.Fail(w, http.StatusUnauthorized, httpx.CodeUnauthorized, tokenMessage(err), nil)
			return
		}
		ctx := shared.ContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func tokenMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "authentication required"
	case errors.Is(err, ErrExpiredToken):
		return "token has expired"
	default:
		return "invalid token"
	}
}
