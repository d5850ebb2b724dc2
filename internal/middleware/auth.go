package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/httputil"
	"github.com/minglr/match-relay/internal/identity"
)

type contextKey string

const SessionIDContextKey contextKey = "sessionId"

func GetSessionID(ctx context.Context) string {
	sessionID, _ := ctx.Value(SessionIDContextKey).(string)
	return sessionID
}

// AuthMiddleware verifies the bearer token on REST endpoints that
// require an authenticated session (reports, stats is public). It is
// the HTTP-side counterpart of the gateway's auth handshake; both
// ultimately call identity.Authority.
type AuthMiddleware struct {
	authority *identity.Authority
}

func NewAuthMiddleware(authority *identity.Authority) *AuthMiddleware {
	return &AuthMiddleware{authority: authority}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.AuthFailure("missing authentication token"))
			return
		}

		sessionID, err := m.authority.Verify(token)
		if err != nil {
			log.Warn().Err(err).Msg("auth middleware: invalid token")
			httputil.WriteError(w, err)
			return
		}

		if _, err := m.authority.Resolve(r.Context(), sessionID); err != nil {
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), SessionIDContextKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
