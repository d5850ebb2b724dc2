package handler

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/minglr/match-relay/internal/config"
	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/httputil"
	"github.com/minglr/match-relay/internal/identity"
	"github.com/minglr/match-relay/internal/middleware"
	"github.com/minglr/match-relay/internal/safety"
)

type SessionHandler struct {
	authority *identity.Authority
	limiter   *safety.RateLimiter
}

func NewSessionHandler(authority *identity.Authority, limiter *safety.RateLimiter) *SessionHandler {
	return &SessionHandler{authority: authority, limiter: limiter}
}

type initResponse struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// POST /api/session/init
func (h *SessionHandler) Init(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.limiter.Allow(ctx, "ip:"+clientIP(r), config.SessionIssuanceRateLimit, config.SessionIssuanceWindow) {
		httputil.WriteError(w, apperrors.RateLimited())
		return
	}

	session, token, err := h.authority.Issue(ctx, "", "")
	if err != nil {
		log.Error().Err(err).Msg("failed to issue session")
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, initResponse{
		SessionID: session.ID,
		Token:     string(token),
		ExpiresIn: int64(config.TokenTTL.Seconds()),
	})
}

type verifyResponse struct {
	Valid     bool   `json:"valid"`
	SessionID string `json:"sessionId"`
}

// POST /api/session/verify
func (h *SessionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{Valid: true, SessionID: sessionID})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
