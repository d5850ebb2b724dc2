package handler

import (
	"net/http"
	"time"

	"github.com/minglr/match-relay/internal/httputil"
)

type HealthHandler struct {
	startedAt time.Time
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{startedAt: time.Now()}
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

// GET /health
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: int64(time.Since(h.startedAt).Seconds()),
	})
}
