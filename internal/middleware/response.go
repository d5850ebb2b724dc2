package middleware

import (
	"net/http"

	"github.com/minglr/match-relay/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
