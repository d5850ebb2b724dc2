package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Server upgrades incoming HTTP requests to WebSocket connections and
// starts each connection's read/write pumps. It holds no command
// logic of its own; that lives in Dispatcher.
type Server struct {
	hub         *Hub
	dispatcher  *Dispatcher
	upgrader    websocket.Upgrader
	heartbeat   time.Duration
	idleTimeout time.Duration
}

func NewServer(hub *Hub, dispatcher *Dispatcher, allowedOrigins []string, heartbeat, idleTimeout time.Duration) *Server {
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return &Server{
		hub:        hub,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(originSet) == 0 {
					return true
				}
				return originSet[r.Header.Get("Origin")]
			},
		},
		heartbeat:   heartbeat,
		idleTimeout: idleTimeout,
	}
}

// ServeHTTP upgrades the connection and blocks in the read pump until
// the socket closes, at which point it detaches from the Hub. The
// auth handshake happens as this connection's first inbound frame
// (type "auth"), handled by Dispatcher like any other command rather
// than inline here, so there is exactly one code path for "reject an
// unauthenticated non-auth command."
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newConnection(conn, s.hub, s.heartbeat, s.idleTimeout)

	go c.writePump()

	c.readPump(s.dispatcher)

	s.dispatcher.HandleDetach(context.Background(), c)
}
