package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/minglr/match-relay/internal/model"
)

// inboundMessage is the shape of every client->server command: a type
// tag plus an opaque payload the dispatcher decodes per command.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Connection is one client's long-lived socket. It is created
// unauthenticated; SessionID and ConnectionID are populated once the
// auth handshake succeeds. Outbound traffic is funneled through the
// send channel so exactly one goroutine (writePump) ever calls
// WriteMessage, which gorilla/websocket requires.
type Connection struct {
	conn        *websocket.Conn
	send        chan model.Event
	done        chan struct{}
	closeOnce   sync.Once
	hub         *Hub
	heartbeat   time.Duration
	idleTimeout time.Duration

	SessionID    string
	ConnectionID string
	State        State
}

func newConnection(conn *websocket.Conn, hub *Hub, heartbeat, idleTimeout time.Duration) *Connection {
	return &Connection{
		conn:        conn,
		send:        make(chan model.Event, 32),
		done:        make(chan struct{}),
		hub:         hub,
		heartbeat:   heartbeat,
		idleTimeout: idleTimeout,
		State:       StateUnauthenticated,
	}
}

// Push enqueues an outbound event for delivery by writePump. It never
// blocks: a connection whose send buffer is full is assumed wedged and
// the event is dropped rather than stalling the publisher (the same
// drop-on-full policy the teacher's broadcast uses for its SSE client
// channel).
func (c *Connection) Push(event model.Event) {
	select {
	case c.send <- event:
	default:
		log.Warn().Str("sessionId", c.SessionID).Str("eventType", string(event.Type)).Msg("connection send buffer full, dropping event")
	}
}

// close is safe to call concurrently from readPump's defer and from
// Hub.Attach/Shutdown closing a superseded connection out from under
// it (the S4 tab-swap race); sync.Once guarantees done is closed
// exactly once no matter how many goroutines race to call this.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump decodes inbound frames and hands each to dispatch. It
// returns when the socket errors or closes; the caller is responsible
// for detaching the connection from the Hub afterward.
func (c *Connection) readPump(d *Dispatcher) {
	defer c.close()

	c.conn.SetReadLimit(int64(model.MaxSignalPayloadBytes) + 4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		// A pong is the only traffic a queued, otherwise-silent
		// connection produces every heartbeat; touching the session
		// here (not just on an explicit command) keeps last_seen_at
		// fresh for the Queue Engine's liveness check even while the
		// client has nothing to say.
		if c.SessionID != "" {
			if err := d.identity.Touch(context.Background(), c.SessionID); err != nil {
				log.Debug().Err(err).Str("sessionId", c.SessionID).Msg("failed to touch session on pong")
			}
		}
		return c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("sessionId", c.SessionID).Msg("websocket read closed")
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.Push(errorEvent("malformed message"))
			continue
		}

		d.Handle(c, msg)
	}
}

// writePump is the sole writer to the socket: outbound events from
// send, and a periodic ping that doubles as the 25s heartbeat the
// client is expected to answer to keep the 60s idle deadline from
// firing.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			return

		case event := <-c.send:
			payload, err := json.Marshal(event)
			if err != nil {
				log.Error().Err(err).Msg("failed to marshal outbound event")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Str("sessionId", c.SessionID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("sessionId", c.SessionID).Msg("websocket ping failed")
				return
			}
		}
	}
}

func errorEvent(message string) model.Event {
	event, _ := model.NewEvent(model.EventError, map[string]string{"message": message})
	return event
}
