package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minglr/match-relay/internal/cryptoutil"
	"github.com/minglr/match-relay/internal/identity"
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/stats"
	"github.com/minglr/match-relay/internal/store"
)

// Hub is the per-instance registry of locally-attached connections. It
// generalizes the teacher's SSE broker from "N clients per account,
// fanned out from one shared subscription" to "exactly one live
// connection per session" (the stale-socket rule guarantees at most
// one), but keeps the same shape: a local map, a background goroutine
// per subscribed topic, and drop-on-full delivery into each
// connection's own channel.
type Hub struct {
	store    *store.Store
	identity *identity.Authority
	stats    *stats.Aggregator

	mu          sync.RWMutex
	connections map[string]*Connection
	cancels     map[string]context.CancelFunc

	shuttingDown bool

	autoDisconnectDelay time.Duration
	onAutoDisconnect    func(ctx context.Context, sessionID string)
}

func NewHub(s *store.Store, auth *identity.Authority, agg *stats.Aggregator) *Hub {
	return &Hub{
		store:       s,
		identity:    auth,
		stats:       agg,
		connections: make(map[string]*Connection),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Attach binds a freshly authenticated connection to its session: it
// records the connection locally, mints a fresh connectionID, writes
// it into the session record (so a later connection on the same
// session is distinguishable from this one per the stale-socket rule),
// subscribes to the session's pub/sub topic, and bumps the approximate
// online counters.
func (h *Hub) Attach(ctx context.Context, c *Connection, sessionID string, intent model.Intent) error {
	connectionID, err := cryptoutil.RandomID(12)
	if err != nil {
		return err
	}

	c.SessionID = sessionID
	c.ConnectionID = connectionID
	c.State = StateAuthenticated

	if err := h.identity.SetConnection(ctx, sessionID, connectionID); err != nil {
		return err
	}

	h.mu.Lock()
	if h.shuttingDown {
		h.mu.Unlock()
		return context.Canceled
	}
	if existing, ok := h.connections[sessionID]; ok {
		// A prior connection on the same session is still registered
		// locally; its stale-socket rule check will find its
		// connectionID no longer matches and self-detach harmlessly.
		existing.close()
	}
	h.connections[sessionID] = c
	subCtx, cancel := context.WithCancel(context.Background())
	h.cancels[sessionID] = cancel
	h.mu.Unlock()

	go h.subscribe(subCtx, sessionID)

	if err := h.stats.RecordConnect(ctx, intent); err != nil {
		log.Warn().Err(err).Msg("failed to record connect stat")
	}

	return nil
}

// Unregister removes c from the local connection map and cancels its
// pub/sub subscription, but only if c is still the locally-registered
// connection for its session (a connection superseded on this same
// instance has already been replaced and must not tear down the new
// one's registration). It reports whether c was the one removed.
//
// This is local-only: a session that reconnected to a *different*
// instance still looks locally current here, since this instance has
// no visibility into that. The caller (Dispatcher.HandleDetach) is
// responsible for the cross-instance check against the session's
// authoritative connection_id before treating this as a real detach.
func (h *Hub) Unregister(c *Connection) bool {
	if c.SessionID == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.connections[c.SessionID]
	if !ok || current != c {
		return false
	}

	delete(h.connections, c.SessionID)
	if cancel, ok := h.cancels[c.SessionID]; ok {
		cancel()
		delete(h.cancels, c.SessionID)
	}
	return true
}

// RecordDisconnect is a thin pass-through to the stats aggregator, kept
// on Hub so Dispatcher does not need its own reference to it.
func (h *Hub) RecordDisconnect(ctx context.Context) error {
	return h.stats.RecordDisconnect(ctx)
}

// subscribe relays every message published on a session's user topic
// straight into that session's local connection, if it is still
// attached to this instance by the time the message arrives.
func (h *Hub) subscribe(ctx context.Context, sessionID string) {
	pubsub := h.store.Subscribe(ctx, store.UserTopic(sessionID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to unmarshal pub/sub event")
				continue
			}

			h.mu.RLock()
			conn, ok := h.connections[sessionID]
			h.mu.RUnlock()
			if !ok {
				continue
			}

			conn.Push(event)

			if event.Type == model.EventAutoDisconnectWarning && h.onAutoDisconnect != nil {
				go h.scheduleForcedDisconnect(sessionID)
			}
		}
	}
}

// scheduleForcedDisconnect waits out the auto-disconnect warning delay
// and then invokes the forced-leave callback, but only if the session
// still has a connection attached to this instance (a session that
// disconnected in the meantime is not torn down retroactively). The
// check is per session: a replacement connection attached during the
// delay still receives the forced leave.
func (h *Hub) scheduleForcedDisconnect(sessionID string) {
	time.Sleep(h.autoDisconnectDelay)

	h.mu.RLock()
	_, stillAttached := h.connections[sessionID]
	h.mu.RUnlock()
	if !stillAttached {
		return
	}

	h.onAutoDisconnect(context.Background(), sessionID)
}

// SetAutoDisconnectHandler wires the forced-leave callback invoked once
// a session crosses the report auto-disconnect threshold. It is set
// once at startup to break the Hub/Dispatcher construction cycle (the
// Dispatcher depends on the Hub, so the Hub cannot depend on the
// Dispatcher at construction time).
func (h *Hub) SetAutoDisconnectHandler(delay time.Duration, handler func(ctx context.Context, sessionID string)) {
	h.autoDisconnectDelay = delay
	h.onAutoDisconnect = handler
}

// Get returns the locally-attached connection for a session, if any.
func (h *Hub) Get(sessionID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.connections[sessionID]
	return conn, ok
}

// Shutdown marks the hub as draining (Attach starts rejecting new
// connections), pushes `shutting-down` to every locally-attached
// client, and closes each connection once the drain deadline elapses
// or the context is canceled, whichever comes first.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.shuttingDown = true
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	event, _ := model.NewEvent(model.EventShuttingDown, map[string]string{})
	for _, c := range conns {
		c.Push(event)
	}

	<-ctx.Done()

	h.mu.Lock()
	for _, c := range conns {
		c.close()
	}
	h.mu.Unlock()
}
