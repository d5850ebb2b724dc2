package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minglr/match-relay/internal/audit"
	"github.com/minglr/match-relay/internal/config"
	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/identity"
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/queue"
	"github.com/minglr/match-relay/internal/relay"
	"github.com/minglr/match-relay/internal/room"
	"github.com/minglr/match-relay/internal/safety"
	"github.com/minglr/match-relay/internal/stats"
	"github.com/minglr/match-relay/internal/store"
)

// Dispatcher wires together every component the Connection Gateway
// needs to act on a client command. It holds no per-connection state
// of its own; every method takes the *Connection it is acting on.
type Dispatcher struct {
	hub       *Hub
	identity  *identity.Authority
	queue     *queue.Engine
	rooms     *room.Registry
	relay     *relay.Relay
	limiter   *safety.RateLimiter
	reports   *safety.ReportService
	statsAggr *stats.Aggregator
}

func NewDispatcher(hub *Hub, auth *identity.Authority, q *queue.Engine, rooms *room.Registry, r *relay.Relay, limiter *safety.RateLimiter, reports *safety.ReportService, statsAggr *stats.Aggregator) *Dispatcher {
	return &Dispatcher{
		hub:       hub,
		identity:  auth,
		queue:     q,
		rooms:     rooms,
		relay:     r,
		limiter:   limiter,
		reports:   reports,
		statsAggr: statsAggr,
	}
}

// authPayload is the handshake message a connection must send before
// any other command is accepted.
type authPayload struct {
	Token string `json:"token"`
}

type joinQueuePayload struct {
	Mode           string `json:"mode"`
	ConnectionType string `json:"connectionType"`
}

type nextPayload struct {
	RoomID         string `json:"roomId"`
	Mode           string `json:"mode"`
	ConnectionType string `json:"connectionType"`
}

type leavePayload struct {
	RoomID string `json:"roomId,omitempty"`
}

type signalPayload struct {
	RoomID   string     `json:"roomId"`
	TargetID string     `json:"targetId"`
	Signal   signalWire `json:"signal"`
}

type signalWire struct {
	Type    model.SignalType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// Handle routes one inbound frame to its command handler. Before
// authentication the only accepted command is `auth`; every other
// command is rejected with auth-error without touching any component.
func (d *Dispatcher) Handle(c *Connection, msg inboundMessage) {
	ctx := context.Background()

	if c.State == StateUnauthenticated {
		if msg.Type != "auth" {
			c.Push(authErrorEvent("authenticate before sending commands"))
			return
		}
		d.handleAuth(ctx, c, msg.Payload)
		return
	}

	if err := d.identity.Touch(ctx, c.SessionID); err != nil {
		log.Warn().Err(err).Str("sessionId", c.SessionID).Msg("failed to touch session on inbound command")
	}

	if !d.limiter.Allow(ctx, "session:"+c.SessionID, commandLimitFor(msg.Type), commandWindowFor(msg.Type)) {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventRateLimitExceeded,
			SessionID: c.SessionID,
			Details:   map[string]interface{}{"command": msg.Type},
		})
		c.Push(errorEvent("rate limit exceeded"))
		return
	}

	switch msg.Type {
	case "join-queue":
		d.handleJoinQueue(ctx, c, msg.Payload)
	case "next":
		d.handleNext(ctx, c, msg.Payload)
	case "leave":
		d.handleLeave(ctx, c, msg.Payload)
	case "signal":
		d.handleSignal(ctx, c, msg.Payload)
	case "get-stats":
		d.handleGetStats(ctx, c)
	default:
		c.Push(errorEvent("unknown command"))
	}
}

func commandLimitFor(msgType string) int {
	if msgType == "signal" {
		return config.SignalRateLimit
	}
	return config.DefaultCommandRateLimit
}

func commandWindowFor(msgType string) time.Duration {
	if msgType == "signal" {
		return config.SignalWindow
	}
	return config.DefaultCommandWindow
}

func (d *Dispatcher) handleAuth(ctx context.Context, c *Connection, raw json.RawMessage) {
	var payload authPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.Push(authErrorEvent("malformed auth payload"))
		c.close()
		return
	}

	sessionID, err := d.identity.Verify(payload.Token)
	if err != nil {
		audit.Log(ctx, audit.Event{Type: audit.EventAuthFailure, Details: map[string]interface{}{"reason": err.Error()}})
		c.Push(authErrorEvent("invalid token"))
		c.close()
		return
	}

	session, err := d.identity.Resolve(ctx, sessionID)
	if err != nil {
		c.Push(authErrorEvent("unknown session"))
		c.close()
		return
	}

	if err := d.hub.Attach(ctx, c, sessionID, session.Intent); err != nil {
		c.Push(authErrorEvent("failed to attach session"))
		c.close()
		return
	}

	c.State = StateIdle
	log.Info().Str("sessionId", sessionID).Msg("connection authenticated")
}

func (d *Dispatcher) handleJoinQueue(ctx context.Context, c *Connection, raw json.RawMessage) {
	if c.State != StateIdle && c.State != StateQueued {
		d.pushAppError(c, apperrors.Conflict("already in a room"))
		return
	}

	var payload joinQueuePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.Push(errorEvent("malformed join-queue payload"))
		return
	}

	intent := model.Intent(payload.Mode)
	medium := model.Medium(payload.ConnectionType)
	if !intent.Valid() || !medium.Valid() {
		c.Push(errorEvent("unknown intent or medium"))
		return
	}

	if err := d.queue.Withdraw(ctx, c.SessionID); err != nil {
		c.Push(errorEvent("failed to withdraw from prior queue"))
		return
	}

	if err := d.identity.SetDeclaredIntent(ctx, c.SessionID, intent, medium); err != nil {
		log.Warn().Err(err).Str("sessionId", c.SessionID).Msg("failed to record declared intent")
	}

	result, err := d.queue.Enqueue(ctx, c.SessionID, intent, medium)
	if err != nil {
		d.pushAppError(c, err)
		return
	}

	if result.Outcome == queue.OutcomeWaiting {
		c.State = StateQueued
		c.Push(waitingEvent())
		return
	}

	c.State = StatePaired
	c.Push(matchedEvent(result.Room.ID, result.Peer, result.Initiator))
	d.publishTo(ctx, result.Peer, matchedEvent(result.Room.ID, c.SessionID, false))
}

// handleNext destroys the current room, notifies the counterparty, and
// tries to rematch both the caller and the abandoned counterparty.
func (d *Dispatcher) handleNext(ctx context.Context, c *Connection, raw json.RawMessage) {
	var payload nextPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.Push(errorEvent("malformed next payload"))
		return
	}

	// A connection superseded on another instance (the cross-instance
	// half of the stale-socket rule, same check HandleDetach runs on
	// transport close) must not be able to tear down the room its
	// replacement is actively using.
	if d.isStaleConnection(ctx, c) {
		return
	}

	counterparty, err := d.teardownRoom(ctx, payload.RoomID, c.SessionID)
	if err != nil {
		d.pushAppError(c, err)
		return
	}
	if counterparty != "" {
		d.publishTo(ctx, counterparty, peerSkippedEvent())
		d.rematch(ctx, counterparty)
	}

	// Mirrors handleJoinQueue's defensive Withdraw: a caller already
	// sitting in a queue (empty/non-matching roomId, so teardownRoom was
	// a no-op above) must not pick up a second queue entry from the
	// Enqueue below.
	if err := d.queue.Withdraw(ctx, c.SessionID); err != nil {
		c.Push(errorEvent("failed to withdraw from prior queue"))
		return
	}

	intent := model.Intent(payload.Mode)
	medium := model.Medium(payload.ConnectionType)
	if !intent.Valid() || !medium.Valid() {
		c.State = StateIdle
		return
	}

	if err := d.identity.SetDeclaredIntent(ctx, c.SessionID, intent, medium); err != nil {
		log.Warn().Err(err).Str("sessionId", c.SessionID).Msg("failed to record declared intent")
	}

	result, err := d.queue.Enqueue(ctx, c.SessionID, intent, medium)
	if err != nil {
		d.pushAppError(c, err)
		return
	}
	if result.Outcome == queue.OutcomeWaiting {
		c.State = StateQueued
		c.Push(waitingEvent())
		return
	}

	c.State = StatePaired
	c.Push(matchedEvent(result.Room.ID, result.Peer, result.Initiator))
	d.publishTo(ctx, result.Peer, matchedEvent(result.Room.ID, c.SessionID, false))
}

func (d *Dispatcher) handleLeave(ctx context.Context, c *Connection, raw json.RawMessage) {
	var payload leavePayload
	_ = json.Unmarshal(raw, &payload)

	session, err := d.identity.Resolve(ctx, c.SessionID)
	if err != nil {
		return
	}
	if session.ConnectionID != c.ConnectionID {
		// Stale-socket rule: a connection superseded on another
		// instance cannot tear down the room its replacement holds.
		return
	}

	roomID := payload.RoomID
	if roomID == "" {
		roomID = session.RoomID
	}

	counterparty, err := d.teardownRoom(ctx, roomID, c.SessionID)
	if err != nil {
		d.pushAppError(c, err)
		return
	}
	if counterparty != "" {
		d.publishTo(ctx, counterparty, peerLeftEvent())
		d.rematch(ctx, counterparty)
	}

	if err := d.queue.Withdraw(ctx, c.SessionID); err != nil {
		log.Warn().Err(err).Str("sessionId", c.SessionID).Msg("failed to withdraw on leave")
	}

	c.State = StateIdle
}

func (d *Dispatcher) handleSignal(ctx context.Context, c *Connection, raw json.RawMessage) {
	var payload signalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.Push(errorEvent("malformed signal payload"))
		return
	}

	envelope := model.SignalEnvelope{
		Type:            payload.Signal.Type,
		Payload:         payload.Signal.Payload,
		SourceSessionID: c.SessionID,
		TargetSessionID: payload.TargetID,
		RoomID:          payload.RoomID,
	}

	if err := d.relay.Deliver(ctx, envelope); err != nil {
		// Per the error handling design, a signal to a destroyed or
		// unauthorized room is dropped silently; the client learns via
		// peer-left/peer-skipped rather than an explicit error.
		if apperrors.GetCode(err) == apperrors.ErrCodeNotAuthorized || apperrors.GetCode(err) == apperrors.ErrCodeNotFound {
			audit.Log(ctx, audit.Event{
				Type:      audit.EventSignalRejected,
				SessionID: c.SessionID,
				RoomID:    payload.RoomID,
				Details:   map[string]interface{}{"reason": string(apperrors.GetCode(err))},
			})
			return
		}
		d.pushAppError(c, err)
	}
}

func (d *Dispatcher) handleGetStats(ctx context.Context, c *Connection) {
	snapshot, err := d.statsAggr.Snapshot(ctx)
	if err != nil {
		d.pushAppError(c, err)
		return
	}
	c.Push(statsEvent(snapshot))
}

// isStaleConnection reports whether c has been superseded by a
// reconnect on another instance: the session's authoritative
// connection_id no longer matches c's. HandleDetach already performs
// this check for transport-close detach; handleLeave and handleNext
// need the same guard since they can tear down a room without the
// socket ever closing.
func (d *Dispatcher) isStaleConnection(ctx context.Context, c *Connection) bool {
	session, err := d.identity.Resolve(ctx, c.SessionID)
	if err != nil {
		return true
	}
	return session.ConnectionID != c.ConnectionID
}

// teardownRoom destroys roomID after confirming sessionID is one of
// its participants, honoring the stale-socket/authorize pattern even
// for the destroying side. It returns the counterparty's session ID,
// or "" if the room was already gone.
func (d *Dispatcher) teardownRoom(ctx context.Context, roomID, sessionID string) (string, error) {
	if roomID == "" {
		return "", nil
	}

	counterparty, err := d.rooms.Authorize(ctx, roomID, sessionID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeNotFound || apperrors.GetCode(err) == apperrors.ErrCodeNotAuthorized {
			return "", nil
		}
		return "", err
	}

	if err := d.rooms.Destroy(ctx, roomID); err != nil {
		return "", err
	}
	return counterparty, nil
}

// rematch attempts to immediately re-pair an abandoned counterparty
// using its last declared intent and medium; on exhaustion it falls
// back to re-appending the counterparty to its own queue, matching
// Enqueue's normal waiting path.
func (d *Dispatcher) rematch(ctx context.Context, sessionID string) {
	session, err := d.identity.Resolve(ctx, sessionID)
	if err != nil {
		return
	}

	result, err := d.queue.Enqueue(ctx, sessionID, session.Intent, session.Medium)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("rematch attempt failed")
		return
	}

	if result.Outcome == queue.OutcomeWaiting {
		d.publishTo(ctx, sessionID, waitingEvent())
		return
	}

	d.publishTo(ctx, sessionID, matchedEvent(result.Room.ID, result.Peer, result.Initiator))
	d.publishTo(ctx, result.Peer, matchedEvent(result.Room.ID, sessionID, false))
}

// publishTo delivers an event to sessionID regardless of which
// instance holds its connection: if it is local, push directly;
// otherwise publish on its user topic for the owning instance's Hub
// subscription to pick up.
func (d *Dispatcher) publishTo(ctx context.Context, sessionID string, event model.Event) {
	if conn, ok := d.hub.Get(sessionID); ok {
		conn.Push(event)
		return
	}

	raw, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for cross-instance delivery")
		return
	}
	if err := d.hub.store.Publish(ctx, store.UserTopic(sessionID), raw).Err(); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to publish event")
	}
}

// HandleDetach runs when a connection's socket closes, whether from a
// clean client-initiated close or a transport failure. It first removes
// the connection from the local Hub registry; if that registration had
// already been superseded on this instance the detach is a pure no-op.
// Otherwise it checks the session's authoritative connection_id in the
// store: a mismatch means the session reconnected to a different
// instance in the meantime, so this detach is stale and must not tear
// down the room the new connection is using (the cross-instance half of
// the stale-socket rule). Only a matching connectionID runs full leave
// semantics.
func (d *Dispatcher) HandleDetach(ctx context.Context, c *Connection) {
	if !d.hub.Unregister(c) {
		return
	}

	session, err := d.identity.Resolve(ctx, c.SessionID)
	if err != nil {
		return
	}

	if session.ConnectionID != c.ConnectionID {
		return
	}

	counterparty, err := d.teardownRoom(ctx, session.RoomID, c.SessionID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", c.SessionID).Msg("detach teardown failed")
	} else if counterparty != "" {
		d.publishTo(ctx, counterparty, peerLeftEvent())
		d.rematch(ctx, counterparty)
	}

	if err := d.queue.Withdraw(ctx, c.SessionID); err != nil {
		log.Warn().Err(err).Str("sessionId", c.SessionID).Msg("failed to withdraw on detach")
	}

	if err := d.identity.SetConnection(ctx, c.SessionID, ""); err != nil {
		log.Warn().Err(err).Str("sessionId", c.SessionID).Msg("failed to clear connection id on detach")
	}

	if err := d.hub.RecordDisconnect(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to record disconnect stat")
	}
}

// ForceLeave tears down sessionID's current room (if any) and withdraws
// it from its queue, used as the callback the Hub invokes once a
// session crosses the report auto-disconnect threshold. Unlike
// handleLeave it has no *Connection to act through directly; delivery
// to both sides goes through publishTo so it works whether or not this
// instance holds the target's socket.
func (d *Dispatcher) ForceLeave(ctx context.Context, sessionID string) {
	session, err := d.identity.Resolve(ctx, sessionID)
	if err != nil {
		return
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventForcedDisconnect,
		SessionID: sessionID,
		RoomID:    session.RoomID,
	})

	counterparty, err := d.teardownRoom(ctx, session.RoomID, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("force-leave teardown failed")
		return
	}
	if counterparty != "" {
		d.publishTo(ctx, counterparty, peerLeftEvent())
		d.rematch(ctx, counterparty)
	}

	if err := d.queue.Withdraw(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to withdraw during force-leave")
	}

	d.publishTo(ctx, sessionID, peerLeftEvent())
}

func (d *Dispatcher) pushAppError(c *Connection, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		c.Push(errorEvent("internal error"))
		return
	}
	c.Push(errorEvent(appErr.Message))
}
