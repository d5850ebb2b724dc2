package gateway

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minglr/match-relay/internal/config"
	"github.com/minglr/match-relay/internal/identity"
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/queue"
	"github.com/minglr/match-relay/internal/relay"
	"github.com/minglr/match-relay/internal/room"
	"github.com/minglr/match-relay/internal/safety"
	"github.com/minglr/match-relay/internal/stats"
	"github.com/minglr/match-relay/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}

	s, err := store.New(url)
	if err != nil {
		t.Skipf("redis unavailable, skipping: %v", err)
	}
	t.Cleanup(func() {
		s.FlushDB(context.Background())
		s.Close()
	})
	return s
}

func testDispatcher(t *testing.T, s *store.Store) (*Dispatcher, *Hub, *identity.Authority) {
	t.Helper()

	auth := identity.New(s, "test-signing-secret-value", time.Hour, time.Hour)
	rooms := room.New(s, time.Hour)
	q := queue.New(s, rooms, 30*time.Second, 50)
	r := relay.New(s, rooms)
	limiter := safety.NewRateLimiter(s)
	reports := safety.NewReportService(s, auth, 24*time.Hour, 3)
	statsAggr := stats.New(s)

	hub := NewHub(s, auth, statsAggr)
	dispatcher := NewDispatcher(hub, auth, q, rooms, r, limiter, reports, statsAggr)
	hub.SetAutoDisconnectHandler(config.AutoDisconnectWarningDelay, dispatcher.ForceLeave)

	return dispatcher, hub, auth
}

func authenticatedConnection(t *testing.T, d *Dispatcher, auth *identity.Authority, intent model.Intent, medium model.Medium) *Connection {
	t.Helper()

	_, token, err := auth.Issue(context.Background(), intent, medium)
	require.NoError(t, err)

	c := newConnection(nil, d.hub, config.ConnectionHeartbeatInterval, config.ConnectionIdleTimeout)

	authMsg, err := json.Marshal(authPayload{Token: string(token)})
	require.NoError(t, err)
	d.Handle(c, inboundMessage{Type: "auth", Payload: authMsg})

	require.Equal(t, StateIdle, c.State)
	require.NotEmpty(t, c.SessionID)
	return c
}

func drainEvent(t *testing.T, c *Connection) model.Event {
	t.Helper()
	select {
	case event := <-c.send:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound event")
		return model.Event{}
	}
}

func TestDispatch_JoinQueue_WaitingThenMatched(t *testing.T) {
	s := testStore(t)
	d, _, auth := testDispatcher(t, s)

	alice := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)
	joinMsg, _ := json.Marshal(joinQueuePayload{Mode: "casual", ConnectionType: "video"})
	d.Handle(alice, inboundMessage{Type: "join-queue", Payload: joinMsg})

	waiting := drainEvent(t, alice)
	assert.Equal(t, model.EventWaiting, waiting.Type)
	assert.Equal(t, StateQueued, alice.State)

	bob := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)
	d.Handle(bob, inboundMessage{Type: "join-queue", Payload: joinMsg})

	matched := drainEvent(t, bob)
	assert.Equal(t, model.EventMatched, matched.Type)
	assert.Equal(t, StatePaired, bob.State)

	// Both sessions are attached to the same Hub in this test, so
	// Alice's matched notification is delivered by a direct local Push
	// rather than a pub/sub round trip.
	aliceMatched := drainEvent(t, alice)
	assert.Equal(t, model.EventMatched, aliceMatched.Type)
}

func TestDispatch_HireFreelanceCrossPair(t *testing.T) {
	s := testStore(t)
	d, _, auth := testDispatcher(t, s)

	recruiter := authenticatedConnection(t, d, auth, model.IntentHire, model.MediumVideo)
	hireMsg, _ := json.Marshal(joinQueuePayload{Mode: "hire", ConnectionType: "video"})
	d.Handle(recruiter, inboundMessage{Type: "join-queue", Payload: hireMsg})
	drainEvent(t, recruiter)

	contractor := authenticatedConnection(t, d, auth, model.IntentFreelance, model.MediumVideo)
	freelanceMsg, _ := json.Marshal(joinQueuePayload{Mode: "freelance", ConnectionType: "video"})
	d.Handle(contractor, inboundMessage{Type: "join-queue", Payload: freelanceMsg})

	matched := drainEvent(t, contractor)
	require.Equal(t, model.EventMatched, matched.Type)

	var payload matchedPayload
	require.NoError(t, json.Unmarshal(matched.Data, &payload))
	assert.Equal(t, recruiter.SessionID, payload.PeerID)
}

func TestDispatch_RejectsCommandsBeforeAuth(t *testing.T) {
	s := testStore(t)
	d, hub, _ := testDispatcher(t, s)

	c := newConnection(nil, hub, config.ConnectionHeartbeatInterval, config.ConnectionIdleTimeout)
	joinMsg, _ := json.Marshal(joinQueuePayload{Mode: "casual", ConnectionType: "video"})
	d.Handle(c, inboundMessage{Type: "join-queue", Payload: joinMsg})

	event := drainEvent(t, c)
	assert.Equal(t, model.EventAuthError, event.Type)
}

func TestDispatch_Handle_TouchesSessionOnEveryCommand(t *testing.T) {
	s := testStore(t)
	d, _, auth := testDispatcher(t, s)

	alice := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)

	before, err := auth.Resolve(context.Background(), alice.SessionID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	joinMsg, _ := json.Marshal(joinQueuePayload{Mode: "casual", ConnectionType: "video"})
	d.Handle(alice, inboundMessage{Type: "join-queue", Payload: joinMsg})
	drainEvent(t, alice)

	after, err := auth.Resolve(context.Background(), alice.SessionID)
	require.NoError(t, err)
	assert.True(t, after.LastSeenAt.After(before.LastSeenAt))
}

func TestDispatch_JoinQueue_RejectsWhenAlreadyPaired(t *testing.T) {
	s := testStore(t)
	d, _, auth := testDispatcher(t, s)

	alice := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)
	bob := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)

	joinMsg, _ := json.Marshal(joinQueuePayload{Mode: "casual", ConnectionType: "video"})
	d.Handle(alice, inboundMessage{Type: "join-queue", Payload: joinMsg})
	drainEvent(t, alice)
	d.Handle(bob, inboundMessage{Type: "join-queue", Payload: joinMsg})
	drainEvent(t, bob)
	drainEvent(t, alice)
	require.Equal(t, StatePaired, bob.State)

	d.Handle(bob, inboundMessage{Type: "join-queue", Payload: joinMsg})

	event := drainEvent(t, bob)
	assert.Equal(t, model.EventError, event.Type)
}

func TestDispatch_Leave_IgnoresStaleConnection(t *testing.T) {
	s := testStore(t)
	d, hub, auth := testDispatcher(t, s)

	alice := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)
	bob := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)

	joinMsg, _ := json.Marshal(joinQueuePayload{Mode: "casual", ConnectionType: "video"})
	d.Handle(alice, inboundMessage{Type: "join-queue", Payload: joinMsg})
	drainEvent(t, alice)
	d.Handle(bob, inboundMessage{Type: "join-queue", Payload: joinMsg})
	matched := drainEvent(t, bob)
	drainEvent(t, alice)

	var payload matchedPayload
	require.NoError(t, json.Unmarshal(matched.Data, &payload))

	// Simulate alice reconnecting: a fresh Attach (here on the same Hub)
	// overwrites the authoritative connection_id, while the original,
	// now-superseded Connection object keeps its old ConnectionID.
	replacement := newConnection(nil, hub, config.ConnectionHeartbeatInterval, config.ConnectionIdleTimeout)
	require.NoError(t, hub.Attach(context.Background(), replacement, alice.SessionID, model.IntentCasual))

	leaveMsg, _ := json.Marshal(leavePayload{RoomID: payload.RoomID})
	d.Handle(alice, inboundMessage{Type: "leave", Payload: leaveMsg})

	select {
	case event := <-bob.send:
		t.Fatalf("unexpected event delivered to counterparty: %v", event.Type)
	case <-time.After(100 * time.Millisecond):
	}

	rm, err := d.rooms.Lookup(context.Background(), payload.RoomID)
	require.NoError(t, err)
	assert.NotEmpty(t, rm.ID)
}

func TestDispatch_Next_IgnoresStaleConnection(t *testing.T) {
	s := testStore(t)
	d, hub, auth := testDispatcher(t, s)

	alice := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)
	bob := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)

	joinMsg, _ := json.Marshal(joinQueuePayload{Mode: "casual", ConnectionType: "video"})
	d.Handle(alice, inboundMessage{Type: "join-queue", Payload: joinMsg})
	drainEvent(t, alice)
	d.Handle(bob, inboundMessage{Type: "join-queue", Payload: joinMsg})
	matched := drainEvent(t, bob)
	drainEvent(t, alice)

	var payload matchedPayload
	require.NoError(t, json.Unmarshal(matched.Data, &payload))

	replacement := newConnection(nil, hub, config.ConnectionHeartbeatInterval, config.ConnectionIdleTimeout)
	require.NoError(t, hub.Attach(context.Background(), replacement, alice.SessionID, model.IntentCasual))

	nextMsg, _ := json.Marshal(nextPayload{RoomID: payload.RoomID, Mode: "casual", ConnectionType: "video"})
	d.Handle(alice, inboundMessage{Type: "next", Payload: nextMsg})

	select {
	case event := <-bob.send:
		t.Fatalf("unexpected event delivered to counterparty: %v", event.Type)
	case <-time.After(100 * time.Millisecond):
	}

	rm, err := d.rooms.Lookup(context.Background(), payload.RoomID)
	require.NoError(t, err)
	assert.NotEmpty(t, rm.ID)
}

func TestDispatch_Next_WhileQueued_DoesNotDuplicateQueueEntry(t *testing.T) {
	s := testStore(t)
	d, _, auth := testDispatcher(t, s)

	alice := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)

	joinMsg, _ := json.Marshal(joinQueuePayload{Mode: "casual", ConnectionType: "video"})
	d.Handle(alice, inboundMessage{Type: "join-queue", Payload: joinMsg})
	drainEvent(t, alice)
	require.Equal(t, StateQueued, alice.State)

	// An empty/non-matching roomId makes teardownRoom a no-op, so
	// without a defensive Withdraw the re-Enqueue below would append a
	// second entry for alice alongside the one join-queue already made.
	nextMsg, _ := json.Marshal(nextPayload{Mode: "casual", ConnectionType: "video"})
	d.Handle(alice, inboundMessage{Type: "next", Payload: nextMsg})
	drainEvent(t, alice)

	members, err := s.LRange(context.Background(), store.QueueKey("casual", "video"), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{alice.SessionID}, members)
}

func TestDispatch_Leave_NotifiesCounterparty(t *testing.T) {
	s := testStore(t)
	d, _, auth := testDispatcher(t, s)

	alice := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)
	bob := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)

	joinMsg, _ := json.Marshal(joinQueuePayload{Mode: "casual", ConnectionType: "video"})
	d.Handle(alice, inboundMessage{Type: "join-queue", Payload: joinMsg})
	drainEvent(t, alice)
	d.Handle(bob, inboundMessage{Type: "join-queue", Payload: joinMsg})
	matched := drainEvent(t, bob)
	drainEvent(t, alice) // alice's own matched event

	var payload matchedPayload
	require.NoError(t, json.Unmarshal(matched.Data, &payload))

	leaveMsg, _ := json.Marshal(leavePayload{RoomID: payload.RoomID})
	d.Handle(bob, inboundMessage{Type: "leave", Payload: leaveMsg})

	event := drainEvent(t, alice)
	assert.Equal(t, model.EventPeerLeft, event.Type)
}

func TestDispatch_Signal_RequiresAuthorizedRoom(t *testing.T) {
	s := testStore(t)
	d, _, auth := testDispatcher(t, s)

	alice := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)
	bob := authenticatedConnection(t, d, auth, model.IntentCasual, model.MediumVideo)

	joinMsg, _ := json.Marshal(joinQueuePayload{Mode: "casual", ConnectionType: "video"})
	d.Handle(alice, inboundMessage{Type: "join-queue", Payload: joinMsg})
	drainEvent(t, alice)
	d.Handle(bob, inboundMessage{Type: "join-queue", Payload: joinMsg})
	matched := drainEvent(t, bob)
	drainEvent(t, alice)

	var payload matchedPayload
	require.NoError(t, json.Unmarshal(matched.Data, &payload))

	signalMsg, _ := json.Marshal(signalPayload{
		RoomID:   payload.RoomID,
		TargetID: alice.SessionID,
		Signal:   signalWire{Type: model.SignalOffer, Payload: json.RawMessage(`{"sdp":"x"}`)},
	})
	d.Handle(bob, inboundMessage{Type: "signal", Payload: signalMsg})

	event := drainEvent(t, alice)
	assert.Equal(t, model.EventSignal, event.Type)
}
