package relay

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/room"
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

func seedSession(t *testing.T, s *store.Store, id string) {
	t.Helper()
	session := model.Session{ID: id, CreatedAt: time.Now(), LastSeenAt: time.Now(), Intent: model.IntentCasual, Medium: model.MediumVideo}
	require.NoError(t, s.HSet(context.Background(), store.SessionKey(id), session.ToFields()).Err())
}

func TestRelay_Deliver(t *testing.T) {
	s := testStore(t)
	reg := room.New(s, time.Hour)
	r := New(s, reg)

	seedSession(t, s, "alice")
	seedSession(t, s, "bob")
	rm, err := reg.Mint(context.Background(), "alice", "bob", model.IntentCasual, model.MediumVideo)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := s.Subscribe(ctx, store.UserTopic("bob"))
	defer sub.Close()
	ready := sub.Channel()

	envelope := model.SignalEnvelope{
		Type:            model.SignalOffer,
		Payload:         json.RawMessage(`{"sdp":"v=0"}`),
		SourceSessionID: "alice",
		TargetSessionID: "bob",
		RoomID:          rm.ID,
	}
	require.NoError(t, r.Deliver(context.Background(), envelope))

	select {
	case msg := <-ready:
		assert.Contains(t, msg.Payload, "alice")
		assert.Contains(t, msg.Payload, rm.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pub/sub delivery")
	}
}

func TestRelay_Deliver_RejectsUnauthorizedTarget(t *testing.T) {
	s := testStore(t)
	reg := room.New(s, time.Hour)
	r := New(s, reg)

	seedSession(t, s, "alice")
	seedSession(t, s, "bob")
	seedSession(t, s, "mallory")
	rm, err := reg.Mint(context.Background(), "alice", "bob", model.IntentCasual, model.MediumVideo)
	require.NoError(t, err)

	envelope := model.SignalEnvelope{
		Type:            model.SignalOffer,
		Payload:         json.RawMessage(`{}`),
		SourceSessionID: "alice",
		TargetSessionID: "mallory",
		RoomID:          rm.ID,
	}
	err = r.Deliver(context.Background(), envelope)
	assert.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeNotAuthorized, appErr.Code)
}

func TestRelay_Deliver_RejectsOversizedPayload(t *testing.T) {
	s := testStore(t)
	reg := room.New(s, time.Hour)
	r := New(s, reg)

	seedSession(t, s, "alice")
	seedSession(t, s, "bob")
	rm, err := reg.Mint(context.Background(), "alice", "bob", model.IntentCasual, model.MediumVideo)
	require.NoError(t, err)

	oversized := make([]byte, model.MaxSignalPayloadBytes+1)
	envelope := model.SignalEnvelope{
		Type:            model.SignalICECandidate,
		Payload:         oversized,
		SourceSessionID: "alice",
		TargetSessionID: "bob",
		RoomID:          rm.ID,
	}
	err = r.Deliver(context.Background(), envelope)
	assert.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, appErr.Code)
}
