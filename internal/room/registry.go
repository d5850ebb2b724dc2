// Package room implements the Room Registry (component C): it mints
// and destroys the two-participant rooms a successful pairing produces,
// and is the sole writer of the reciprocal session->room pointers so
// those two hash fields never go out of sync with the room record
// itself.
package room

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/store"
)

// mintScript atomically creates the room hash, points both participants'
// session hashes at it, and bumps the realtime active-room counter. A
// plain multi-step HSet/HSet/HSet would leave a window where a crash
// between steps strands one session pointing at a room the other
// session never learns about.
// mintScript refuses to mint if either participant's session hash
// already names a room (the ConflictingSession guard): a participant
// still holding one must leave it before it can hold another, and
// without this check a stray second join-queue would silently
// overwrite one side's room_id, orphaning its old counterparty.
var mintScript = redis.NewScript(`
local roomKey = KEYS[1]
local session0Key = KEYS[2]
local session1Key = KEYS[3]
local activeRoomsKey = KEYS[4]

local roomID = ARGV[1]
local participant0 = ARGV[2]
local participant1 = ARGV[3]
local initiatorID = ARGV[4]
local intent = ARGV[5]
local medium = ARGV[6]
local createdAt = ARGV[7]
local roomTTL = tonumber(ARGV[8])

local existingRoom0 = redis.call('HGET', session0Key, 'room_id')
local existingRoom1 = redis.call('HGET', session1Key, 'room_id')
if (existingRoom0 and existingRoom0 ~= '') or (existingRoom1 and existingRoom1 ~= '') then
    return 0
end

redis.call('HSET', roomKey,
    'participants', participant0 .. ',' .. participant1,
    'initiator_id', initiatorID,
    'intent', intent,
    'medium', medium,
    'created_at', createdAt)
redis.call('EXPIRE', roomKey, roomTTL)

redis.call('HSET', session0Key, 'room_id', roomID)
redis.call('HSET', session1Key, 'room_id', roomID)

redis.call('INCR', activeRoomsKey)

return 1
`)

// destroyScript clears both sessions' room pointer and deletes the room
// hash in one round trip, and decrements the active-room counter only
// if the room actually still existed (so a duplicate Destroy call, e.g.
// from both participants leaving near-simultaneously, does not
// undercount).
var destroyScript = redis.NewScript(`
local roomKey = KEYS[1]
local session0Key = KEYS[2]
local session1Key = KEYS[3]
local activeRoomsKey = KEYS[4]

local existed = redis.call('EXISTS', roomKey)
if existed == 0 then
    return 0
end

redis.call('DEL', roomKey)
redis.call('HSET', session0Key, 'room_id', '')
redis.call('HSET', session1Key, 'room_id', '')
redis.call('DECR', activeRoomsKey)

return 1
`)

// Registry mints and destroys rooms against the Shared State Store.
type Registry struct {
	store   *store.Store
	roomTTL time.Duration
}

func New(s *store.Store, roomTTL time.Duration) *Registry {
	return &Registry{store: s, roomTTL: roomTTL}
}

func newRoomID() string {
	return fmt.Sprintf("room_%d_%s", time.Now().UnixMilli(), uuid.New().String())
}

// Mint creates a new room for the pair (a, b), recording a's session ID
// as the initiator (the Queue Engine passes the enqueuing caller, the
// session that popped the other off the queue). a and b
// must be distinct session IDs; callers (the Queue Engine) are
// responsible for that invariant.
func (r *Registry) Mint(ctx context.Context, a, b string, intent model.Intent, medium model.Medium) (model.Room, error) {
	roomID := newRoomID()

	now := time.Now()
	keys := []string{
		store.MatchKey(roomID),
		store.SessionKey(a),
		store.SessionKey(b),
		store.StatsActiveRoomsKey(),
	}
	args := []interface{}{
		roomID, a, b, a, string(intent), string(medium),
		fmt.Sprintf("%d", now.UnixMilli()),
		int64(r.roomTTL.Seconds()),
	}

	minted, err := mintScript.Run(ctx, r.store.Client, keys, args...).Int64()
	if err != nil {
		return model.Room{}, apperrors.StoreUnavailable(err)
	}
	if minted == 0 {
		return model.Room{}, apperrors.Conflict("participant already holds a room")
	}

	return model.Room{
		ID:           roomID,
		Participants: [2]string{a, b},
		InitiatorID:  a,
		Intent:       intent,
		Medium:       medium,
		CreatedAt:    now,
	}, nil
}

// Destroy removes a room and clears both participants' room pointers.
// It is idempotent: destroying an already-gone room is not an error.
func (r *Registry) Destroy(ctx context.Context, roomID string) error {
	rm, err := r.Lookup(ctx, roomID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeNotFound {
			return nil
		}
		return err
	}

	keys := []string{
		store.MatchKey(roomID),
		store.SessionKey(rm.Participants[0]),
		store.SessionKey(rm.Participants[1]),
		store.StatsActiveRoomsKey(),
	}

	if err := destroyScript.Run(ctx, r.store.Client, keys).Err(); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// Lookup loads a room's record, or NotFound if it has expired or never
// existed.
func (r *Registry) Lookup(ctx context.Context, roomID string) (model.Room, error) {
	fields, err := r.store.HGetAll(ctx, store.MatchKey(roomID)).Result()
	if err != nil {
		return model.Room{}, apperrors.StoreUnavailable(err)
	}

	rm, ok := model.RoomFromFields(roomID, fields)
	if !ok {
		return model.Room{}, apperrors.NotFound("room")
	}
	return rm, nil
}

// Authorize confirms sessionID is a participant of roomID and returns
// its counterparty's session ID. It is the single choke point the
// Signaling Relay and the gateway's room teardown (next, leave, detach,
// forced leave) call before acting on a claimed room membership.
func (r *Registry) Authorize(ctx context.Context, roomID, sessionID string) (string, error) {
	rm, err := r.Lookup(ctx, roomID)
	if err != nil {
		return "", err
	}

	counterparty, ok := rm.Counterparty(sessionID)
	if !ok {
		return "", apperrors.NotAuthorized("session is not a participant of this room")
	}
	return counterparty, nil
}
