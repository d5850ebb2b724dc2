// Package queue implements the Queue Engine (component B): a FIFO
// waiting set per (intent, medium) with atomic pairing across
// horizontally scaled instances. Pairing itself has no single atomic
// primitive in the Shared State Store, so correctness rests on LPOP
// being the atomic claim: whichever instance pops a given session ID
// off a queue is its sole owner for that pairing attempt.
package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/room"
	"github.com/minglr/match-relay/internal/store"
)

// Outcome is the result of an enqueue attempt.
type Outcome string

const (
	OutcomeMatched Outcome = "matched"
	OutcomeWaiting Outcome = "waiting"
)

// Result carries the enqueue/pair outcome back to the Connection
// Gateway.
type Result struct {
	Outcome   Outcome
	Room      model.Room
	Peer      string
	Initiator bool
}

// Engine mediates the waiting queues. It depends on the Room Registry
// to mint the room once a candidate is admitted, so the queue pop and
// the room creation are performed by the same component that owns the
// claimed identifiers end to end.
type Engine struct {
	store          *store.Store
	rooms          *room.Registry
	livenessWindow time.Duration
	scanLimit      int
}

func New(s *store.Store, rooms *room.Registry, livenessWindow time.Duration, scanLimit int) *Engine {
	return &Engine{store: s, rooms: rooms, livenessWindow: livenessWindow, scanLimit: scanLimit}
}

// Enqueue first attempts to pair sessionID against the complementary
// queue; on success it returns Matched. Otherwise it appends sessionID
// to its own (intent, medium) queue and returns Waiting. Callers must
// have already withdrawn the session from any queue it was previously
// in.
func (e *Engine) Enqueue(ctx context.Context, sessionID string, intent model.Intent, medium model.Medium) (Result, error) {
	result, err := e.pair(ctx, sessionID, intent, medium)
	if err != nil {
		return Result{}, err
	}
	if result.Outcome == OutcomeMatched {
		return result, nil
	}

	key := store.QueueKey(string(intent), string(medium))
	if err := e.store.RPush(ctx, key, sessionID).Err(); err != nil {
		return Result{}, apperrors.StoreUnavailable(err)
	}

	return Result{Outcome: OutcomeWaiting}, nil
}

// pair scans the target queue (determined by the pairing rule) from
// the front, discarding stale candidates, until it finds an admissible
// peer or exhausts the bounded scan.
func (e *Engine) pair(ctx context.Context, sessionID string, intent model.Intent, medium model.Medium) (Result, error) {
	targetKey := store.QueueKey(string(intent.TargetIntent()), string(medium))

	for i := 0; i < e.scanLimit; i++ {
		candidateID, err := e.store.LPop(ctx, targetKey).Result()
		if err == redis.Nil {
			return Result{Outcome: OutcomeWaiting}, nil
		}
		if err != nil {
			return Result{}, apperrors.StoreUnavailable(err)
		}

		if candidateID == sessionID {
			// Can happen when intent == TargetIntent (self-pairing
			// queues) and the caller was re-enqueued by a racing
			// instance; skip rather than pair with itself.
			continue
		}

		admissible, err := e.admissible(ctx, candidateID)
		if err != nil {
			return Result{}, err
		}
		if !admissible {
			continue
		}

		// The caller is passed first so Mint records it as the room's
		// initiator, matching Initiator: true in the result below.
		rm, err := e.rooms.Mint(ctx, sessionID, candidateID, intent, medium)
		if err != nil {
			if apperrors.GetCode(err) == apperrors.ErrCodeConflict {
				// Mint reports Conflict when either participant already
				// holds a room, e.g. candidateID was paired by another
				// instance between the LPop claim and this Mint. In
				// every case candidateID is discarded (it is not pushed
				// back) and the scan continues rather than failing the
				// caller's own enqueue attempt.
				continue
			}
			return Result{}, err
		}

		return Result{
			Outcome:   OutcomeMatched,
			Room:      rm,
			Peer:      candidateID,
			Initiator: true,
		}, nil
	}

	return Result{Outcome: OutcomeWaiting}, nil
}

// admissible reports whether a popped candidate is still a valid match
// target: its session record exists, it was seen within the liveness
// window, and it does not already hold a room.
func (e *Engine) admissible(ctx context.Context, candidateID string) (bool, error) {
	fields, err := e.store.HGetAll(ctx, store.SessionKey(candidateID)).Result()
	if err != nil {
		return false, apperrors.StoreUnavailable(err)
	}

	session, ok := model.SessionFromFields(candidateID, fields)
	if !ok {
		return false, nil
	}

	if session.RoomID != "" {
		return false, nil
	}

	if time.Since(session.LastSeenAt) > e.livenessWindow {
		return false, nil
	}

	return true, nil
}

// Withdraw removes sessionID from every (intent, medium) queue it may
// be sitting in. A session can only ever be enqueued in one queue at a
// time, but Withdraw sweeps all of them so a caller that lost track of
// the session's declared intent/medium can still clean up safely.
// Idempotent.
func (e *Engine) Withdraw(ctx context.Context, sessionID string) error {
	for _, intent := range model.AllIntents {
		for _, medium := range model.AllMedia {
			key := store.QueueKey(string(intent), string(medium))
			if err := e.store.LRem(ctx, key, 0, sessionID).Err(); err != nil {
				return apperrors.StoreUnavailable(err)
			}
		}
	}
	return nil
}
