// Package stats aggregates the two-tier counters exposed by GET
// /api/stats: approximate cluster-wide totals maintained as plain
// Redis INCR/DECR counters (no transaction, explicitly best-effort, per
// the gateway's "process-local counters are not a synchronization
// substrate" stance), and realtime-exact figures read straight off the
// Room Registry's own counter and the Queue Engine's queue lengths.
package stats

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/store"
)

// Snapshot is the full GET /api/stats response body.
type Snapshot struct {
	Online           int64            `json:"online"`
	TotalConnections int64            `json:"totalConnections"`
	TodayConnections int64            `json:"todayConnections"`
	ByMode           map[string]int64 `json:"byMode"`
	Realtime         Realtime         `json:"realtime"`
}

// Realtime holds the figures read live from the store rather than
// accumulated in a plain counter, because they are cheap to compute
// exactly (list lengths, the Lua-script-maintained room counter) and an
// "approximate" rendition would be strictly worse for no benefit.
type Realtime struct {
	ActiveRooms   int64            `json:"activeRooms"`
	WaitingByMode map[string]int64 `json:"waitingByMode"`
	TotalWaiting  int64            `json:"totalWaiting"`
}

// Aggregator computes Snapshot on demand; it holds no cached state of
// its own.
type Aggregator struct {
	store *store.Store
}

func New(s *store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// RecordConnect bumps the approximate online/total/today/byMode
// counters when a Connection Gateway instance attaches a session. It is
// called once per successful attach, including a reconnect of the same
// session, so "totalConnections" and "todayConnections" count
// connection events rather than distinct sessions.
func (a *Aggregator) RecordConnect(ctx context.Context, intent model.Intent) error {
	todayKey := store.StatsTodayConnectionsKey(todayUTC())

	pipe := a.store.TxPipeline()
	pipe.Incr(ctx, store.StatsOnlineKey())
	pipe.Incr(ctx, store.StatsTotalConnectionsKey())
	pipe.Incr(ctx, todayKey)
	pipe.Expire(ctx, todayKey, 48*time.Hour)
	pipe.Incr(ctx, store.StatsByModeKey(string(intent)))
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// RecordDisconnect decrements the online counter on detach. It never
// goes negative in practice because it is always paired with a prior
// RecordConnect on the same process lifetime, but a negative reading
// would just mean "approximate count drifted," not a crash.
func (a *Aggregator) RecordDisconnect(ctx context.Context) error {
	if err := a.store.Decr(ctx, store.StatsOnlineKey()).Err(); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// Snapshot reads every counter and assembles the response body. A
// counter that has never been written reads back as redis.Nil, which
// is treated as zero rather than an error: a fresh deployment with no
// traffic yet is not a store failure.
func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	pipe := a.store.Pipeline()

	online := pipe.Get(ctx, store.StatsOnlineKey())
	total := pipe.Get(ctx, store.StatsTotalConnectionsKey())
	today := pipe.Get(ctx, store.StatsTodayConnectionsKey(todayUTC()))
	activeRooms := pipe.Get(ctx, store.StatsActiveRoomsKey())

	byModeCmds := make(map[model.Intent]*redis.StringCmd, len(model.AllIntents))
	waitingCmds := make(map[string]*redis.IntCmd)
	for _, intent := range model.AllIntents {
		byModeCmds[intent] = pipe.Get(ctx, store.StatsByModeKey(string(intent)))
		for _, medium := range model.AllMedia {
			key := store.QueueKey(string(intent), string(medium))
			waitingCmds[key] = pipe.LLen(ctx, key)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Snapshot{}, apperrors.StoreUnavailable(err)
	}

	snapshot := Snapshot{
		Online:           int64OrZero(online),
		TotalConnections: int64OrZero(total),
		TodayConnections: int64OrZero(today),
		ByMode:           make(map[string]int64, len(model.AllIntents)),
		Realtime: Realtime{
			ActiveRooms:   int64OrZero(activeRooms),
			WaitingByMode: make(map[string]int64, len(model.AllIntents)),
		},
	}

	for intent, cmd := range byModeCmds {
		snapshot.ByMode[string(intent)] = int64OrZero(cmd)
	}

	for _, intent := range model.AllIntents {
		var waitingForIntent int64
		for _, medium := range model.AllMedia {
			key := store.QueueKey(string(intent), string(medium))
			waitingForIntent += waitingCmds[key].Val()
		}
		snapshot.Realtime.WaitingByMode[string(intent)] = waitingForIntent
		snapshot.Realtime.TotalWaiting += waitingForIntent
	}

	return snapshot, nil
}

func int64OrZero(cmd *redis.StringCmd) int64 {
	v, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return v
}

func todayUTC() string {
	return time.Now().UTC().Format("2006-01-02")
}
