package gateway

// State is the per-connection lifecycle stage named in the distilled
// spec's connection state machine. Dispatcher.Handle reads it to accept
// only the auth handshake from an unauthenticated connection, and
// handleJoinQueue reads it to reject join-queue unless the connection
// is idle or queued; the other commands do not check it.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateIdle            State = "idle"
	StateQueued          State = "queued"
	StatePaired          State = "paired"
	StateTearingDown     State = "tearing-down"
)
