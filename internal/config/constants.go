package config

import "time"

// Session Authority (component A)
const (
	SessionTTL   = 24 * time.Hour
	TokenTTL     = SessionTTL
	LivenessWindow = 30 * time.Second
)

// Queue Engine (component B)
const (
	QueuePairScanLimit = 50
)

// Room Registry (component C)
const (
	RoomTTL = 1 * time.Hour
)

// Signaling Relay (component D)
const (
	MaxSignalPayloadBytes = 16 * 1024
)

// Connection Gateway (component E)
const (
	ConnectionHeartbeatInterval = 25 * time.Second
	ConnectionIdleTimeout       = 60 * time.Second
	ShutdownDrainDeadline       = 10 * time.Second
)

// Safety Layer (component F)
const (
	SessionIssuanceRateLimit  = 10
	SessionIssuanceWindow     = time.Minute
	ReportRateLimit           = 5
	ReportWindow              = time.Hour
	SignalRateLimit           = 30
	SignalWindow              = time.Second
	DefaultCommandRateLimit   = 100
	DefaultCommandWindow      = time.Second
	ReportRetention           = 7 * 24 * time.Hour
	ReportCounterWindow       = 24 * time.Hour
	AutoDisconnectThreshold   = 3
	AutoDisconnectWarningDelay = 10 * time.Second
)

// HTTP server timeouts, mirrored from the teacher's constants.go.
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Default body size cap for plain JSON REST requests (not the 16KiB
// signal-envelope cap, which is enforced separately on the gateway).
const DefaultMaxBodySize = 1 << 16 // 64KiB
