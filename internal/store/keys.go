package store

import "fmt"

// Key builders for the persisted state layout. Centralized here so every
// component addresses the same Redis keyspace the same way.

func SessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func QueueKey(intent, medium string) string {
	return fmt.Sprintf("queue:%s:%s", intent, medium)
}

func MatchKey(roomID string) string {
	return fmt.Sprintf("match:%s", roomID)
}

func RateLimitKey(identifier string) string {
	return fmt.Sprintf("ratelimit:%s", identifier)
}

func ReportsListKey() string {
	return "reports:list"
}

func ReportKey(reportID string) string {
	return fmt.Sprintf("report:%s", reportID)
}

func ReportedKey(sessionID string) string {
	return fmt.Sprintf("reported:%s", sessionID)
}

// UserTopic is the pub/sub channel every Connection Gateway instance
// subscribes to for each session it currently holds a connection for.
func UserTopic(sessionID string) string {
	return fmt.Sprintf("user:%s", sessionID)
}

// Approximate cluster-wide stats counters (component E/stats).
func StatsOnlineKey() string {
	return "stats:online"
}

func StatsTotalConnectionsKey() string {
	return "stats:total_connections"
}

func StatsTodayConnectionsKey(dateUTC string) string {
	return fmt.Sprintf("stats:today:%s", dateUTC)
}

func StatsByModeKey(intent string) string {
	return fmt.Sprintf("stats:by_mode:%s", intent)
}

// Realtime-exact active-room counter, maintained inside the mint/destroy
// Lua scripts so it never drifts from the Room Registry's own state.
func StatsActiveRoomsKey() string {
	return "stats:active_rooms"
}
