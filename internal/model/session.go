package model

import (
	"strconv"
	"time"
)

// Session field names inside the session:<id> hash.
const (
	SessionFieldCreatedAt    = "created_at"
	SessionFieldLastSeenAt   = "last_seen_at"
	SessionFieldReportCount  = "report_count"
	SessionFieldConnectionID = "connection_id"
	SessionFieldRoomID       = "room_id"
	SessionFieldIntent       = "intent"
	SessionFieldMedium       = "medium"
)

// Session is the anonymous, short-lived identity tracked by the Session
// Authority. It is stored as a Redis hash, not marshaled as one JSON blob,
// so individual fields (last_seen_at, report_count, connection_id,
// room_id) can be updated atomically without a read-modify-write race.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastSeenAt   time.Time
	ReportCount  int64
	ConnectionID string
	RoomID       string
	Intent       Intent
	Medium       Medium
}

// ToFields renders a full session record for HSet at creation time.
func (s Session) ToFields() map[string]string {
	return map[string]string{
		SessionFieldCreatedAt:    formatTime(s.CreatedAt),
		SessionFieldLastSeenAt:   formatTime(s.LastSeenAt),
		SessionFieldReportCount:  strconv.FormatInt(s.ReportCount, 10),
		SessionFieldConnectionID: s.ConnectionID,
		SessionFieldRoomID:       s.RoomID,
		SessionFieldIntent:       string(s.Intent),
		SessionFieldMedium:       string(s.Medium),
	}
}

// SessionFromFields reconstructs a Session from an HGetAll result. It
// returns ok=false if fields is empty (the hash does not exist, i.e. the
// session is unknown or has expired).
func SessionFromFields(id string, fields map[string]string) (Session, bool) {
	if len(fields) == 0 {
		return Session{}, false
	}

	reportCount, _ := strconv.ParseInt(fields[SessionFieldReportCount], 10, 64)

	return Session{
		ID:           id,
		CreatedAt:    parseTime(fields[SessionFieldCreatedAt]),
		LastSeenAt:   parseTime(fields[SessionFieldLastSeenAt]),
		ReportCount:  reportCount,
		ConnectionID: fields[SessionFieldConnectionID],
		RoomID:       fields[SessionFieldRoomID],
		Intent:       Intent(fields[SessionFieldIntent]),
		Medium:       Medium(fields[SessionFieldMedium]),
	}, true
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
