package model

import (
	"strconv"
	"strings"
	"time"
)

const (
	RoomFieldParticipants = "participants"
	RoomFieldInitiatorID  = "initiator_id"
	RoomFieldIntent       = "intent"
	RoomFieldMedium       = "medium"
	RoomFieldCreatedAt    = "created_at"
)

// Room is the two-participant rendezvous minted at pairing time.
type Room struct {
	ID           string
	Participants [2]string
	InitiatorID  string
	Intent       Intent
	Medium       Medium
	CreatedAt    time.Time
}

// Counterparty returns the other participant relative to sessionID, and
// false if sessionID is not one of the room's two participants.
func (r Room) Counterparty(sessionID string) (string, bool) {
	switch sessionID {
	case r.Participants[0]:
		return r.Participants[1], true
	case r.Participants[1]:
		return r.Participants[0], true
	default:
		return "", false
	}
}

func (r Room) ToFields() map[string]string {
	return map[string]string{
		RoomFieldParticipants: r.Participants[0] + "," + r.Participants[1],
		RoomFieldInitiatorID:  r.InitiatorID,
		RoomFieldIntent:       string(r.Intent),
		RoomFieldMedium:       string(r.Medium),
		RoomFieldCreatedAt:    strconv.FormatInt(r.CreatedAt.UnixMilli(), 10),
	}
}

func RoomFromFields(id string, fields map[string]string) (Room, bool) {
	if len(fields) == 0 {
		return Room{}, false
	}

	parts := strings.SplitN(fields[RoomFieldParticipants], ",", 2)
	var participants [2]string
	if len(parts) == 2 {
		participants = [2]string{parts[0], parts[1]}
	}

	createdMs, _ := strconv.ParseInt(fields[RoomFieldCreatedAt], 10, 64)

	return Room{
		ID:           id,
		Participants: participants,
		InitiatorID:  fields[RoomFieldInitiatorID],
		Intent:       Intent(fields[RoomFieldIntent]),
		Medium:       Medium(fields[RoomFieldMedium]),
		CreatedAt:    time.UnixMilli(createdMs),
	}, true
}
