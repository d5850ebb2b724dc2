package gateway

import (
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/stats"
)

type matchedPayload struct {
	RoomID      string `json:"roomId"`
	PeerID      string `json:"peerId"`
	IsInitiator bool   `json:"isInitiator"`
}

func matchedEvent(roomID, peerID string, isInitiator bool) model.Event {
	event, _ := model.NewEvent(model.EventMatched, matchedPayload{RoomID: roomID, PeerID: peerID, IsInitiator: isInitiator})
	return event
}

func waitingEvent() model.Event {
	event, _ := model.NewEvent(model.EventWaiting, map[string]string{})
	return event
}

func peerLeftEvent() model.Event {
	event, _ := model.NewEvent(model.EventPeerLeft, map[string]string{})
	return event
}

func peerSkippedEvent() model.Event {
	event, _ := model.NewEvent(model.EventPeerSkipped, map[string]string{})
	return event
}

func statsEvent(snapshot stats.Snapshot) model.Event {
	event, _ := model.NewEvent(model.EventStats, snapshot)
	return event
}

func authErrorEvent(message string) model.Event {
	event, _ := model.NewEvent(model.EventAuthError, map[string]string{"message": message})
	return event
}
