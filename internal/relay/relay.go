// Package relay implements the Signaling Relay (component D). It is
// deliberately the thinnest component: it never interprets a signal
// envelope, only authorizes the two ends and fans it out over the
// Shared State Store's pub/sub so the instance holding the target's
// connection can forward it.
package relay

import (
	"context"
	"encoding/json"

	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/room"
	"github.com/minglr/match-relay/internal/store"
)

// Relay depends only on the Shared State Store and the Room Registry,
// mirroring the spec's framing of it as authorization plus delivery and
// nothing else.
type Relay struct {
	store *store.Store
	rooms *room.Registry
}

func New(s *store.Store, rooms *room.Registry) *Relay {
	return &Relay{store: s, rooms: rooms}
}

// Deliver validates the envelope's size, confirms both the source and
// target are participants of the named room, and publishes it on the
// target's user topic for whichever Connection Gateway instance holds
// that session's socket to pick up. Delivery is best-effort,
// at-most-once.
func (r *Relay) Deliver(ctx context.Context, envelope model.SignalEnvelope) error {
	if !envelope.Type.Valid() {
		return apperrors.InvalidArgument("invalid signal type")
	}
	if len(envelope.Payload) > model.MaxSignalPayloadBytes {
		return apperrors.PayloadTooLarge()
	}

	counterparty, err := r.rooms.Authorize(ctx, envelope.RoomID, envelope.SourceSessionID)
	if err != nil {
		return err
	}
	if counterparty != envelope.TargetSessionID {
		return apperrors.NotAuthorized("target is not the source's room counterparty")
	}

	event, err := model.NewEvent(model.EventSignal, deliveredSignal{
		Signal: signalWire{
			Type:    envelope.Type,
			Payload: envelope.Payload,
		},
		FromID: envelope.SourceSessionID,
		RoomID: envelope.RoomID,
	})
	if err != nil {
		return apperrors.Fatal("marshal signal envelope", err)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return apperrors.Fatal("marshal event envelope", err)
	}

	if err := r.store.Publish(ctx, store.UserTopic(envelope.TargetSessionID), raw).Err(); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// deliveredSignal is the data payload of an EventSignal, matching the
// wire contract's signal{signal, fromId} shape. Unlike SignalEnvelope
// (shaped for the inbound client request, where source/room are filled
// in server-side and never trusted from the client), the receiving
// Connection Gateway instance needs the source and room to construct
// the outbound event.
type deliveredSignal struct {
	Signal signalWire `json:"signal"`
	FromID string     `json:"fromId"`
	RoomID string     `json:"roomId"`
}

type signalWire struct {
	Type    model.SignalType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}
