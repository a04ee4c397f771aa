package services

import (
	"context"

	"channel-service/internal/models"
	"channel-service/internal/observability"
)

// Broadcaster fans an event out to the members of a room.
type Broadcaster interface {
	Publish(room models.RoomID, event string, payload any)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(models.RoomID, string, any) {}

func orNop(b Broadcaster) Broadcaster {
	if b == nil {
		return nopBroadcaster{}
	}
	return b
}

// emitDomainEvent forwards a state change to the AMQP event stream. Failures are
// counted by observability and never fail the operation.
func emitDomainEvent(ctx context.Context, name string, payload any) {
	_ = observability.PublishEvent(ctx, "channel_events."+name, observability.EventEnvelope{
		EventType: "channel_events",
		EventName: name,
		Payload:   payload,
	}, observability.HeadersFromContext(ctx))
}
