package observability

import (
	"context"
	"sync/atomic"
)

// Publisher sends JSON domain events to the message bus.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error
}

type publisherBox struct{ p Publisher }

var defaultPublisher atomic.Pointer[publisherBox]

func SetPublisher(publisher Publisher) {
	if publisher == nil {
		defaultPublisher.Store(nil)
		return
	}
	defaultPublisher.Store(&publisherBox{p: publisher})
}

func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	box := defaultPublisher.Load()
	if box == nil {
		return nil
	}

	err := box.p.PublishJSON(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
