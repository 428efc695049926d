// Package eventbus provides the pub/sub broadcaster that fans collaboration
// events out to workflow rooms.
package eventbus

import (
	"context"

	"github.com/KlikkAI/reporunner-collab/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes an event scoped to a workflow room. The origin
// connection ID travels as metadata so transports can exclude the sender on
// fan-out; it is empty for server-originated events.
type EventPublisher interface {
	Publish(ctx context.Context, room, origin string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler processes one decoded event together with its room scope and
// the connection that originated it.
type EventHandler func(ctx context.Context, room, origin string, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
