package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/KlikkAI/reporunner-collab/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, room, origin string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.RoomMetadataKey, room)
	msg.Metadata.Set(events.OriginMetadataKey, origin)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var event any

			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			switch eventType {
			case events.OperationAppliedEvent:
				event = &events.OperationApplied{}
			case events.OperationRejectedEvent:
				event = &events.OperationRejected{}
			case events.CursorMovedEvent:
				event = &events.CursorMoved{}
			case events.SelectionChangedEvent:
				event = &events.SelectionChanged{}
			case events.AreaChangedEvent:
				event = &events.AreaChanged{}
			case events.StatusChangedEvent:
				event = &events.StatusChanged{}
			case events.UserJoinedEvent:
				event = &events.UserJoined{}
			case events.UserLeftEvent:
				event = &events.UserLeft{}
			case events.SessionEndedEvent:
				event = &events.SessionEnded{}
			case events.SessionSettingsUpdatedEvent:
				event = &events.SessionSettingsUpdated{}
			default:
				msg.Nack()

				continue
			}

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				msg.Nack()

				continue
			}

			room := msg.Metadata.Get(events.RoomMetadataKey)
			origin := msg.Metadata.Get(events.OriginMetadataKey)

			err = handler(ctx, room, origin, event)
			if err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
