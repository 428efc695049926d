package testutil

import (
	"context"
	"sync"

	"github.com/KlikkAI/reporunner-collab/pkg/eventbus"
	"github.com/KlikkAI/reporunner-collab/pkg/events"
)

// RecordedEvent is one captured publication.
type RecordedEvent struct {
	Room   string
	Origin string
	Event  eventbus.Event
}

// EventRecorder is an EventPublisher that captures events for assertions.
type EventRecorder struct {
	mu       sync.Mutex
	recorded []RecordedEvent
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

func (r *EventRecorder) Publish(_ context.Context, room, origin string, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recorded = append(r.recorded, RecordedEvent{Room: room, Origin: origin, Event: event})

	return nil
}

// Events returns everything captured so far.
func (r *EventRecorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RecordedEvent, len(r.recorded))
	copy(out, r.recorded)

	return out
}

// ByType returns the captured events of one type, in publication order.
func (r *EventRecorder) ByType(eventType events.EventType) []RecordedEvent {
	var out []RecordedEvent

	for _, rec := range r.Events() {
		if rec.Event.GetType() == eventType {
			out = append(out, rec)
		}
	}

	return out
}
