package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KlikkAI/reporunner-collab/pkg/channels/gochannel"
	"github.com/KlikkAI/reporunner-collab/pkg/eventbus"
	"github.com/KlikkAI/reporunner-collab/pkg/events"
	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

type delivery struct {
	room   string
	origin string
	event  any
}

func setupBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_RoundTrip(t *testing.T) {
	t.Parallel()

	bus := setupBus(t)
	ctx := context.Background()

	received := make(chan delivery, 1)

	err := bus.Handle(events.CursorMovedEvent, func(_ context.Context, room, origin string, event any) error {
		received <- delivery{room: room, origin: origin, event: event}

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	sent := events.CursorMoved{
		BaseEvent: events.NewBaseEvent(events.CursorMovedEvent, "wf-1"),
		UserID:    "alice",
		Cursor:    &models.Cursor{X: 10, Y: 20},
		Color:     "#FF6B6B",
	}

	require.NoError(t, bus.Publish(ctx, "wf-1", "conn-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, "wf-1", got.room)
		assert.Equal(t, "conn-1", got.origin)

		decoded, ok := got.event.(*events.CursorMoved)
		require.True(t, ok)
		assert.Equal(t, "alice", decoded.UserID)
		require.NotNil(t, decoded.Cursor)
		assert.Equal(t, 10.0, decoded.Cursor.X)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreSkipped(t *testing.T) {
	t.Parallel()

	bus := setupBus(t)
	ctx := context.Background()

	received := make(chan delivery, 2)

	err := bus.Handle(events.UserJoinedEvent, func(_ context.Context, room, origin string, event any) error {
		received <- delivery{room: room, origin: origin, event: event}

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for user_leave; it must be acked and skipped.
	require.NoError(t, bus.Publish(ctx, "wf-1", "", events.UserLeft{
		BaseEvent: events.NewBaseEvent(events.UserLeftEvent, "wf-1"),
		UserID:    "alice",
	}))

	require.NoError(t, bus.Publish(ctx, "wf-1", "", events.UserJoined{
		BaseEvent: events.NewBaseEvent(events.UserJoinedEvent, "wf-1"),
		UserID:    "bob",
	}))

	select {
	case got := <-received:
		joined, ok := got.event.(*events.UserJoined)
		require.True(t, ok)
		assert.Equal(t, "bob", joined.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}

	assert.Empty(t, received)
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	t.Parallel()

	bus := setupBus(t)

	a := bus.GenerateID()
	b := bus.GenerateID()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
