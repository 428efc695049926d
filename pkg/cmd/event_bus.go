package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/KlikkAI/reporunner-collab/pkg/channels/gochannel"
	"github.com/KlikkAI/reporunner-collab/pkg/channels/kafka"
	"github.com/KlikkAI/reporunner-collab/pkg/eventbus"
)

// NewEventBus creates an event bus instance based on the provider. A single
// collab-server process can run on the in-memory channel; multi-instance
// deployments need Kafka so rooms spanning instances see every event.
func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "collab")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
