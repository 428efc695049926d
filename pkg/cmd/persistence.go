package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/KlikkAI/reporunner-collab/pkg/persistence"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence/file"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "redis"}

// NewPersistence creates the persistence implementation matching the URL
// scheme. Unknown schemes fall back to file storage.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	provider := parsePersistenceProvider(databaseURL)

	logger.InfoContext(ctx, "Initializing persistence", "provider", provider)

	switch provider {
	case "redis":
		p, err := redis.NewPersistence(ctx, databaseURL)
		if err != nil {
			panic(err)
		}

		return p
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
