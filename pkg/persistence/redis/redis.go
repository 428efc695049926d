// Package redis provides Redis-backed persistence for collaboration records,
// letting session state and the operation audit trail be shared across
// gateway instances.
package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/KlikkAI/reporunner-collab/pkg/persistence"
)

const connectTimeout = 5 * time.Second

// Persistence implements the persistence.Persistence interface on Redis.
type Persistence struct {
	client        redis.UniversalClient
	sessionRepo   *SessionRepository
	operationRepo *OperationRepository
}

// NewPersistence connects to Redis using a redis:// URL and verifies the
// connection before returning.
func NewPersistence(ctx context.Context, redisURL string) (persistence.Persistence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Persistence{
		client:        client,
		sessionRepo:   NewSessionRepository(client),
		operationRepo: NewOperationRepository(client),
	}, nil
}

func (rp *Persistence) Close(_ context.Context) error {
	return rp.client.Close()
}

func (rp *Persistence) HealthCheck(ctx context.Context) error {
	return rp.client.Ping(ctx).Err()
}

func (rp *Persistence) SessionRepository() persistence.SessionRepository {
	return rp.sessionRepo
}

func (rp *Persistence) OperationRepository() persistence.OperationRepository {
	return rp.operationRepo
}

func sessionKey(id string) string {
	return "collab:session:" + id
}

func activeSessionKey(workflowID string) string {
	return "collab:workflow:" + workflowID + ":active"
}

func workflowSessionsKey(workflowID string) string {
	return "collab:workflow:" + workflowID + ":sessions"
}

func operationKey(id string) string {
	return "collab:operation:" + id
}

func sessionOperationsKey(sessionID string) string {
	return "collab:session:" + sessionID + ":operations"
}

func workflowOperationsKey(workflowID string) string {
	return "collab:workflow:" + workflowID + ":operations"
}
