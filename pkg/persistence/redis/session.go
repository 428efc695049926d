package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	redis "github.com/redis/go-redis/v9"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

// SessionRepository stores session records as JSON values with an active
// pointer per workflow.
type SessionRepository struct {
	client redis.UniversalClient
}

func NewSessionRepository(client redis.UniversalClient) *SessionRepository {
	return &SessionRepository{client: client}
}

func (sr *SessionRepository) Save(ctx context.Context, session *models.CollaborationSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}

	pipe := sr.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, 0)
	pipe.SAdd(ctx, workflowSessionsKey(session.WorkflowID), session.ID)

	if session.IsActive {
		pipe.Set(ctx, activeSessionKey(session.WorkflowID), session.ID, 0)
	} else {
		// Clear the active pointer only if it still points at this session.
		current, err := sr.client.Get(ctx, activeSessionKey(session.WorkflowID)).Result()
		if err == nil && current == session.ID {
			pipe.Del(ctx, activeSessionKey(session.WorkflowID))
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}

	return nil
}

func (sr *SessionRepository) GetByID(ctx context.Context, id string) (*models.CollaborationSession, error) {
	data, err := sr.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	var session models.CollaborationSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}

	return &session, nil
}

func (sr *SessionRepository) GetActiveByWorkflow(ctx context.Context, workflowID string) (*models.CollaborationSession, error) {
	id, err := sr.client.Get(ctx, activeSessionKey(workflowID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to resolve active session for workflow %s: %w", workflowID, err)
	}

	session, err := sr.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if session == nil || !session.IsActive {
		return nil, nil
	}

	return session, nil
}

func (sr *SessionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.CollaborationSession, error) {
	ids, err := sr.client.SMembers(ctx, workflowSessionsKey(workflowID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for workflow %s: %w", workflowID, err)
	}

	sessions := make([]*models.CollaborationSession, 0, len(ids))

	for _, id := range ids {
		session, err := sr.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if session != nil {
			sessions = append(sessions, session)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	return sessions, nil
}
