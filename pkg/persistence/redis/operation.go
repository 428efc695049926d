package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence"
)

// OperationRepository stores the operation audit trail as JSON values indexed
// by session and workflow.
type OperationRepository struct {
	client redis.UniversalClient
}

func NewOperationRepository(client redis.UniversalClient) *OperationRepository {
	return &OperationRepository{client: client}
}

func (or *OperationRepository) Save(ctx context.Context, op *models.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation %s: %w", op.ID, err)
	}

	pipe := or.client.TxPipeline()
	pipe.Set(ctx, operationKey(op.ID), data, 0)
	pipe.SAdd(ctx, sessionOperationsKey(op.SessionID), op.ID)
	pipe.SAdd(ctx, workflowOperationsKey(op.WorkflowID), op.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save operation %s: %w", op.ID, err)
	}

	return nil
}

func (or *OperationRepository) GetByID(ctx context.Context, id string) (*models.Operation, error) {
	data, err := or.client.Get(ctx, operationKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get operation %s: %w", id, err)
	}

	var op models.Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation %s: %w", id, err)
	}

	return &op, nil
}

func (or *OperationRepository) ListBySession(
	ctx context.Context,
	sessionID string,
	opts persistence.ListOperationsOptions,
) (*persistence.OperationListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}

	if opts.Page <= 0 {
		opts.Page = 1
	}

	all, err := or.loadSet(ctx, sessionOperationsKey(sessionID))
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Operation, 0, len(all))

	for _, op := range all {
		if opts.Status != nil && op.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, op)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Sequence < filtered[j].Sequence
	})

	totalCount := int64(len(filtered))
	start := (opts.Page - 1) * opts.Limit

	if start >= len(filtered) {
		filtered = []*models.Operation{}
	} else {
		end := start + opts.Limit
		if end > len(filtered) {
			end = len(filtered)
		}

		filtered = filtered[start:end]
	}

	return &persistence.OperationListResult{
		Operations: filtered,
		TotalCount: totalCount,
		Page:       opts.Page,
		Limit:      opts.Limit,
	}, nil
}

func (or *OperationRepository) ListByWorkflow(
	ctx context.Context,
	workflowID string,
	from, to time.Time,
) ([]*models.Operation, error) {
	all, err := or.loadSet(ctx, workflowOperationsKey(workflowID))
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Operation, 0, len(all))

	for _, op := range all {
		if !from.IsZero() && op.CreatedAt.Before(from) {
			continue
		}

		if !to.IsZero() && op.CreatedAt.After(to) {
			continue
		}

		filtered = append(filtered, op)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Sequence < filtered[j].Sequence
	})

	return filtered, nil
}

func (or *OperationRepository) loadSet(ctx context.Context, key string) ([]*models.Operation, error) {
	ids, err := or.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list operations for %s: %w", key, err)
	}

	operations := make([]*models.Operation, 0, len(ids))

	for _, id := range ids {
		op, err := or.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if op != nil {
			operations = append(operations, op)
		}
	}

	return operations, nil
}
