package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence"
)

// OperationRepository stores the operation audit trail as one JSON file per operation.
type OperationRepository struct {
	root string
	mu   sync.RWMutex
}

func NewOperationRepository(root string) *OperationRepository {
	return &OperationRepository{root: root}
}

func (or *OperationRepository) dir() string {
	return filepath.Join(or.root, "operations")
}

func (or *OperationRepository) Save(_ context.Context, op *models.Operation) error {
	or.mu.Lock()
	defer or.mu.Unlock()

	return writeJSON(or.dir(), op.ID, op)
}

func (or *OperationRepository) GetByID(_ context.Context, id string) (*models.Operation, error) {
	or.mu.RLock()
	defer or.mu.RUnlock()

	var op models.Operation

	found, err := readJSON(or.dir(), id, &op)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}

	return &op, nil
}

func (or *OperationRepository) ListBySession(
	_ context.Context,
	sessionID string,
	opts persistence.ListOperationsOptions,
) (*persistence.OperationListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}

	if opts.Page <= 0 {
		opts.Page = 1
	}

	all, err := or.loadAll()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Operation, 0)

	for _, op := range all {
		if op.SessionID != sessionID {
			continue
		}

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
	_ context.Context,
	workflowID string,
	from, to time.Time,
) ([]*models.Operation, error) {
	all, err := or.loadAll()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Operation, 0)

	for _, op := range all {
		if op.WorkflowID != workflowID {
			continue
		}

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

func (or *OperationRepository) loadAll() ([]*models.Operation, error) {
	or.mu.RLock()
	defer or.mu.RUnlock()

	if _, err := os.Stat(or.dir()); os.IsNotExist(err) {
		return []*models.Operation{}, nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(or.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list operation files: %w", err)
	}

	operations := make([]*models.Operation, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		var op models.Operation

		found, err := readJSON(or.dir(), name[:len(name)-5], &op)
		if err != nil {
			return nil, err
		}

		if found {
			operations = append(operations, &op)
		}
	}

	return operations, nil
}
