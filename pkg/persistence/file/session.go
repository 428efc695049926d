package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

// SessionRepository handles session records as one JSON file per session.
type SessionRepository struct {
	root string
	mu   sync.RWMutex
}

func NewSessionRepository(root string) *SessionRepository {
	return &SessionRepository{root: root}
}

func (sr *SessionRepository) dir() string {
	return filepath.Join(sr.root, "sessions")
}

func (sr *SessionRepository) Save(_ context.Context, session *models.CollaborationSession) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	return writeJSON(sr.dir(), session.ID, session)
}

func (sr *SessionRepository) GetByID(_ context.Context, id string) (*models.CollaborationSession, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	var session models.CollaborationSession

	found, err := readJSON(sr.dir(), id, &session)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}

	return &session, nil
}

func (sr *SessionRepository) GetActiveByWorkflow(ctx context.Context, workflowID string) (*models.CollaborationSession, error) {
	sessions, err := sr.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	for _, session := range sessions {
		if session.IsActive {
			return session, nil
		}
	}

	return nil, nil
}

func (sr *SessionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.CollaborationSession, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	if _, err := os.Stat(sr.dir()); os.IsNotExist(err) {
		return []*models.CollaborationSession{}, nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(sr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list session files: %w", err)
	}

	sessions := make([]*models.CollaborationSession, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		var session models.CollaborationSession

		found, err := readJSON(sr.dir(), name[:len(name)-5], &session)
		if err != nil {
			return nil, err
		}

		if found && session.WorkflowID == workflowID {
			sessions = append(sessions, &session)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	return sessions, nil
}
