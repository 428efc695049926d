// Package persistence provides the storage abstraction for collaboration
// session and operation records. Repositories carry no business logic.
package persistence

import (
	"context"
	"time"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

type Persistence interface {
	SessionRepository() SessionRepository
	OperationRepository() OperationRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// SessionRepository stores collaboration session records.
type SessionRepository interface {
	Save(ctx context.Context, session *models.CollaborationSession) error
	GetByID(ctx context.Context, id string) (*models.CollaborationSession, error)

	// GetActiveByWorkflow returns the single active session for a workflow,
	// or nil when none is active.
	GetActiveByWorkflow(ctx context.Context, workflowID string) (*models.CollaborationSession, error)

	// ListByWorkflow returns every session recorded for a workflow, newest first.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.CollaborationSession, error)
}

// ListOperationsOptions filters and paginates the audit trail of a session.
type ListOperationsOptions struct {
	Status *models.OperationStatus
	Page   int
	Limit  int
}

// OperationListResult is one page of a session's operation audit trail.
type OperationListResult struct {
	Operations []*models.Operation `json:"operations"`
	TotalCount int64               `json:"total_count"`
	Page       int                 `json:"page"`
	Limit      int                 `json:"limit"`
}

// OperationRepository stores the operation audit trail.
type OperationRepository interface {
	Save(ctx context.Context, op *models.Operation) error
	GetByID(ctx context.Context, id string) (*models.Operation, error)
	ListBySession(ctx context.Context, sessionID string, opts ListOperationsOptions) (*OperationListResult, error)

	// ListByWorkflow returns operations for a workflow created inside the
	// given time range, oldest first.
	ListByWorkflow(ctx context.Context, workflowID string, from, to time.Time) ([]*models.Operation, error)
}
