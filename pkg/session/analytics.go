package session

import (
	"context"
	"fmt"
	"time"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

// Analytics summarizes collaboration activity for a workflow over a date range.
type Analytics struct {
	WorkflowID            string                       `json:"workflow_id"`
	From                  time.Time                    `json:"from"`
	To                    time.Time                    `json:"to"`
	TotalSessions         int                          `json:"total_sessions"`
	HasActiveSession      bool                         `json:"has_active_session"`
	TotalOperations       int                          `json:"total_operations"`
	UniqueParticipants    int                          `json:"unique_participants"`
	OperationsByType      map[models.OperationType]int `json:"operations_by_type"`
	AverageSessionMinutes float64                      `json:"average_session_minutes"`
}

// Analytics aggregates session and operation records for a workflow. Sessions
// are matched on creation time; the still-active session counts with a
// duration up to now.
func (m *Manager) Analytics(ctx context.Context, workflowID string, from, to time.Time) (*Analytics, error) {
	if workflowID == "" {
		return nil, ErrMissingWorkflowID
	}

	sessions, err := m.persistence.SessionRepository().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	result := &Analytics{
		WorkflowID:       workflowID,
		From:             from,
		To:               to,
		OperationsByType: make(map[models.OperationType]int),
	}

	participants := make(map[string]struct{})

	var totalDuration time.Duration

	for _, session := range sessions {
		if !from.IsZero() && session.CreatedAt.Before(from) {
			continue
		}

		if !to.IsZero() && session.CreatedAt.After(to) {
			continue
		}

		result.TotalSessions++

		if session.IsActive {
			result.HasActiveSession = true
		}

		for _, p := range session.Participants {
			participants[p.UserID] = struct{}{}
		}

		end := time.Now().UTC()
		if session.EndedAt != nil {
			end = *session.EndedAt
		}

		totalDuration += end.Sub(session.CreatedAt)
	}

	result.UniqueParticipants = len(participants)

	if result.TotalSessions > 0 {
		result.AverageSessionMinutes = totalDuration.Minutes() / float64(result.TotalSessions)
	}

	operations, err := m.persistence.OperationRepository().ListByWorkflow(ctx, workflowID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}

	result.TotalOperations = len(operations)

	for _, op := range operations {
		result.OperationsByType[op.Type]++
	}

	return result, nil
}
