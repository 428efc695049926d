// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

// CreateTestOperation creates a test Operation with default values that can be overridden.
func CreateTestOperation(overrides ...func(*models.Operation)) *models.Operation {
	op := &models.Operation{
		ID:         uuid.New().String(),
		WorkflowID: "wf-1",
		AuthorID:   "user-1",
		Type:       models.OperationNodeUpdate,
		Target: models.Target{
			Type: models.TargetNode,
			ID:   "node-1",
		},
		Data: models.OperationData{
			After: map[string]any{"name": "Updated Node"},
		},
		Status:    models.OperationStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	for _, override := range overrides {
		override(op)
	}

	return op
}

// WithType sets the operation type.
func WithType(operationType models.OperationType) func(*models.Operation) {
	return func(o *models.Operation) {
		o.Type = operationType
	}
}

// WithTarget sets the operation target.
func WithTarget(targetType models.TargetType, id string) func(*models.Operation) {
	return func(o *models.Operation) {
		o.Target = models.Target{Type: targetType, ID: id}
	}
}

// WithPropertyPath turns the operation into a property_update of one path.
func WithPropertyPath(targetID, path string, value any) func(*models.Operation) {
	return func(o *models.Operation) {
		o.Type = models.OperationPropertyUpdate
		o.Target = models.Target{Type: models.TargetProperty, ID: targetID, Path: path}
		o.Data = models.OperationData{After: value}
	}
}

// WithPosition sets the operation's canvas position.
func WithPosition(x, y float64) func(*models.Operation) {
	return func(o *models.Operation) {
		o.Position = &models.Position{X: x, Y: y}
	}
}

// WithAfter sets the operation payload.
func WithAfter(after any) func(*models.Operation) {
	return func(o *models.Operation) {
		o.Data.After = after
	}
}

// WithAuthor sets the operation author.
func WithAuthor(authorID string) func(*models.Operation) {
	return func(o *models.Operation) {
		o.AuthorID = authorID
	}
}

// WithSequences sets the server order fields.
func WithSequences(sequence, base int64) func(*models.Operation) {
	return func(o *models.Operation) {
		o.Sequence = sequence
		o.BaseSequence = base
	}
}

// CreateTestSession creates an active CollaborationSession with one owner.
func CreateTestSession(overrides ...func(*models.CollaborationSession)) *models.CollaborationSession {
	now := time.Now().UTC()
	session := &models.CollaborationSession{
		ID:         uuid.New().String(),
		WorkflowID: "wf-1",
		CreatedBy:  "user-1",
		IsActive:   true,
		Settings:   models.DefaultSessionSettings(),
		CreatedAt:  now,
		Participants: []*models.Participant{{
			UserID:   "user-1",
			Role:     models.RoleOwner,
			JoinedAt: now,
			IsActive: true,
		}},
	}

	for _, override := range overrides {
		override(session)
	}

	return session
}

// WithWorkflow sets the session's workflow.
func WithWorkflow(workflowID string) func(*models.CollaborationSession) {
	return func(s *models.CollaborationSession) {
		s.WorkflowID = workflowID
	}
}

// WithParticipant appends an active participant.
func WithParticipant(userID string, role models.ParticipantRole) func(*models.CollaborationSession) {
	return func(s *models.CollaborationSession) {
		s.Participants = append(s.Participants, &models.Participant{
			UserID:   userID,
			Role:     role,
			JoinedAt: time.Now().UTC(),
			IsActive: true,
		})
	}
}
