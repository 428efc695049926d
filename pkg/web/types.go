// Package web provides HTTP request and response types for the collaboration API.
package web

import "github.com/KlikkAI/reporunner-collab/pkg/models"

// JoinSessionRequest represents the request body for joining a workflow's
// collaboration session.
type JoinSessionRequest struct {
	UserID       string                  `json:"user_id"                 validate:"required"`
	UserName     string                  `json:"user_name,omitempty"`
	Role         models.ParticipantRole  `json:"role,omitempty"          validate:"omitempty,oneof=owner editor viewer"`
	ConnectionID string                  `json:"connection_id,omitempty"`
	Settings     *models.SessionSettings `json:"settings,omitempty"`
}

// LeaveSessionRequest represents the request body for leaving a session.
type LeaveSessionRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// UpdateSettingsRequest represents the request body for replacing session settings.
type UpdateSettingsRequest struct {
	AllowedRoles    []models.ParticipantRole `json:"allowed_roles"    validate:"required,min=1,dive,oneof=owner editor viewer"`
	MaxParticipants int                      `json:"max_participants" validate:"required,min=1"`
}

// EndSessionRequest represents the request body for ending a session.
type EndSessionRequest struct {
	EndedBy string `json:"ended_by,omitempty"`
}
