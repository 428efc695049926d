package models

import "time"

// ParticipantRole defines what a participant may do inside a session.
type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleEditor ParticipantRole = "editor"
	RoleViewer ParticipantRole = "viewer"
)

// CanEdit reports whether the role may submit mutating operations.
func (r ParticipantRole) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// Valid reports whether the role is one of the known roles.
func (r ParticipantRole) Valid() bool {
	return r == RoleOwner || r == RoleEditor || r == RoleViewer
}

// Participant is one user's membership in a collaboration session.
type Participant struct {
	UserID       string          `json:"user_id"       validate:"required"`
	ConnectionID string          `json:"connection_id"`
	Role         ParticipantRole `json:"role"          validate:"required,oneof=owner editor viewer"`
	JoinedAt     time.Time       `json:"joined_at"`
	IsActive     bool            `json:"is_active"`
}

// SessionSettings controls who may join a session and how many at once.
type SessionSettings struct {
	AllowedRoles    []ParticipantRole `json:"allowed_roles"`
	MaxParticipants int               `json:"max_participants" validate:"min=1"`
}

// DefaultSessionSettings are applied when a session is created without
// explicit configuration.
func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		AllowedRoles:    []ParticipantRole{RoleOwner, RoleEditor, RoleViewer},
		MaxParticipants: 10,
	}
}

// AllowsRole reports whether the settings admit participants with the role.
func (s SessionSettings) AllowsRole(role ParticipantRole) bool {
	for _, allowed := range s.AllowedRoles {
		if allowed == role {
			return true
		}
	}

	return false
}

// CollaborationSession is one live editing context for a workflow.
//
// At most one session per workflow is active at a time. Ending a session is
// terminal; the next join creates a fresh one.
type CollaborationSession struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id" validate:"required"`
	CreatedBy    string          `json:"created_by"`
	IsActive     bool            `json:"is_active"`
	Participants []*Participant  `json:"participants"`
	Settings     SessionSettings `json:"settings"`
	CreatedAt    time.Time       `json:"created_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
}

// FindParticipant returns the participant entry for a user, or nil.
func (s *CollaborationSession) FindParticipant(userID string) *Participant {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p
		}
	}

	return nil
}

// ActiveParticipantCount counts participants currently attached to the session.
func (s *CollaborationSession) ActiveParticipantCount() int {
	count := 0

	for _, p := range s.Participants {
		if p.IsActive {
			count++
		}
	}

	return count
}

// AtCapacity reports whether another active participant would exceed the
// configured maximum.
func (s *CollaborationSession) AtCapacity() bool {
	return s.ActiveParticipantCount() >= s.Settings.MaxParticipants
}
