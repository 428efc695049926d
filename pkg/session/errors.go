// Package session manages collaboration session lifecycle and membership.
package session

import (
	"errors"

	"github.com/KlikkAI/reporunner-collab/pkg/persistence"
)

// Business logic errors; these indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrMissingWorkflowID = errors.New("workflow ID is required")
	ErrMissingUser       = errors.New("user is required")
	ErrInvalidRole       = errors.New("invalid participant role")
	ErrInvalidSettings   = errors.New("invalid session settings")

	// Membership errors.
	ErrRoleNotAllowed   = errors.New("role is not allowed in this session")
	ErrNotParticipant   = errors.New("user is not an active participant")
	ErrViewerCannotEdit = errors.New("viewers may not submit operations")

	// Capacity errors.
	ErrSessionFull = errors.New("session is at capacity")

	// Not-found and conflict errors.
	ErrSessionNotFound = persistence.ErrSessionNotFound
	ErrSessionEnded    = persistence.ErrSessionAlreadyEnded
)

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingWorkflowID) ||
		errors.Is(err, ErrMissingUser) ||
		errors.Is(err, ErrInvalidRole) ||
		errors.Is(err, ErrInvalidSettings)
}

// IsNotFoundError checks if an error should map to HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsCapacityError checks if an error indicates a full session.
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrSessionFull)
}

// IsConflictError checks if an error indicates a write against an ended
// session or a forbidden mutation, mapping to HTTP 409/403.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSessionEnded) ||
		errors.Is(err, ErrRoleNotAllowed) ||
		errors.Is(err, ErrNotParticipant) ||
		errors.Is(err, ErrViewerCannotEdit)
}
