// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrSessionNotFound indicates a collaboration session was not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrOperationNotFound indicates an operation was not found by the given identifier.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrSessionAlreadyEnded indicates a write against a terminally ended session.
	ErrSessionAlreadyEnded = errors.New("session already ended")
)

// SessionError wraps session-related storage errors with context.
type SessionError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save")
	SessionID  string
	WorkflowID string
	Err        error
}

func (e *SessionError) Error() string {
	target := e.SessionID
	if target == "" {
		target = "workflow " + e.WorkflowID
	}

	return fmt.Sprintf("%s operation failed for session %s: %v", e.Op, target, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func (e *SessionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSessionError creates a new session storage error with context.
func NewSessionError(op, sessionID string, err error) *SessionError {
	return &SessionError{
		Op:        op,
		SessionID: sessionID,
		Err:       err,
	}
}

// OperationError wraps operation-related storage errors with context.
type OperationError struct {
	Op          string
	OperationID string
	Err         error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s operation failed for operation %s: %v", e.Op, e.OperationID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func (e *OperationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsSessionNotFound checks if an error indicates a session was not found.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsOperationNotFound checks if an error indicates an operation was not found.
func IsOperationNotFound(err error) bool {
	return errors.Is(err, ErrOperationNotFound)
}

// IsSessionAlreadyEnded checks if an error indicates a write to an ended session.
func IsSessionAlreadyEnded(err error) bool {
	return errors.Is(err, ErrSessionAlreadyEnded)
}
