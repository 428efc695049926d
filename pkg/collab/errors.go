package collab

import (
	"errors"
	"strings"
)

var (
	ErrInvalidOperation = errors.New("invalid operation")
	ErrWorkflowMismatch = errors.New("operation session does not belong to this workflow")
	ErrClosed           = errors.New("coordinator is closed")
)

// ValidationError carries every reason a submitted operation was refused.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "invalid operation: " + strings.Join(e.Reasons, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidOperation
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidOperation) || errors.Is(err, ErrWorkflowMismatch)
}
