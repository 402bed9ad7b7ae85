package session

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuery is returned when a submitted query is blank after trimming.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrQueryTooLong is returned when a submitted query exceeds the configured limit.
	ErrQueryTooLong = errors.New("query is too long")

	// ErrTurnInFlight is returned when a turn is submitted while another is in flight.
	ErrTurnInFlight = errors.New("a turn is already in flight")

	// ErrNothingToCancel is returned when there is no cancellable turn.
	ErrNothingToCancel = errors.New("no cancellable turn")

	// ErrTurnNotFound is returned when feedback targets an unknown assistant turn.
	ErrTurnNotFound = errors.New("turn not found")

	// ErrConversationNotFound is returned when a conversation id is unknown.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("conversation is closed")

	// ErrStreamTimeout marks a stream abandoned for inactivity.
	ErrStreamTimeout = errors.New("stream timed out")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
