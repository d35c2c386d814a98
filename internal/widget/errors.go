package widget

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrSessionCreationFailed means the store could not create a chat session.
	ErrSessionCreationFailed = errors.New("session creation failed")

	// ErrStoreRead means a message refresh failed; the last snapshot stays visible.
	ErrStoreRead = errors.New("store read failed")

	// ErrDeliveryFailed means the agent reply never arrived for an exchange.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrSessionRequired means the visitor must identify before sending.
	// The submitted content is kept and sent once a session exists.
	ErrSessionRequired = errors.New("chat session required")

	// ErrClosed is returned by a conversation after Close.
	ErrClosed = errors.New("conversation closed")
)

// ValidationError describes input rejected before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
