package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSession is returned when a session ID is unknown.
	ErrInvalidSession = errors.New("invalid session")

	// ErrSessionClosed is returned when a turn targets a session in a
	// terminal state.
	ErrSessionClosed = errors.New("session closed")

	// ErrMalformedMessage is returned for empty or oversized messages.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrInvalidTransition is returned when an operator action does not
	// apply to the session's current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ResponderError records a responder that failed while producing a turn.
// The turn still gets a reply; the error is surfaced for logging and metrics.
type ResponderError struct {
	Responder Kind
	Err       error
}

func (e *ResponderError) Error() string {
	return fmt.Sprintf("responder %s: %v", e.Responder, e.Err)
}

func (e *ResponderError) Unwrap() error { return e.Err }
