package session

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned when the message is empty or whitespace.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoTarget is returned when no assistant target is configured.
	ErrNoTarget = errors.New("no assistant configured")

	// ErrBusy is returned by Send and NewChat while a session is active.
	ErrBusy = errors.New("a session is already active")

	// ErrCancelled is returned by Send when the session was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrIdleTimeout is the cause of a TransportError raised when the response
	// body stays silent for longer than the configured idle timeout.
	ErrIdleTimeout = errors.New("stream idle timeout")
)

// CancelledMessage is the failure description written to a cancelled turn.
const CancelledMessage = "cancelled"

// TransportError is a failure to open the stream, a non-success response
// status, or a failure while reading the body. It is terminal for the session.
type TransportError struct {
	// StatusCode is set when the backend answered with a non-success status.
	StatusCode int

	// Body holds the start of a non-success response body, if any.
	Body string

	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	}
	if e.Err == nil {
		return "transport failure"
	}
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError is an error reported by the backend inside a well-formed frame.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}
