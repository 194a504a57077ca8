package conversation

import "errors"

// ErrInvalidState is returned, wrapped in a *StateError, when a mutation's
// precondition on the in-flight turn does not hold.
var ErrInvalidState = errors.New("invalid conversation state")

// StateError describes which operation was rejected and why.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return "conversation: " + e.Op + ": " + e.Reason
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
