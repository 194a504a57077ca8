package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Turn.
type Status int

const (
	// StatusComplete turns are immutable.
	StatusComplete Status = iota

	// StatusInFlight is the single assistant turn still being assembled.
	StatusInFlight

	// StatusErrored turns hold a human readable failure description and are immutable.
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusInFlight:
		return "in-flight"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Turn is one message in a conversation.
type Turn struct {
	ID        uuid.UUID
	Role      string // llm.RoleUser or llm.RoleAssistant
	Content   string
	Status    Status
	CreatedAt time.Time
}

// Snapshot is an immutable view of the conversation handed to observers.
// Version increases by one with every mutation.
type Snapshot struct {
	Turns   []Turn
	Version uint64
}

// Active reports whether the snapshot holds an in-flight turn.
func (s Snapshot) Active() bool {
	for _, t := range s.Turns {
		if t.Status == StatusInFlight {
			return true
		}
	}
	return false
}
