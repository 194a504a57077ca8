// Package conversation holds the ordered turns of a chat and guards the
// invariant that at most one assistant turn is in flight at any time.
//
// Every mutator checks its precondition against the in-flight turn instead of
// blocking; the Store is the single point of mutation for conversation state,
// and observers are notified synchronously after each successful mutation.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/lmchat/pkg/llm"
)

// FailurePrefix labels the content of an errored turn.
const FailurePrefix = "Error: "

// GenericFailure is used when a failure carries no message.
const GenericFailure = "Something went wrong"

// Observer receives a snapshot after every mutation. Observers may read from
// the Store but must not mutate it.
type Observer func(Snapshot)

// Store is an ordered, append-biased conversation history.
// It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	turns    []Turn
	inFlight int // index into turns, -1 when none
	version  uint64

	// notifyMu serializes observer delivery. Callers that mutate from more than
	// one goroutine should order snapshots by Version.
	notifyMu  sync.Mutex
	observers map[int]Observer
	nextID    int

	now func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		inFlight:  -1,
		observers: make(map[int]Observer),
		now:       time.Now,
	}
}

// Subscribe registers fn to be called after every mutation. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// AppendUserTurn appends a complete user turn.
func (s *Store) AppendUserTurn(content string) (Turn, error) {
	s.mu.Lock()
	if s.inFlight >= 0 {
		s.mu.Unlock()
		return Turn{}, &StateError{Op: "append user turn", Reason: "a turn is in flight"}
	}

	t := s.newTurn(llm.RoleUser, content, StatusComplete)
	s.turns = append(s.turns, t)
	s.commit()
	return t, nil
}

// BeginAssistantTurn appends an empty in-flight assistant turn. The previous
// turn must be a complete user turn.
func (s *Store) BeginAssistantTurn() (Turn, error) {
	s.mu.Lock()
	if s.inFlight >= 0 {
		s.mu.Unlock()
		return Turn{}, &StateError{Op: "begin assistant turn", Reason: "a turn is in flight"}
	}
	if n := len(s.turns); n == 0 || s.turns[n-1].Role != llm.RoleUser || s.turns[n-1].Status != StatusComplete {
		s.mu.Unlock()
		return Turn{}, &StateError{Op: "begin assistant turn", Reason: "previous turn is not a complete user turn"}
	}

	t := s.newTurn(llm.RoleAssistant, "", StatusInFlight)
	s.turns = append(s.turns, t)
	s.inFlight = len(s.turns) - 1
	s.commit()
	return t, nil
}

// AppendToInFlightTurn concatenates fragment onto the in-flight turn.
// An empty fragment is a valid no-op that still notifies observers.
func (s *Store) AppendToInFlightTurn(fragment string) error {
	s.mu.Lock()
	if s.inFlight < 0 {
		s.mu.Unlock()
		return &StateError{Op: "append to in-flight turn", Reason: "no turn is in flight"}
	}

	s.turns[s.inFlight].Content += fragment
	s.commit()
	return nil
}

// FinalizeInFlightTurn marks the in-flight turn complete.
func (s *Store) FinalizeInFlightTurn() error {
	s.mu.Lock()
	if s.inFlight < 0 {
		s.mu.Unlock()
		return &StateError{Op: "finalize in-flight turn", Reason: "no turn is in flight"}
	}

	s.turns[s.inFlight].Status = StatusComplete
	s.inFlight = -1
	s.commit()
	return nil
}

// FailInFlightTurn marks the in-flight turn errored and replaces its content
// with a failure description. It reports whether a turn was failed; with no
// turn in flight it does nothing, since a session may report failure after
// the conversation was reset.
func (s *Store) FailInFlightTurn(message string) bool {
	s.mu.Lock()
	if s.inFlight < 0 {
		s.mu.Unlock()
		return false
	}

	if message == "" {
		message = GenericFailure
	}
	s.turns[s.inFlight].Content = FailurePrefix + message
	s.turns[s.inFlight].Status = StatusErrored
	s.inFlight = -1
	s.commit()
	return true
}

// Reset clears every turn. It is always legal.
func (s *Store) Reset() {
	s.mu.Lock()
	s.turns = nil
	s.inFlight = -1
	s.commit()
}

// Turns returns a copy of the conversation in chronological order.
func (s *Store) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyTurns()
}

// Snapshot returns the current conversation and its version.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Turns: s.copyTurns(), Version: s.version}
}

// InFlight returns the in-flight turn, if any.
func (s *Store) InFlight() (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight < 0 {
		return Turn{}, false
	}
	return s.turns[s.inFlight], true
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// History returns the complete turns as wire messages, suitable for the
// conversation field of the next request. Errored and in-flight turns are left out.
func (s *Store) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]llm.Message, 0, len(s.turns))
	for _, t := range s.turns {
		if t.Status != StatusComplete {
			continue
		}
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

func (s *Store) newTurn(role, content string, status Status) Turn {
	return Turn{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		Status:    status,
		CreatedAt: s.now(),
	}
}

func (s *Store) copyTurns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// commit bumps the version, releases s.mu, and notifies observers.
// It must be called with s.mu held.
func (s *Store) commit() {
	s.version++
	snap := Snapshot{Turns: s.copyTurns(), Version: s.version}
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}

	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}
