package session

import "time"

// DefaultIdleTimeout bounds the wait for the next chunk of the response body.
const DefaultIdleTimeout = 60 * time.Second

// Target identifies the assistant a session talks to. It is injected once at
// construction instead of being looked up on every send.
type Target struct {
	// ID is the assistant identifier, used for logging.
	ID string

	// APIKey is the secret sent in the x-api-key header. A Target without
	// a key is not configured.
	APIKey string
}

// Configured reports whether the target can be sent to.
func (t Target) Configured() bool {
	return t.APIKey != ""
}

// Config is the Engine configuration.
type Config struct {
	Target Target

	// IdleTimeout fails the session when no bytes arrive for this long.
	// Zero disables it.
	IdleTimeout time.Duration

	// PaceDelay is slept after every increment except the first, to smooth
	// rendering. It never affects the assembled content.
	PaceDelay time.Duration

	// ReadSize is the maximum bytes pulled from the body per read.
	ReadSize int
}
