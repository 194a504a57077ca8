package session

// State is the Engine's position in a send cycle.
type State int32

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
