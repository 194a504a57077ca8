package sse

import "github.com/tidwall/gjson"

// Kind classifies an interpreted frame.
type Kind int

const (
	// KindIgnore is a frame with nothing actionable: malformed JSON, a non-object
	// payload, or an object with no recognized field.
	KindIgnore Kind = iota

	// KindIncrement carries a text fragment, possibly empty.
	KindIncrement

	// KindError carries a server reported failure. It is terminal.
	KindError

	// KindEnd marks the end of the reply.
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindIncrement:
		return "increment"
	case KindError:
		return "error"
	case KindEnd:
		return "end"
	default:
		return "ignore"
	}
}

// Event is the structured form of one frame.
type Event struct {
	Kind Kind

	// Fragment is set for KindIncrement.
	Fragment string

	// Message is set for KindError.
	Message string

	// Done is set on a KindIncrement whose frame also carried the completion
	// field: apply the fragment, then finish.
	Done bool

	// Malformed is set on a KindIgnore whose payload was not valid JSON.
	Malformed bool
}

// fragmentFields are tried in order. "text" is accepted for older backends.
var fragmentFields = [...]string{"response", "text"}

// Interpret parses a raw frame payload into an Event. It never fails: payloads
// that cannot be parsed come back as KindIgnore.
func Interpret(payload string) Event {
	if !gjson.Valid(payload) {
		return Event{Kind: KindIgnore, Malformed: true}
	}

	res := gjson.Parse(payload)
	if !res.IsObject() {
		return Event{Kind: KindIgnore}
	}

	if e := res.Get("error"); truthy(e) {
		msg := e.String()
		if e.Type != gjson.String {
			msg = e.Raw
		}
		return Event{Kind: KindError, Message: msg}
	}

	done := truthy(res.Get("done"))

	if fragment, ok := fragmentOf(res); ok {
		return Event{Kind: KindIncrement, Fragment: fragment, Done: done}
	}

	if done {
		return Event{Kind: KindEnd}
	}

	return Event{Kind: KindIgnore}
}

// fragmentOf returns the first non-empty string fragment field. If every
// recognized field present is an empty string the fragment is "" and ok is
// still true: an empty increment signals liveness.
func fragmentOf(res gjson.Result) (string, bool) {
	found := false
	for _, name := range fragmentFields {
		f := res.Get(name)
		if f.Type != gjson.String {
			continue
		}
		if f.Str != "" {
			return f.Str, true
		}
		found = true
	}

	return "", found
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	default:
		return true
	}
}
