package llm

// StreamFrame is the JSON payload carried by a single "data: " line of the
// completion event stream.
//
// Clients read frames leniently (see package sse); this struct is what the
// dev backend writes.
type StreamFrame struct {
	// Error terminates the stream with a server reported failure.
	Error string `json:"error,omitempty"`

	// Response is the incremental text fragment. Older backends send Text instead.
	Response *string `json:"response,omitempty"`
	Text     *string `json:"text,omitempty"`

	// Done marks the end of the reply. Natural stream closure means the same thing.
	Done bool `json:"done,omitempty"`
}

// Fragment returns a frame carrying one incremental text fragment.
func Fragment(s string) StreamFrame {
	return StreamFrame{Response: &s}
}
