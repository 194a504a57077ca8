// Package llm provides the wire representations exchanged with an assistant
// chat completion backend: the outbound request body and the streamed frames.
package llm

// ErrorResponse represents an error from the assistant API.
type ErrorResponse struct {
	Error string `json:"error"`
}
