package llm

// CompletionRequest is the body POSTed to the assistant chat completion endpoint.
type CompletionRequest struct {
	Message      string    `json:"message"`      // The new user message, trimmed
	Conversation []Message `json:"conversation"` // Prior turns, oldest first
}
