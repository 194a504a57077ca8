package llm

// Roles a conversation message can carry on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single prior turn sent back to the backend as context.
// Only role and content travel on the wire; client-side status never does.
type Message struct {
	Role    string `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // The message content
}
