package llm

// Exchange represents a complete request-reply pair as served by a backend,
// used when recording transcripts into the DAG.
type Exchange struct {
	Assistant string             `json:"assistant"`
	Request   *CompletionRequest `json:"request"`
	Reply     Message            `json:"reply"`
}
