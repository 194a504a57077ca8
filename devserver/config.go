package devserver

import "time"

// Config is the dev server configuration.
type Config struct {
	// Address to listen on (e.g., ":6070")
	ListenAddr string

	// APIKeys maps each accepted x-api-key value to the assistant it unlocks.
	APIKeys map[string]string

	// FrameDelay is slept between streamed frames so clients can watch a
	// reply assemble. Zero streams as fast as possible.
	FrameDelay time.Duration

	// DBPath is the path to the SQLite database file recording transcripts.
	// Use ":memory:" for an in-memory database, or empty for in-memory.
	DBPath string
}
