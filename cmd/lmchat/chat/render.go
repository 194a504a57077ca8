package chatcmder

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/papercomputeco/lmchat/pkg/conversation"
	"github.com/papercomputeco/lmchat/pkg/llm"
)

const (
	userPrompt     = "you> "
	assistantLabel = "assistant> "
)

// renderer prints the in-flight assistant turn as it grows. It observes
// conversation snapshots and writes only what is new since the last one.
type renderer struct {
	mu sync.Mutex
	w  io.Writer

	prompt    lipgloss.Style
	assistant lipgloss.Style
	failure   lipgloss.Style

	version uint64
	turn    uuid.UUID
	printed int
	closed  bool
}

func newRenderer(w io.Writer) *renderer {
	r := lipgloss.NewRenderer(w)
	return &renderer{
		w:         w,
		prompt:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		failure:   r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// Prompt writes the input prompt.
func (r *renderer) Prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.w, r.prompt.Render(userPrompt))
}

// Notice writes a line of status text.
func (r *renderer) Notice(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format+"\n", args...)
}

// Observe is a conversation.Observer. Snapshots older than one already
// rendered are skipped.
func (r *renderer) Observe(s conversation.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Version < r.version {
		return
	}
	r.version = s.Version

	if len(s.Turns) == 0 {
		return
	}
	t := s.Turns[len(s.Turns)-1]
	if t.Role != llm.RoleAssistant {
		return
	}

	if t.ID != r.turn {
		r.turn = t.ID
		r.printed = 0
		r.closed = false
		fmt.Fprint(r.w, r.assistant.Render(assistantLabel))
	}
	if r.closed {
		return
	}

	switch t.Status {
	case conversation.StatusInFlight:
		r.flush(t.Content)

	case conversation.StatusComplete:
		r.flush(t.Content)
		fmt.Fprintln(r.w)
		r.closed = true

	case conversation.StatusErrored:
		if r.printed > 0 {
			fmt.Fprintln(r.w)
		}
		fmt.Fprintln(r.w, r.failure.Render(t.Content))
		r.closed = true
	}
}

func (r *renderer) flush(content string) {
	if len(content) > r.printed {
		io.WriteString(r.w, content[r.printed:])
		r.printed = len(content)
	}
}
