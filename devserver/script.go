package devserver

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/papercomputeco/lmchat/pkg/llm"
)

// FailCommand makes the echo replier end its reply with an error frame
// carrying the rest of the message.
const FailCommand = "/fail "

// Script is a canned reply: the fragments to stream, then an optional error.
type Script struct {
	Fragments []string
	Error     string
}

// Reply joins the fragments.
func (s Script) Reply() string {
	return strings.Join(s.Fragments, "")
}

// Replier decides what to stream back for a request.
type Replier func(req *llm.CompletionRequest) Script

// Echo replies with the message and how many prior turns came with it,
// split into word-sized fragments.
func Echo(req *llm.CompletionRequest) Script {
	if msg, ok := strings.CutPrefix(req.Message, FailCommand); ok {
		return Script{
			Fragments: SplitWords("Working on it"),
			Error:     msg,
		}
	}

	reply := "You said: " + req.Message
	if n := len(req.Conversation); n > 0 {
		reply += " (with " + strconv.Itoa(n) + " prior turns)"
	}
	return Script{Fragments: SplitWords(reply)}
}

// SplitWords splits s into fragments that each end after a run of spaces,
// so joining them gives back s exactly.
func SplitWords(s string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if inSpace && !space {
			out = append(out, s[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
