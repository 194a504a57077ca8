// Package devserver provides a scripted assistant backend that speaks the
// streaming chat completion protocol, for local development and integration
// tests. Every exchange it serves is recorded in a Merkle DAG so transcripts
// can be inspected afterwards.
package devserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/lmchat/pkg/llm"
	"github.com/papercomputeco/lmchat/pkg/merkle"
)

// CompletionPath is the streaming chat completion route.
const CompletionPath = "/assistant/chat/completion"

// Server is a scripted backend streaming "data: " framed replies.
type Server struct {
	config  Config
	storer  merkle.Storer
	replier Replier
	logger  *zap.Logger
	app     *fiber.App
}

// New creates a new Server replying with Echo.
func New(config Config, logger *zap.Logger) (*Server, error) {
	var storer merkle.Storer
	var err error

	if config.DBPath != "" {
		storer, err = merkle.NewSQLiteStorer(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		logger.Info("using SQLite storage", zap.String("path", config.DBPath))
	} else {
		storer = merkle.NewMemoryStorer()
		logger.Info("using in-memory storage")
	}

	return NewWithStorer(config, storer, Echo, logger), nil
}

// NewWithStorer creates a Server over an existing storer and replier.
func NewWithStorer(config Config, storer merkle.Storer, replier Replier, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:  config,
		storer:  storer,
		replier: replier,
		logger:  logger,
		app:     app,
	}

	app.Post(CompletionPath, s.handleCompletion)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	// Recorded transcripts. ?assistant= narrows the listing and stats.
	app.Get("/transcripts", s.handleListTranscripts)
	app.Get("/transcripts/stats", s.handleTranscriptStats)
	app.Get("/transcripts/:hash", s.handleGetTranscript)

	return s
}

// App exposes the fiber app, e.g. for mounting under net/http.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves on the configured listen address until Shutdown.
func (s *Server) Run() error {
	s.logger.Info("starting dev server",
		zap.String("listen", s.config.ListenAddr),
		zap.Int("api_keys", len(s.config.APIKeys)),
	)

	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener serves on an existing listener until Shutdown.
func (s *Server) RunWithListener(ln net.Listener) error {
	s.logger.Info("starting dev server", zap.String("listen", ln.Addr().String()))

	return s.app.Listener(ln)
}

// Shutdown stops the listener.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// Close releases the storer.
func (s *Server) Close() error {
	return s.storer.Close()
}

// handleCompletion authenticates the request and streams the scripted reply.
func (s *Server) handleCompletion(c *fiber.Ctx) error {
	assistant, ok := s.config.APIKeys[c.Get("x-api-key")]
	if !ok {
		s.logger.Warn("rejected request with unknown api key")
		return c.Status(fiber.StatusUnauthorized).JSON(llm.ErrorResponse{Error: "invalid api key"})
	}

	var req llm.CompletionRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.logger.Error("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "message is required"})
	}

	s.logger.Debug("received completion request",
		zap.String("assistant", assistant),
		zap.Int("conversation_len", len(req.Conversation)),
		zap.String("message_preview", truncate(req.Message, 50)),
	)

	script := s.replier(&req)
	startTime := time.Now()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		for i, f := range script.Fragments {
			if i > 0 && s.config.FrameDelay > 0 {
				time.Sleep(s.config.FrameDelay)
			}
			if err := writeFrame(w, llm.Fragment(f)); err != nil {
				s.logger.Warn("client went away mid-stream", zap.Error(err))
				return
			}
		}

		final := llm.StreamFrame{Done: true}
		if script.Error != "" {
			final = llm.StreamFrame{Error: script.Error}
		}
		if err := writeFrame(w, final); err != nil {
			s.logger.Warn("client went away before the final frame", zap.Error(err))
			return
		}

		s.logger.Debug("stream complete",
			zap.Int("fragments", len(script.Fragments)),
			zap.Duration("duration", time.Since(startTime)),
		)

		if script.Error != "" {
			return
		}

		exchange := &llm.Exchange{
			Assistant: assistant,
			Request:   &req,
			Reply:     llm.Message{Role: llm.RoleAssistant, Content: script.Reply()},
		}
		headHash, err := s.storeExchange(context.Background(), exchange)
		if err != nil {
			s.logger.Error("failed to store exchange", zap.Error(err))
		} else {
			s.logger.Info("exchange stored", zap.String("head_hash", truncate(headHash, 16)))
		}
	}))

	return nil
}

// writeFrame writes one "data: " line followed by a blank line and flushes.
func writeFrame(w *bufio.Writer, frame llm.StreamFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	w.WriteString("data: ")
	w.Write(payload)
	w.WriteString("\n\n")
	return w.Flush()
}

// storeExchange stores a served exchange in the Merkle DAG and returns the
// hash of the reply node. Each prior turn becomes a node linked to the one
// before, then the new message, then the reply. Replaying the same history
// reuses the existing nodes, so only the divergent tail is new.
func (s *Server) storeExchange(ctx context.Context, ex *llm.Exchange) (string, error) {
	var parent *merkle.Node

	messages := make([]llm.Message, 0, len(ex.Request.Conversation)+2)
	messages = append(messages, ex.Request.Conversation...)
	messages = append(messages,
		llm.Message{Role: llm.RoleUser, Content: ex.Request.Message},
		ex.Reply,
	)

	for _, msg := range messages {
		node := merkle.NewNode(merkle.Bucket{
			Type:      "message",
			Role:      msg.Role,
			Content:   msg.Content,
			Assistant: ex.Assistant,
		}, parent)

		isNew, err := s.storer.Put(ctx, node)
		if err != nil {
			return "", fmt.Errorf("storing message node: %w", err)
		}

		s.logger.Debug("stored message in DAG",
			zap.String("hash", truncate(node.Hash, 16)),
			zap.String("role", msg.Role),
			zap.Bool("new", isNew),
		)

		parent = node
	}

	return parent.Hash, nil
}

// TranscriptStats summarizes what the server has recorded.
type TranscriptStats struct {
	// Messages is the number of distinct message nodes.
	Messages int `json:"messages"`
	// Conversations counts distinct opening messages.
	Conversations int `json:"conversations"`
	// Transcripts counts conversation tails, one per branch.
	Transcripts int `json:"transcripts"`
	// Replies counts assistant turns per assistant.
	Replies map[string]int `json:"replies"`
}

// handleTranscriptStats counts recorded messages, optionally for one assistant.
func (s *Server) handleTranscriptStats(c *fiber.Ctx) error {
	ctx := c.Context()
	keep := assistantFilter(c)

	nodes, err := s.storer.List(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list messages"})
	}

	stats := TranscriptStats{Replies: make(map[string]int)}
	for _, node := range nodes {
		if !keep(node) {
			continue
		}
		stats.Messages++
		if node.ParentHash == nil {
			stats.Conversations++
		}
		if node.Bucket.Role == llm.RoleAssistant {
			stats.Replies[node.Bucket.Assistant]++
		}
	}

	leaves, err := s.storer.Leaves(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list transcripts"})
	}
	for _, leaf := range leaves {
		if keep(leaf) {
			stats.Transcripts++
		}
	}

	return c.JSON(stats)
}

// HistoryResponse contains the transcript leading up to a given node.
type HistoryResponse struct {
	// Messages in chronological order (oldest first, up to and including the requested node)
	Messages []HistoryMessage `json:"messages"`
	// HeadHash is the hash of the node that was requested
	HeadHash string `json:"head_hash"`
	// Assistant that served the transcript
	Assistant string `json:"assistant,omitempty"`
	// Depth is the number of messages in the history
	Depth int `json:"depth"`
}

// HistoryMessage is one turn of a recorded transcript.
type HistoryMessage struct {
	Hash       string  `json:"hash"`
	ParentHash *string `json:"parent_hash,omitempty"`
	Role       string  `json:"role"`
	Content    string  `json:"content"`
}

// TranscriptList is the response of the transcript listing.
type TranscriptList struct {
	Count       int               `json:"count"`
	Transcripts []HistoryResponse `json:"transcripts"`
}

// handleListTranscripts returns every recorded transcript, one per
// conversation tail, optionally only those served by one assistant.
func (s *Server) handleListTranscripts(c *fiber.Ctx) error {
	ctx := c.Context()
	keep := assistantFilter(c)

	leaves, err := s.storer.Leaves(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list transcripts"})
	}

	list := TranscriptList{Transcripts: []HistoryResponse{}}
	for _, leaf := range leaves {
		if !keep(leaf) {
			continue
		}
		history, err := s.buildHistory(ctx, leaf.Hash)
		if err != nil {
			s.logger.Warn("skipping unreadable transcript", zap.String("hash", leaf.Hash), zap.Error(err))
			continue
		}
		list.Transcripts = append(list.Transcripts, *history)
	}
	list.Count = len(list.Transcripts)

	return c.JSON(list)
}

// handleGetTranscript returns the transcript ending at the given message.
func (s *Server) handleGetTranscript(c *fiber.Ctx) error {
	history, err := s.buildHistory(c.Context(), c.Params("hash"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "transcript not found"})
	}

	return c.JSON(history)
}

// assistantFilter matches every node unless the request names an assistant.
func assistantFilter(c *fiber.Ctx) func(*merkle.Node) bool {
	assistant := c.Query("assistant")
	return func(n *merkle.Node) bool {
		return assistant == "" || n.Bucket.Assistant == assistant
	}
}

// buildHistory constructs a HistoryResponse for the given node hash.
func (s *Server) buildHistory(ctx context.Context, hash string) (*HistoryResponse, error) {
	// Ancestry is newest first
	ancestry, err := s.storer.Ancestry(ctx, hash)
	if err != nil {
		return nil, err
	}

	messages := make([]HistoryMessage, len(ancestry))
	for i, node := range ancestry {
		messages[len(ancestry)-1-i] = HistoryMessage{
			Hash:       node.Hash,
			ParentHash: node.ParentHash,
			Role:       node.Bucket.Role,
			Content:    node.Bucket.Content,
		}
	}

	return &HistoryResponse{
		Messages:  messages,
		HeadHash:  hash,
		Assistant: ancestry[0].Bucket.Assistant,
		Depth:     len(messages),
	}, nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
