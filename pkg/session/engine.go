// Package session drives one request/stream cycle at a time against an
// assistant completion backend.
//
// An Engine appends the user turn and an in-flight assistant turn to a
// conversation.Store, opens the Transport, and pumps the body through the sse
// Decoder and Interpreter, applying each fragment to the store as it arrives.
// The turn is finalized on an end frame or when the body closes, and failed on
// an error frame, a transport failure, or cancellation.
//
// The Engine rejects a Send or NewChat while a session is active (ErrBusy);
// sends are never queued.
package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/lmchat/pkg/conversation"
	"github.com/papercomputeco/lmchat/pkg/llm"
	"github.com/papercomputeco/lmchat/pkg/sse"
)

// Engine is the streaming chat session engine. It is safe for concurrent use:
// Cancel, NewChat, and the accessors may be called while Send is running in
// another goroutine.
type Engine struct {
	store     *conversation.Store
	transport Transport
	config    Config
	logger    *zap.Logger

	// mu orders every store mutation made on behalf of a session against
	// cancellation. Observers run under it, so they must not call Send,
	// Cancel, or NewChat.
	mu     sync.Mutex
	active *activeSession

	state      atomic.Int32
	firstToken atomic.Bool
}

// activeSession is the ownership scope of one outstanding request.
type activeSession struct {
	id        uuid.UUID
	cancel    context.CancelCauseFunc
	body      io.ReadCloser
	cancelled bool
}

// New creates an Engine. A nil store gets a fresh conversation.Store and a nil
// logger discards output.
func New(store *conversation.Store, transport Transport, config Config, logger *zap.Logger) *Engine {
	if store == nil {
		store = conversation.NewStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		store:     store,
		transport: transport,
		config:    config,
		logger:    logger,
	}
}

// Store returns the conversation the Engine writes to.
func (e *Engine) Store() *conversation.Store {
	return e.store
}

// State returns the current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Active reports whether a session is in progress. Presentation layers should
// disable submission while it is true.
func (e *Engine) Active() bool {
	return e.State() != StateIdle
}

// FirstTokenReceived reports whether the active or most recent session has
// applied at least one fragment.
func (e *Engine) FirstTokenReceived() bool {
	return e.firstToken.Load()
}

// Send submits message with the given prior turns and blocks until the reply
// has been fully assembled, has failed, or was cancelled.
//
// It returns ErrEmptyMessage, ErrNoTarget, or ErrBusy without touching the
// conversation. Otherwise the conversation gains a user turn and an assistant
// turn, and the returned error (nil, *TransportError, *ServerError, or
// ErrCancelled) matches the assistant turn's final status.
func (e *Engine) Send(ctx context.Context, message string, prior []llm.Message) error {
	text := strings.TrimSpace(message)
	if text == "" {
		return ErrEmptyMessage
	}
	if !e.config.Target.Configured() {
		return ErrNoTarget
	}

	sctx, cancel := context.WithCancelCause(ctx)
	s := &activeSession{id: uuid.New(), cancel: cancel}

	if err := e.begin(s, text); err != nil {
		cancel(nil)
		return err
	}
	defer e.end(s)

	log := e.logger.With(
		zap.String("session", s.id.String()),
		zap.String("assistant", e.config.Target.ID),
	)
	log.Debug("opening stream",
		zap.Int("prior_turns", len(prior)),
		zap.String("message_preview", truncate(text, 50)),
	)

	body, err := e.transport.Open(sctx, Request{
		Target: e.config.Target,
		Body: llm.CompletionRequest{
			Message:      text,
			Conversation: wireMessages(prior),
		},
	})
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			te = &TransportError{Err: err}
		}
		return e.fail(s, log, te)
	}
	defer body.Close()

	if !e.attach(s, body) {
		return ErrCancelled
	}

	var r io.Reader = body
	if e.config.IdleTimeout > 0 {
		r = &idleReader{
			r:       body,
			timeout: e.config.IdleTimeout,
			expire: func() {
				cancel(ErrIdleTimeout)
				body.Close()
			},
		}
	}

	return e.pump(sctx, s, log, sse.NewReader(r, e.config.ReadSize))
}

// pump applies frames to the in-flight turn until the stream ends.
func (e *Engine) pump(ctx context.Context, s *activeSession, log *zap.Logger, frames *sse.Reader) error {
	startTime := time.Now()
	increments := 0

	for {
		payload, err := frames.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("stream closed without end frame", zap.Int("increments", increments))
				return e.finish(s, log, startTime)
			}
			if cause := context.Cause(ctx); errors.Is(cause, ErrIdleTimeout) {
				err = ErrIdleTimeout
			}
			return e.fail(s, log, &TransportError{Err: err})
		}

		ev := sse.Interpret(payload)
		switch ev.Kind {
		case sse.KindIgnore:
			if ev.Malformed {
				log.Warn("ignoring malformed frame", zap.String("payload", truncate(payload, 100)))
			}

		case sse.KindError:
			return e.fail(s, log, &ServerError{Message: ev.Message})

		case sse.KindEnd:
			return e.finish(s, log, startTime)

		case sse.KindIncrement:
			if err := e.apply(s, ev.Fragment); err != nil {
				return err
			}
			increments++

			log.Debug("applied fragment",
				zap.Bool("done", ev.Done),
				zap.String("fragment", truncate(ev.Fragment, 50)),
			)

			if ev.Done {
				return e.finish(s, log, startTime)
			}
			if increments > 1 && e.config.PaceDelay > 0 {
				if err := pace(ctx, e.config.PaceDelay); err != nil {
					return e.fail(s, log, &TransportError{Err: err})
				}
			}
		}
	}
}

// Cancel aborts the active session, marks its turn errored, and returns the
// Engine to idle. No fragment is applied after Cancel returns. It reports
// whether there was a session to cancel.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.active
	if s == nil {
		return false
	}

	s.cancelled = true
	e.store.FailInFlightTurn(CancelledMessage)
	s.cancel(ErrCancelled)
	if s.body != nil {
		s.body.Close()
	}

	e.active = nil
	e.setState(StateIdle)
	e.logger.Info("session cancelled", zap.String("session", s.id.String()))
	return true
}

// NewChat clears the conversation. It returns ErrBusy while a session is active.
func (e *Engine) NewChat() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		return ErrBusy
	}

	e.store.Reset()
	e.firstToken.Store(false)
	return nil
}

// begin claims the engine for s and appends the user and assistant turns.
func (e *Engine) begin(s *activeSession, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		return ErrBusy
	}

	e.firstToken.Store(false)
	e.setState(StateSending)

	if _, err := e.store.AppendUserTurn(text); err != nil {
		e.setState(StateIdle)
		return err
	}
	if _, err := e.store.BeginAssistantTurn(); err != nil {
		e.setState(StateIdle)
		return err
	}

	e.active = s
	return nil
}

// attach records the open body so Cancel can close it, and moves to streaming.
func (e *Engine) attach(s *activeSession, body io.ReadCloser) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.cancelled {
		return false
	}

	s.body = body
	e.setState(StateStreaming)
	return true
}

// apply appends one fragment unless the session has been cancelled.
func (e *Engine) apply(s *activeSession, fragment string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.cancelled {
		return ErrCancelled
	}

	if err := e.store.AppendToInFlightTurn(fragment); err != nil {
		return err
	}

	e.firstToken.Store(true)
	return nil
}

func (e *Engine) finish(s *activeSession, log *zap.Logger, startTime time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.cancelled {
		return ErrCancelled
	}

	if err := e.store.FinalizeInFlightTurn(); err != nil {
		log.Error("failed to finalize turn", zap.Error(err))
		return err
	}

	e.setState(StateFinalized)
	log.Info("reply complete", zap.Duration("duration", time.Since(startTime)))
	return nil
}

func (e *Engine) fail(s *activeSession, log *zap.Logger, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.cancelled {
		return ErrCancelled
	}

	e.store.FailInFlightTurn(err.Error())
	e.setState(StateFailed)

	var te *TransportError
	if errors.As(err, &te) && te.Body != "" {
		log.Error("session failed", zap.Error(err), zap.String("body", truncate(te.Body, 200)))
	} else {
		log.Error("session failed", zap.Error(err))
	}
	return err
}

// end releases s and returns to idle unless Cancel already did.
func (e *Engine) end(s *activeSession) {
	s.cancel(nil)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == s {
		e.active = nil
		e.setState(StateIdle)
	}
}

func (e *Engine) setState(st State) {
	e.state.Store(int32(st))
}

// wireMessages strips prior turns down to role and content. The result is
// never nil so the request always carries a conversation array.
func wireMessages(prior []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(prior))
	for _, m := range prior {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func pace(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
