package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/papercomputeco/lmchat/pkg/config"
	"github.com/papercomputeco/lmchat/pkg/conversation"
	"github.com/papercomputeco/lmchat/pkg/logger"
	"github.com/papercomputeco/lmchat/pkg/session"
)

const chatLongDesc string = `Chat with an assistant whose replies stream in as they are generated.

Type a message and press enter. Replies render as fragments arrive.
Press Ctrl-C during a reply to cancel it, or when idle to quit.

Commands:
  /new    start a new conversation
  /quit   exit

Settings come from ~/.lmchat/config.toml (or --config, or $LMCHAT_CONFIG);
flags override the file. The API key may also be set with $LMCHAT_API_KEY.

Examples:
  lmchat chat --url http://localhost:6070 --api-key sk-local
  lmchat chat --config ./team.toml`

const chatShortDesc string = "Chat with a streaming assistant"

const (
	newCommand  = "/new"
	quitCommand = "/quit"
)

type chatCommander struct {
	configPath  string
	baseURL     string
	assistantID string
	apiKey      string
	idleTimeout time.Duration
	paceDelay   time.Duration
	debug       bool

	// interrupts delivers Ctrl-C; nil in tests.
	interrupts <-chan os.Signal
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmder.loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmder.interrupts == nil {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt)
				defer signal.Stop(sig)
				cmder.interrupts = sig
			}

			return cmder.run(cmd.Context(), cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&cmder.baseURL, "url", "u", "", "Backend base URL")
	cmd.Flags().StringVarP(&cmder.assistantID, "assistant", "a", "", "Assistant identifier")
	cmd.Flags().StringVarP(&cmder.apiKey, "api-key", "k", "", "Assistant API key")
	cmd.Flags().DurationVar(&cmder.idleTimeout, "idle-timeout", 0, "Fail a reply when the stream is silent this long")
	cmd.Flags().DurationVar(&cmder.paceDelay, "pace", 0, "Delay between rendered fragments")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

// loadConfig reads the config file and overlays any flags that were set.
func (c *chatCommander) loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := config.ResolvePath(c.configPath)
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.BaseURL = c.baseURL
	}
	if flags.Changed("assistant") {
		cfg.Assistant.ID = c.assistantID
	}
	if flags.Changed("api-key") {
		cfg.Assistant.APIKey = c.apiKey
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = c.idleTimeout
	}
	if flags.Changed("pace") {
		cfg.PaceDelay = c.paceDelay
	}
	if flags.Changed("debug") {
		cfg.Debug = c.debug
	}

	if cfg.Assistant.APIKey == "" {
		if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			fmt.Fprint(cmd.ErrOrStderr(), "API key: ")
			key, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return config.Config{}, fmt.Errorf("could not read API key: %w", err)
			}
			cfg.Assistant.APIKey = strings.TrimSpace(string(key))
		}
	}

	return cfg, nil
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	log := logger.Quiet(logger.NewLogger(cmd.ErrOrStderr(), cfg.Debug), cfg.Debug)
	defer log.Sync()

	store := conversation.NewStore()
	out := newRenderer(cmd.OutOrStdout())
	unsubscribe := store.Subscribe(out.Observe)
	defer unsubscribe()
	out.Observe(store.Snapshot())

	engine := session.New(store, session.NewHTTPTransport(cfg.BaseURL), cfg.Session(), log)

	lines := readLines(cmd.InOrStdin())

	for {
		out.Prompt()

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case <-c.interrupts:
			out.Notice("")
			return nil
		case line, ok = <-lines:
			if !ok {
				out.Notice("")
				return nil
			}
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case quitCommand:
			return nil
		case newCommand:
			if err := engine.NewChat(); err != nil {
				out.Notice("could not start a new conversation: %v", err)
				continue
			}
			out.Notice("(new conversation)")
			continue
		}

		open, err := c.send(ctx, engine, line, lines, log)
		if err != nil {
			return err
		}
		if !open {
			return nil
		}
	}
}

// send runs one Send to completion, cancelling it on Ctrl-C. Lines typed
// while the reply streams are discarded. It reports whether input is still
// open. Only errors that should end the program are returned; reply failures
// are already visible in the conversation.
func (c *chatCommander) send(ctx context.Context, engine *session.Engine, line string, lines <-chan string, log *zap.Logger) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- engine.Send(ctx, line, engine.Store().History())
	}()

	open := true
	for {
		select {
		case <-c.interrupts:
			engine.Cancel()
		case typed, ok := <-lines:
			if !ok {
				open = false
				lines = nil
				continue
			}
			log.Debug("discarding input typed during a reply", zap.String("line", typed))
		case err := <-done:
			switch {
			case err == nil:
				return open, nil
			case errors.Is(err, session.ErrNoTarget):
				return open, errors.New("no API key configured: set --api-key, $LMCHAT_API_KEY, or api_key in the config file")
			case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrCancelled):
				return open, nil
			default:
				log.Debug("reply failed", zap.Error(err))
				return open, nil
			}
		}
	}
}

// readLines streams lines from r until EOF, then closes the channel.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
