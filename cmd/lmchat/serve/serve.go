package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/lmchat/devserver"
	"github.com/papercomputeco/lmchat/pkg/logger"
)

const serveLongDesc string = `Run a scripted assistant backend for local development.

The server streams an echo of every message as "data: " framed
fragments on POST /assistant/chat/completion. A message starting
with "/fail " ends its reply with an error frame instead.

Served exchanges are recorded in a Merkle DAG and can be inspected
under /transcripts (add ?assistant=<id> to narrow it) and
/transcripts/stats.

Examples:
  lmchat serve --api-key sk-local
  lmchat serve --api-key sk-a=asst_a --api-key sk-b=asst_b --sqlite /tmp/transcripts.db`

const serveShortDesc string = "Run a scripted streaming backend"

// defaultAssistant names the assistant for keys given without one.
const defaultAssistant = "default"

type serveCommander struct {
	listenAddr string
	sqlitePath string
	apiKeys    []string
	frameDelay time.Duration
	debug      bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.listenAddr, "listen", "l", ":6070", "Address to listen on")
	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to SQLite database for transcripts (default: in-memory)")
	cmd.Flags().StringArrayVarP(&cmder.apiKeys, "api-key", "k", nil, "Accepted API key, optionally as key=assistant (repeatable)")
	cmd.Flags().DurationVar(&cmder.frameDelay, "frame-delay", 40*time.Millisecond, "Delay between streamed frames")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	keys, err := parseAPIKeys(c.apiKeys)
	if err != nil {
		return err
	}

	log := logger.NewLogger(os.Stdout, c.debug)
	defer log.Sync()

	srv, err := devserver.New(devserver.Config{
		ListenAddr: c.listenAddr,
		APIKeys:    keys,
		FrameDelay: c.frameDelay,
		DBPath:     c.sqlitePath,
	}, log)
	if err != nil {
		return fmt.Errorf("could not create dev server: %w", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutting down dev server")
		if err := srv.Shutdown(); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}()

	return srv.Run()
}

// parseAPIKeys turns "key" and "key=assistant" flags into the server's key map.
func parseAPIKeys(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, errors.New("at least one --api-key is required")
	}

	keys := make(map[string]string, len(flags))
	for _, f := range flags {
		key, assistant, found := strings.Cut(f, "=")
		if key == "" || (found && assistant == "") {
			return nil, fmt.Errorf("invalid --api-key %q: want key or key=assistant", f)
		}
		if !found {
			assistant = defaultAssistant
		}
		keys[key] = assistant
	}
	return keys, nil
}
