package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/lmchat/cmd/lmchat/chat"
	servecmder "github.com/papercomputeco/lmchat/cmd/lmchat/serve"
)

const rootLongDesc string = `lmchat is a terminal client for assistant chat backends that stream
their replies as "data: " framed events.

Run "lmchat serve" for a local scripted backend, then "lmchat chat" against it.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lmchat",
		Short:         "Streaming assistant chat client",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(servecmder.NewServeCmd())

	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
