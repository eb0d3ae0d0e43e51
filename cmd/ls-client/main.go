// Command ls-client is a command-line push client.
//
// It connects to a server, opens the subscriptions given on the command
// line or in a configuration file and prints every update. The shell
// command offers an interactive prompt instead.
//
// Usage:
//
//	ls-client <command> [flags]
//
// Examples:
//
//	# Stream two items in MERGE mode
//	ls-client stream --server http://localhost:8080 --adapter-set DEMO \
//	    --items item1,item2 --fields last_price,time
//
//	# Use a configuration file and capture the traffic
//	ls-client stream --config client.yaml --capture session.lscap.zst
//
//	# Send one message and wait for its outcome
//	ls-client send --server http://localhost:8080 --sequence orders "buy 10"
//
//	# Interactive prompt
//	ls-client shell --config client.yaml
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:           "ls-client",
		Short:         "Command-line push client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	opts.bind(root)
	root.AddCommand(newStreamCmd(&opts), newSendCmd(&opts), newShellCmd(&opts))
	return root
}
