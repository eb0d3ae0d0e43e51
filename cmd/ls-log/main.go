// Command ls-log views and analyzes protocol capture files.
//
// Capture files are written by ls-client with the --capture flag, or by
// any application installing a log.FileRecorder. A name ending in .zst
// is zstd compressed.
//
// Usage:
//
//	ls-log <command> [flags] <file.lscap>
//
// Examples:
//
//	# View all events
//	ls-log view session.lscap
//
//	# View only lines received from the server
//	ls-log view --direction in --kind line session.lscap
//
//	# Export to CSV
//	ls-log export --format csv -o session.csv session.lscap
//
//	# Keep one session and save it compressed
//	ls-log filter --session S1 -o s1.lscap.zst session.lscap
//
//	# Show statistics
//	ls-log stats session.lscap
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lightstreamer/ls-go-client/cmd/ls-log/commands"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "ls-log",
		Short:         "Protocol capture analyzer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.AddCommand(newViewCmd(), newExportCmd(), newFilterCmd(), newStatsCmd())
	return root
}

// addFilterFlags binds the filter flags shared by view, export and
// filter.
func addFilterFlags(cmd *cobra.Command, o *commands.FilterOptions) {
	f := cmd.Flags()
	f.StringVar(&o.ConnID, "conn-id", "", "Filter by connection ID")
	f.StringVar(&o.SessionID, "session", "", "Filter by session ID")
	f.StringVar(&o.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	f.StringVar(&o.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	f.StringVar(&o.Layer, "layer", "", "Filter by layer (transport, protocol, session)")
	f.StringVar(&o.Direction, "direction", "", "Filter by direction (in, out)")
	f.StringVar(&o.Kind, "kind", "", "Filter by kind (line, state, error)")
}

func newViewCmd() *cobra.Command {
	var opts commands.FilterOptions
	noColor := false
	cmd := &cobra.Command{
		Use:   "view [flags] <file>",
		Short: "View capture file in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Build()
			if err != nil {
				return err
			}
			colored := !noColor && !color.NoColor && cmd.OutOrStdout() == os.Stdout
			return commands.RunView(args[0], filter, colored, cmd.OutOrStdout())
		},
	}
	addFilterFlags(cmd, &opts)
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}

func newExportCmd() *cobra.Command {
	var opts commands.FilterOptions
	var format, output string
	cmd := &cobra.Command{
		Use:   "export [flags] <file>",
		Short: "Export capture file to JSON lines or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Build()
			if err != nil {
				return err
			}
			return commands.RunExport(args[0], format, output, filter)
		},
	}
	addFilterFlags(cmd, &opts)
	cmd.Flags().StringVar(&format, "format", "jsonl", "Output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func newFilterCmd() *cobra.Command {
	var opts commands.FilterOptions
	var output string
	cmd := &cobra.Command{
		Use:   "filter [flags] <file>",
		Short: "Filter capture file and write to new file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Build()
			if err != nil {
				return err
			}
			return commands.RunFilter(args[0], output, filter, cmd.OutOrStdout())
		},
	}
	addFilterFlags(cmd, &opts)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (required)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file>",
		Short: "Show statistics about the capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunStats(args[0], cmd.OutOrStdout())
		},
	}
}
