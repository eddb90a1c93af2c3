// Command agentwatch infers what a coding agent is doing in each terminal
// pane and publishes the result to local clients.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "agentwatch",
	Short: "Track coding-agent activity across terminal panes",
	Long: `agentwatch combines terminal output patterns with the agent's lifecycle
hooks to decide, per pane, whether the agent is processing, waiting for
input, or idle, and streams those states to clients over websocket.

Examples:
  agentwatch serve                  # Start the local server
  agentwatch hooks install          # Forward agent hooks to the server
  agentwatch history --limit 20     # Show recent state transitions`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.agentwatch/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(
		newServeCmd(),
		newHooksCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentwatch %s\n", Version)
		},
	}
}

const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

// colorize wraps s in color when w is a terminal.
func colorize(w io.Writer, color, s string) string {
	f, ok := w.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return s
	}
	return color + s + colorReset
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
