// Package cli provides the command-line interface for the snuttify agent.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/snuttify/snuttify-agent/internal/config"
	"github.com/snuttify/snuttify-agent/internal/logging"
)

var (
	// Global flags
	verbose bool

	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "snuttify",
	Short: "Turn uploaded videos into a searchable library of product snippets",
	Long: `Snuttify ingests videos, extracts audio and key frames, transcribes the
speech and asks a vision model to cut the transcript into product snippets
with structured metadata. Results are kept on disk per video and indexed
for search.

Running without a subcommand starts the HTTP server.`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		c, err := config.New()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		level := c.LogLevel()
		if verbose {
			level = "debug"
		}

		// serve logs to stdout; other commands print results there
		out := os.Stderr
		if !cmd.HasParent() || cmd.Name() == "serve" {
			out = os.Stdout
		}
		l, cleanup, err := logging.NewLoggerTo(out, level, c.LogFile())
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		closeLog = cleanup
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
	RunE: runServe,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(askCmd)
}
