// Package cmd provides the CLI commands for thinkt-browse.
package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wethinkt/thinkt-browse/internal/config"
	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// global flags
var (
	logPath  string
	logLevel string
)

// cfg is loaded before any subcommand runs.
var cfg = config.Default()

// rootCmd is the root command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "thinkt-browse",
	Short: "Browse AI coding session transcripts, live",
	Long: `thinkt-browse views session transcripts served by a thinkt feed server.

History is paged in newest-first as you scroll back; new messages stream in
over a WebSocket while the session is open.

Commands:
  serve    Run a feed server (optionally tailing a directory of JSONL transcripts)
  view     Open a session in the terminal UI
  tail     Print a session and follow new messages
  version  Print version information

Configuration is read from ~/.thinkt/browse.json. THINKT_BROWSE_SERVER,
THINKT_BROWSE_TOKEN and THINKT_BROWSE_PAGE_SIZE override it, and are also
read from a .env file in the working directory.

Examples:
  thinkt-browse serve --watch ~/.claude/projects/myproj
  thinkt-browse view 3f2c9a1e
  thinkt-browse tail 3f2c9a1e --server http://localhost:8786`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err == nil {
			tuilog.Log.Debug("Loaded environment from .env")
		}

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		if logPath != "" {
			if err := tuilog.Init(logPath); err != nil {
				return fmt.Errorf("open log: %w", err)
			}
		}
		level, err := tuilog.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		tuilog.Log.SetLevel(level)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return tuilog.Log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "write log to file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "debug", "minimum log level (debug|info|warn|error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(versionCmd)
}
