package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wethinkt/thinkt-browse/internal/feed"
	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// Serve command flags
var (
	servePort  int
	serveHost  string
	serveToken string
	serveWatch string
	serveQuiet bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a transcript feed server",
	Long: `Run an in-memory feed server that pages session transcripts and pushes
new messages to live viewers.

The server provides:
  - GET  /v1/sessions/{id}/messages    newest-first pages (?first=&after=)
  - POST /v1/sessions/{id}/messages    ingest a batch of entries
  - POST /v1/sessions/{id}/invalidate  signal a changed facet
  - GET  /v1/sessions/{id}/ws          live channel
  - GET  /metrics                      Prometheus metrics

With --watch, every <session>.jsonl file in the directory is ingested and
followed as it grows.

Examples:
  thinkt-browse serve                            # port 8786
  thinkt-browse serve --token secret             # require bearer token auth
  thinkt-browse serve --watch ./transcripts -q   # tail JSONL files quietly`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	fc := cfg.Feed
	if !cmd.Flags().Changed("port") && fc.Port != 0 {
		servePort = fc.Port
	}
	if !cmd.Flags().Changed("host") && fc.Host != "" {
		serveHost = fc.Host
	}
	if serveToken == "" {
		serveToken = fc.Token
	}
	if serveWatch == "" {
		serveWatch = fc.WatchDir
	}

	// The server has no TUI, so log to stderr unless a file was given.
	if logPath == "" && !serveQuiet {
		tuilog.Log.SetOutput(os.Stderr)
		if !cmd.Flags().Changed("log-level") {
			tuilog.Log.SetLevel(tuilog.LevelInfo)
		}
	}

	srv := feed.NewServer(feed.ServerConfig{
		Port:     servePort,
		Host:     serveHost,
		Token:    serveToken,
		Quiet:    serveQuiet,
		WatchDir: serveWatch,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !serveQuiet {
		if serveToken != "" {
			fmt.Fprintln(os.Stderr, "Authentication: enabled (bearer token)")
		} else {
			fmt.Fprintln(os.Stderr, "Authentication: disabled (use --token to secure)")
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	if serveWatch != "" {
		tailer := feed.NewTailer(serveWatch, srv)
		g.Go(func() error {
			return tailer.Run(ctx)
		})
	}
	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", feed.DefaultPort, "server port")
	serveCmd.Flags().StringVar(&serveHost, "host", feed.DefaultHost, "server host")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "bearer token for API authentication")
	serveCmd.Flags().StringVar(&serveWatch, "watch", "", "directory of <session>.jsonl transcripts to ingest and follow")
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "suppress HTTP request logging")
}
