package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wethinkt/thinkt-browse/internal/config"
	"github.com/wethinkt/thinkt-browse/internal/tui"
	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

var viewCmd = &cobra.Command{
	Use:   "view SESSION",
	Short: "Open a session in the terminal UI",
	Long: `Open a session transcript in an interactive viewer.

The newest page is shown first. Scrolling to the top loads older messages
without moving what is on screen; new messages are appended while the
session is live.

Keys: g/home load older, G/end follow, r retry, ctrl+r reload, 1-4 filters, q quit.`,
	Args: cobra.ExactArgs(1),
	RunE: runView,
}

func runView(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("view needs a terminal; use `thinkt-browse tail` for plain output")
	}

	view, err := openSession(args[0], pageSize)
	if err != nil {
		return err
	}

	if err := config.RegisterInstance(config.Instance{
		Type:      config.InstanceView,
		PID:       os.Getpid(),
		StartedAt: time.Now(),
	}); err != nil {
		tuilog.Log.Warn("Failed to register view instance", "error", err)
	}
	defer config.UnregisterInstance(os.Getpid())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	tuilog.Log.Info("Starting viewer", "session_id", args[0], "connection_id", view.ConnectionID())
	return tui.RunSession(ctx, view)
}

func init() {
	for _, c := range []*cobra.Command{viewCmd, tailCmd} {
		c.Flags().StringVar(&serverURL, "server", "", "feed server URL (default: config, env, or a running local server)")
		c.Flags().StringVar(&serverToken, "token", "", "bearer token for the feed server")
	}
	viewCmd.Flags().IntVar(&pageSize, "page-size", 0, "messages per page (default from config)")
}
