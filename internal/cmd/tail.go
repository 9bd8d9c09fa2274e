package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
)

// Tail command flags
var (
	tailHistory  int
	tailNoColor  bool
	tailNoFollow bool
	tailWidth    int
)

var tailCmd = &cobra.Command{
	Use:   "tail SESSION",
	Short: "Print a session and follow new messages",
	Long: `Print the newest messages of a session as plain lines, then keep
printing live messages as they arrive. Press Ctrl+C to stop.

Examples:
  thinkt-browse tail 3f2c9a1e
  thinkt-browse tail 3f2c9a1e --history 200 --no-follow`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

// tailOptions controls followSession output.
type tailOptions struct {
	Color  bool
	Follow bool
	Width  int // truncate lines to this many cells, 0 = no limit
}

func runTail(cmd *cobra.Command, args []string) error {
	view, err := openSession(args[0], tailHistory)
	if err != nil {
		return err
	}
	defer view.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	width := tailWidth
	if width == 0 && isTTY {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			width = w
		}
	}

	err = followSession(ctx, view, os.Stdout, tailOptions{
		Color:  isTTY && !tailNoColor,
		Follow: !tailNoFollow,
		Width:  width,
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// followSession starts view, prints its window oldest-first and then prints
// each message appended after that until ctx is done.
func followSession(ctx context.Context, view *transcript.SessionView, w io.Writer, opts tailOptions) error {
	if err := view.Start(ctx); err != nil {
		return err
	}

	snap := view.Snapshot()
	for _, msg := range snap.Messages {
		fmt.Fprintln(w, formatLine(msg, opts))
	}
	if !opts.Follow {
		return nil
	}

	// Live messages only ever land at the end of the window, and nothing
	// here loads older pages, so the printed prefix is stable.
	printed := len(snap.Messages)
	generation := snap.RefreshGeneration
	live := snap.IsLive
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-view.Changes():
		}

		snap = view.Snapshot()
		printed = min(printed, len(snap.Messages))
		for _, msg := range snap.Messages[printed:] {
			fmt.Fprintln(w, formatLine(msg, opts))
		}
		printed = len(snap.Messages)

		if snap.RefreshGeneration != generation {
			generation = snap.RefreshGeneration
			fmt.Fprintln(w, formatNotice(fmt.Sprintf("refreshed %s", joinFacets(snap.RefreshedFacets)), opts))
		}
		if live && !snap.IsLive {
			fmt.Fprintln(w, formatNotice("live channel closed", opts))
		}
		live = snap.IsLive
	}
}

var tailRoleColors = map[string]string{
	"user":        "#5dade2",
	"assistant":   "#58d68d",
	"tool_use":    "#f5b041",
	"tool_result": "#af7ac5",
	"system":      "#808080",
}

// formatLine renders one message as "15:04:05 role  text" on a single line.
func formatLine(msg transcript.Message, opts tailOptions) string {
	role := msg.Role
	if role == "" {
		role = "?"
	}
	text := strings.Join(strings.Fields(msg.Text), " ")
	line := fmt.Sprintf("%s %-11s %s", msg.Timestamp.Local().Format("15:04:05"), role, text)
	if opts.Width > 0 {
		line = ansi.Truncate(line, opts.Width, "…")
	}
	if !opts.Color {
		return line
	}
	color, ok := tailRoleColors[msg.Role]
	if !ok {
		return line
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(line)
}

func formatNotice(s string, opts tailOptions) string {
	s = "-- " + s + " --"
	if !opts.Color {
		return s
	}
	return lipgloss.NewStyle().Faint(true).Render(s)
}

func joinFacets(facets []transcript.Facet) string {
	names := make([]string, len(facets))
	for i, f := range facets {
		names[i] = string(f)
	}
	return strings.Join(names, ",")
}

func init() {
	tailCmd.Flags().IntVarP(&tailHistory, "history", "n", 0, "number of past messages to print (default: page size)")
	tailCmd.Flags().BoolVar(&tailNoColor, "no-color", false, "disable colored output")
	tailCmd.Flags().BoolVar(&tailNoFollow, "no-follow", false, "print the history and exit")
	tailCmd.Flags().IntVar(&tailWidth, "width", 0, "truncate lines to this width (default: terminal width)")
}
