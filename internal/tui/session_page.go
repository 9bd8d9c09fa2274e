package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"golang.org/x/term"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// viewStartedMsg reports the result of the initial load.
type viewStartedMsg struct {
	Err error
}

// viewChangedMsg is sent whenever the session view signals a new snapshot.
type viewChangedMsg struct{}

// olderLoadedMsg reports the result of a backward page load.
type olderLoadedMsg struct {
	Err error
}

// SessionModel shows one session transcript: history is paged in as the
// user scrolls to the top and live messages are appended at the bottom.
type SessionModel struct {
	view   *transcript.SessionView
	anchor *transcript.Anchor
	ctx    context.Context
	cancel context.CancelFunc

	viewport      *viewport.Model
	spinner       spinner.Model
	keys          sessionKeyMap
	filters       RoleFilterSet
	width, height int
	ready         bool

	snap          transcript.Snapshot
	started       bool
	startErr      error
	autoScroll    bool
	olderInFlight bool // between BeginLoad and olderLoadedMsg
}

// NewSessionModel creates a page for view. The view is started by Init.
func NewSessionModel(ctx context.Context, view *transcript.SessionView) *SessionModel {
	ctx, cancel := context.WithCancel(ctx)
	vp := viewport.New()
	m := &SessionModel{
		view:   view,
		ctx:    ctx,
		cancel: cancel,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent))),
		),
		viewport:   &vp,
		keys:       defaultSessionKeyMap(),
		filters:    NewRoleFilterSet(),
		autoScroll: true,
	}
	m.anchor = view.NewAnchor(viewportAdapter{vp: m.viewport})
	return m
}

func (m *SessionModel) Init() tea.Cmd {
	return tea.Batch(m.start(), m.waitForChange(), m.spinner.Tick)
}

func (m *SessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Padding plus header, status and help lines.
		m.viewport.SetWidth(max(10, msg.Width-4))
		m.viewport.SetHeight(max(3, msg.Height-5))
		m.ready = true
		m.refresh()
		return m, nil

	case viewStartedMsg:
		m.started = true
		m.startErr = msg.Err
		m.refresh()
		return m, nil

	case viewChangedMsg:
		m.refresh()
		return m, m.waitForChange()

	case olderLoadedMsg:
		m.olderInFlight = false
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			m.view.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Retry):
			return m, m.retry()
		case key.Matches(msg, m.keys.Reload):
			m.autoScroll = true
			m.anchor.Reset()
			return m, m.reload()
		case key.Matches(msg, m.keys.Bottom):
			m.autoScroll = true
			m.viewport.GotoBottom()
			return m, nil
		case key.Matches(msg, m.keys.Top):
			m.autoScroll = false
			m.viewport.GotoTop()
			return m, m.nearStart()
		case key.Matches(msg, m.keys.ToggleInput):
			m.filters.User = !m.filters.User
			m.refresh()
			return m, nil
		case key.Matches(msg, m.keys.ToggleOutput):
			m.filters.Assistant = !m.filters.Assistant
			m.refresh()
			return m, nil
		case key.Matches(msg, m.keys.ToggleTools):
			m.filters.Tools = !m.filters.Tools
			m.refresh()
			return m, nil
		case key.Matches(msg, m.keys.ToggleOther):
			m.filters.Other = !m.filters.Other
			m.refresh()
			return m, nil
		}
	}

	if !m.ready {
		return m, nil
	}
	vp, cmd := m.viewport.Update(msg)
	*m.viewport = vp
	m.autoScroll = m.viewport.AtBottom()
	if m.viewport.AtTop() {
		return m, tea.Batch(cmd, m.nearStart())
	}
	return m, cmd
}

// refresh re-renders the latest snapshot into the viewport and applies any
// pending scroll correction.
func (m *SessionModel) refresh() {
	m.snap = m.view.Snapshot()
	if !m.ready {
		return
	}

	m.viewport.SetContent(renderMessages(m.snap.Messages, m.viewport.Width(), &m.filters))

	if m.anchor.Pending() {
		if m.olderInFlight {
			return
		}
		if delta := m.anchor.Settle(); delta > 0 {
			tuilog.Log.Debug("Anchored prepend", "session_id", m.snap.SessionID, "delta", delta)
		}
	} else if m.autoScroll && m.anchor.InitialScrollDone() {
		m.viewport.GotoBottom()
	}
	m.anchor.Populated(len(m.snap.Messages))
}

// nearStart starts a backward load when the top is reached. A failed load
// waits for an explicit retry.
func (m *SessionModel) nearStart() tea.Cmd {
	if !m.started || m.snap.LoadError != nil {
		return nil
	}
	return m.loadOlder()
}

func (m *SessionModel) loadOlder() tea.Cmd {
	if !m.anchor.BeginLoad() {
		return nil
	}
	m.olderInFlight = true
	anchor, ctx := m.anchor, m.ctx
	return func() tea.Msg {
		return olderLoadedMsg{Err: anchor.LoadOlder(ctx)}
	}
}

// retry repeats whatever failed last: the initial load or a backward load.
func (m *SessionModel) retry() tea.Cmd {
	if m.startErr != nil {
		return m.reload()
	}
	if m.snap.LoadError != nil {
		return m.loadOlder()
	}
	return nil
}

func (m *SessionModel) reload() tea.Cmd {
	view, ctx := m.view, m.ctx
	return func() tea.Msg {
		err := view.Reload(ctx)
		if errors.Is(err, transcript.ErrClosed) {
			return nil
		}
		return viewStartedMsg{Err: err}
	}
}

func (m *SessionModel) start() tea.Cmd {
	view, ctx := m.view, m.ctx
	return func() tea.Msg {
		return viewStartedMsg{Err: view.Start(ctx)}
	}
}

// waitForChange blocks until the view signals a change.
func (m *SessionModel) waitForChange() tea.Cmd {
	ch, ctx := m.view.Changes(), m.ctx
	return func() tea.Msg {
		select {
		case <-ch:
			return viewChangedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *SessionModel) View() tea.View {
	if !m.ready || !m.started {
		v := tea.NewView(m.spinner.View() + " Loading session...")
		v.AltScreen = true
		return v
	}

	s := GetStyles()
	content := m.renderHeader(s) + "\n" + m.renderStatus(s) + "\n" + m.viewport.View() + "\n" +
		s.Help.Render("g: older  G: follow  r: retry  ctrl+r: reload  1-4: filters  q: quit")
	v := tea.NewView(s.Page.Render(content))
	v.AltScreen = true
	v.MouseMode = tea.MouseModeCellMotion
	return v
}

func (m *SessionModel) renderHeader(s *Styles) string {
	sessionID := m.snap.SessionID
	if len(sessionID) > 12 {
		sessionID = sessionID[:12]
	}
	title := s.Title.Render("Session: " + sessionID)
	info := s.Info.Render(fmt.Sprintf("  %d of %d messages", len(m.snap.Messages), m.snap.TotalCount))

	status := s.Offline.Render("offline")
	if m.snap.IsLive {
		status = s.Live.Render("live")
	}
	return title + info + "  " + status
}

// renderStatus shows paging progress, errors and auxiliary refreshes.
func (m *SessionModel) renderStatus(s *Styles) string {
	var parts []string
	switch {
	case m.startErr != nil:
		parts = append(parts, s.Warning.Render("load failed: "+m.startErr.Error()+" (r to retry)"))
	case m.snap.IsLoadingOlder:
		parts = append(parts, m.spinner.View()+" loading older…")
	case m.snap.LoadError != nil:
		parts = append(parts, s.Warning.Render("older messages failed: "+m.snap.LoadError.Error()+" (r to retry)"))
	case !m.snap.HasOlder && len(m.snap.Messages) > 0:
		parts = append(parts, s.Info.Render("start of session"))
	}
	if m.snap.RefreshGeneration > 0 {
		facets := make([]string, len(m.snap.RefreshedFacets))
		for i, f := range m.snap.RefreshedFacets {
			facets[i] = string(f)
		}
		parts = append(parts, s.Info.Render(fmt.Sprintf("refresh #%d: %s", m.snap.RefreshGeneration, strings.Join(facets, ","))))
	}
	return strings.Join(parts, "  ")
}

// termSizeOpts returns tea options with the initial terminal size, when it
// can be read from one of the standard streams.
func termSizeOpts() []tea.ProgramOption {
	var opts []tea.ProgramOption
	for _, fd := range []int{int(os.Stdout.Fd()), int(os.Stdin.Fd()), int(os.Stderr.Fd())} {
		if term.IsTerminal(fd) {
			w, h, err := term.GetSize(fd)
			if err == nil && w > 0 && h > 0 {
				opts = append(opts, tea.WithWindowSize(w, h))
				break
			}
		}
	}
	return opts
}

// RunSession runs the session page until the user quits.
func RunSession(ctx context.Context, view *transcript.SessionView) error {
	m := NewSessionModel(ctx, view)
	defer m.cancel()
	defer view.Close()

	p := tea.NewProgram(m, termSizeOpts()...)
	_, err := p.Run()
	return err
}
