package tui

import (
	"sync"

	"charm.land/lipgloss/v2"
)

// Palette colors.
const (
	colorAccent    = "#7aa2f7"
	colorMuted     = "#737aa2"
	colorUser      = "#9ece6a"
	colorAssistant = "#7dcfff"
	colorTool      = "#e0af68"
	colorError     = "#f7768e"
	colorLive      = "#7fcc5a"
	colorOffline   = "#ff6b6b"
)

// Styles holds all the computed lipgloss styles for the TUI.
type Styles struct {
	// Conversation block styles
	UserBlock       lipgloss.Style
	AssistantBlock  lipgloss.Style
	ToolCallBlock   lipgloss.Style
	ToolResultBlock lipgloss.Style
	SystemBlock     lipgloss.Style
	ErrorBlock      lipgloss.Style

	// Block labels
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	ToolLabel      lipgloss.Style
	SystemLabel    lipgloss.Style
	Timestamp      lipgloss.Style

	// Header and status
	Title    lipgloss.Style
	Info     lipgloss.Style
	Help     lipgloss.Style
	Live     lipgloss.Style
	Offline  lipgloss.Style
	Warning  lipgloss.Style
	MoreText lipgloss.Style
	Page     lipgloss.Style
}

var (
	stylesOnce sync.Once
	styles     Styles
)

// GetStyles returns the shared styles.
func GetStyles() *Styles {
	stylesOnce.Do(func() {
		styles = buildStyles()
	})
	return &styles
}

func buildStyles() Styles {
	block := func(fg string) lipgloss.Style {
		return lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(lipgloss.Color(fg)).
			PaddingLeft(1)
	}
	label := func(fg string) lipgloss.Style {
		return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(fg))
	}
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))

	return Styles{
		UserBlock:       block(colorUser),
		AssistantBlock:  block(colorAssistant),
		ToolCallBlock:   block(colorTool),
		ToolResultBlock: block(colorMuted),
		SystemBlock:     block(colorMuted).Italic(true),
		ErrorBlock:      block(colorError).Foreground(lipgloss.Color(colorError)),

		UserLabel:      label(colorUser),
		AssistantLabel: label(colorAssistant),
		ToolLabel:      label(colorTool),
		SystemLabel:    label(colorMuted),
		Timestamp:      muted,

		Title:    label(colorAccent),
		Info:     muted,
		Help:     muted,
		Live:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorLive)),
		Offline:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorOffline)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorError)),
		MoreText: muted.Italic(true),
		Page:     lipgloss.NewStyle().Padding(1, 2),
	}
}
