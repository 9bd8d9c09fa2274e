package tui

import "charm.land/bubbles/v2/key"

// sessionKeyMap defines key bindings for the session page.
type sessionKeyMap struct {
	Top    key.Binding
	Bottom key.Binding
	Retry  key.Binding
	Reload key.Binding
	Quit   key.Binding

	// Filter toggles
	ToggleInput  key.Binding
	ToggleOutput key.Binding
	ToggleTools  key.Binding
	ToggleOther  key.Binding
}

func defaultSessionKeyMap() sessionKeyMap {
	return sessionKeyMap{
		Top: key.NewBinding(
			key.WithKeys("home", "g"),
			key.WithHelp("g", "oldest loaded"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("end", "G"),
			key.WithHelp("G", "follow"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry"),
		),
		Reload: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "reload"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
		ToggleInput: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "toggle input"),
		),
		ToggleOutput: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "toggle output"),
		),
		ToggleTools: key.NewBinding(
			key.WithKeys("3"),
			key.WithHelp("3", "toggle tools"),
		),
		ToggleOther: key.NewBinding(
			key.WithKeys("4"),
			key.WithHelp("4", "toggle other"),
		),
	}
}
