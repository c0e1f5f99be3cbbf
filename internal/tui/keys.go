package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all dashboard key bindings with built-in help text.
type KeyMap struct {
	// Global
	Quit          key.Binding
	ForceQuit     key.Binding
	Help          key.Binding
	Escape        key.Binding
	ToggleSidebar key.Binding
	NextSection   key.Binding

	// Navigation
	Up       key.Binding
	Down     key.Binding
	Home     key.Binding
	End      key.Binding
	PageUp   key.Binding
	PageDown key.Binding

	// Selection
	Toggle     key.Binding
	SelectAll  key.Binding
	ClearAll   key.Binding
	Deactivate key.Binding

	// Delivery
	ThrottleUp   key.Binding
	ThrottleDown key.Binding
	ThrottleOff  key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "force quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?", "h"),
			key.WithHelp("?/h", "help"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close"),
		),
		ToggleSidebar: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "toggle sidebar"),
		),
		NextSection: key.NewBinding(
			key.WithKeys("tab", "shift+tab"),
			key.WithHelp("tab", "queries/feed"),
		),

		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Home: key.NewBinding(
			key.WithKeys("home", "g"),
			key.WithHelp("home", "oldest"),
		),
		End: key.NewBinding(
			key.WithKeys("end", "G"),
			key.WithHelp("end", "follow latest"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "page down"),
		),

		Toggle: key.NewBinding(
			key.WithKeys(" ", "enter"),
			key.WithHelp("space", "watch/unwatch"),
		),
		SelectAll: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "watch all"),
		),
		ClearAll: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "unwatch all"),
		),
		Deactivate: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "deactivate query"),
		),

		ThrottleUp: key.NewBinding(
			key.WithKeys("+", "=", "]"),
			key.WithHelp("+", "slower delivery"),
		),
		ThrottleDown: key.NewBinding(
			key.WithKeys("-", "["),
			key.WithHelp("-", "faster delivery"),
		),
		ThrottleOff: key.NewBinding(
			key.WithKeys("0"),
			key.WithHelp("0", "real time"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.NextSection, k.Toggle, k.ThrottleUp, k.ThrottleDown, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.NextSection, k.Up, k.Down, k.Home, k.End, k.PageUp, k.PageDown},
		{k.Toggle, k.SelectAll, k.ClearAll, k.Deactivate},
		{k.ThrottleUp, k.ThrottleDown, k.ThrottleOff},
		{k.ToggleSidebar, k.Help, k.Escape, k.Quit, k.ForceQuit},
	}
}
