package tui

import "github.com/charmbracelet/bubbles/key"

// DashboardKeyMap are the bindings of the main screen.
type DashboardKeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Details  key.Binding
	Stop     key.Binding
	Copy     key.Binding
	Settings key.Binding
	Quit     key.Binding
}

func (k DashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Details, k.Stop, k.Copy, k.Settings, k.Quit}
}

func (k DashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// SettingsKeyMap are the bindings of the settings page.
type SettingsKeyMap struct {
	Up    key.Binding
	Down  key.Binding
	Tab   key.Binding
	Edit  key.Binding
	Reset key.Binding
	Back  key.Binding
}

func (k SettingsKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Edit, k.Reset, k.Back}
}

func (k SettingsKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down}, k.ShortHelp()}
}

var DashboardKeys = DashboardKeyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Details:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "details")),
	Stop:     key.NewBinding(key.WithKeys("s", "x"), key.WithHelp("s", "stop")),
	Copy:     key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy path")),
	Settings: key.NewBinding(key.WithKeys(","), key.WithHelp(",", "settings")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var SettingsKeys = SettingsKeyMap{
	Up:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Tab:   key.NewBinding(key.WithKeys("tab", "1", "2", "3", "4", "5", "6"), key.WithHelp("tab/1-6", "category")),
	Edit:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "edit")),
	Reset: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	Back:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "save & back")),
}
