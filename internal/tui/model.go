package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/blive-rec/blive/internal/config"
	"github.com/blive-rec/blive/internal/download"
	"github.com/blive-rec/blive/internal/engine/events"
	"github.com/blive-rec/blive/internal/engine/types"
)

type UIState int

const (
	DashboardState UIState = iota
	DetailState
	SettingsState
)

// RoomModel is the dashboard row of one recorded room.
type RoomModel struct {
	types.TaskStatus

	Reconnects int
	Reason     string // stop reason once finished
	LastError  string

	done   bool
	cancel func() // ends the event subscription
}

type RootModel struct {
	manager      *download.Manager
	Settings     *config.Settings
	settingsPath string

	rooms  []*RoomModel
	cursor int
	width  int
	height int
	state  UIState

	// Total speed in MB/s, one sample per tick
	SpeedHistory []float64

	spinner  spinner.Model
	help     help.Model
	progress progress.Model

	notification string
	notifyUntil  time.Time

	SettingsActiveTab   int
	SettingsSelectedRow int
	SettingsIsEditing   bool
	SettingsInput       textinput.Model
}

type tickMsg time.Time

// roomEventMsg carries one event read from a room subscription.
type roomEventMsg struct {
	RoomID string
	Event  events.Event
	ch     <-chan events.Event
}

// roomClosedMsg is sent when a room's event stream ends.
type roomClosedMsg struct {
	RoomID string
}

type roomStoppedMsg struct {
	RoomID string
	Err    error
}

type notifyMsg string

// NewRootModel builds the dashboard over manager. Settings edits are saved
// to settingsPath when leaving the settings page.
func NewRootModel(manager *download.Manager, settings *config.Settings, settingsPath string) RootModel {
	if settings == nil {
		settings = config.DefaultSettings()
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = LogoStyle

	input := textinput.New()
	input.Prompt = ""
	input.Width = 30

	return RootModel{
		manager:       manager,
		Settings:      settings,
		settingsPath:  settingsPath,
		spinner:       sp,
		help:          help.New(),
		progress:      progress.New(progress.WithGradient(string(ColorNeonPurple), string(ColorNeonPink))),
		SettingsInput: input,
	}
}

func (m RootModel) Init() tea.Cmd {
	return tea.Batch(tick(), m.spinner.Tick)
}

func tick() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// listenForEvents reads the next event of a room subscription.
func listenForEvents(roomID string, ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return roomClosedMsg{RoomID: roomID}
		}
		return roomEventMsg{RoomID: roomID, Event: ev, ch: ch}
	}
}

func (m RootModel) room(id string) *RoomModel {
	for _, r := range m.rooms {
		if r.RoomID == id {
			return r
		}
	}
	return nil
}

// GetSelectedRoom returns the room under the cursor.
func (m RootModel) GetSelectedRoom() *RoomModel {
	if m.cursor < 0 || m.cursor >= len(m.rooms) {
		return nil
	}
	return m.rooms[m.cursor]
}

// CalculateStats counts rooms per display bucket.
func (m RootModel) CalculateStats() (recording, reconnecting, stopped int) {
	for _, r := range m.rooms {
		switch {
		case r.done:
			stopped++
		case r.State == "reconnecting":
			reconnecting++
		default:
			recording++
		}
	}
	return
}

func (m RootModel) calcTotalSpeed() float64 {
	total := 0.0
	for _, r := range m.rooms {
		if !r.done {
			total += r.Speed
		}
	}
	return total / Megabyte
}
