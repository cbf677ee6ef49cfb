package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/blive-rec/blive/internal/config"
	"github.com/blive-rec/blive/internal/engine/events"
	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/utils"
)

// Update handles messages and updates the model
func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tickMsg:
		if m.manager != nil {
			cmds = append(cmds, m.syncRooms(m.manager.Active())...)
		}
		m.SpeedHistory = append(m.SpeedHistory, m.calcTotalSpeed())
		if len(m.SpeedHistory) > SpeedHistorySize {
			m.SpeedHistory = m.SpeedHistory[len(m.SpeedHistory)-SpeedHistorySize:]
		}
		if m.notification != "" && time.Now().After(m.notifyUntil) {
			m.notification = ""
		}
		cmds = append(cmds, tick())

	case roomEventMsg:
		m.applyEvent(msg.RoomID, msg.Event)
		cmds = append(cmds, listenForEvents(msg.RoomID, msg.ch))

	case roomClosedMsg:
		if r := m.room(msg.RoomID); r != nil {
			m.finishRoom(r)
		}

	case roomStoppedMsg:
		if msg.Err != nil {
			m.notify(fmt.Sprintf("Stop %s: %v", msg.RoomID, msg.Err))
		} else {
			m.notify("Stopped room " + msg.RoomID)
		}

	case notifyMsg:
		m.notify(string(msg))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m *RootModel) notify(text string) {
	m.notification = text
	m.notifyUntil = time.Now().Add(NotificationTTL)
}

// syncRooms merges the manager's active tasks into the room list and
// subscribes to rooms seen for the first time.
func (m *RootModel) syncRooms(active []types.TaskStatus) []tea.Cmd {
	var cmds []tea.Cmd
	seen := make(map[string]bool, len(active))

	for _, st := range active {
		seen[st.RoomID] = true
		r := m.room(st.RoomID)
		if r == nil || (r.done && r.TaskID != st.TaskID) {
			if r == nil {
				r = &RoomModel{}
				m.rooms = append(m.rooms, r)
			}
			*r = RoomModel{TaskStatus: st}
			if ch, cancel, err := m.manager.Subscribe(st.RoomID); err == nil {
				r.cancel = cancel
				cmds = append(cmds, listenForEvents(st.RoomID, ch))
			}
			continue
		}
		r.TaskStatus = st
	}

	for _, r := range m.rooms {
		if r.done || seen[r.RoomID] {
			continue
		}
		if st, ok := m.manager.Snapshot(r.RoomID); ok && st.TaskID == r.TaskID {
			r.TaskStatus = st
		}
		m.finishRoom(r)
	}
	return cmds
}

func (m *RootModel) finishRoom(r *RoomModel) {
	if r.done {
		return
	}
	r.done = true
	r.Speed = 0
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// applyEvent folds a task event into its room row.
func (m *RootModel) applyEvent(roomID string, ev events.Event) {
	r := m.room(roomID)
	if r == nil {
		return
	}

	switch e := ev.(type) {
	case events.StartedMsg:
		r.Title = e.Title
		r.Part = e.Part.Path
		r.Parts = e.Part.Index

	case events.ProgressMsg:
		r.Bytes = e.Stats.BytesReceived
		r.Speed = e.Stats.Speed
		r.Parts = e.Stats.Parts
		r.Reconnects = e.Stats.Reconnects

	case events.ReconnectingMsg:
		r.State = "reconnecting"
		r.Attempt = e.Attempt
		r.LastError = e.Err
		m.notify(fmt.Sprintf("Room %s reconnecting (attempt %d)", roomID, e.Attempt))

	case events.PartRolledMsg:
		r.Part = e.New.Path
		r.PartBytes = 0
		r.Parts = e.New.Index
		m.notify(fmt.Sprintf("Room %s: part %d saved", roomID, e.Closed.Index))

	case events.ErrorMsg:
		r.LastError = e.Message

	case events.StoppedMsg:
		r.State = "stopped"
		r.Reason = e.Reason.String()
		r.Bytes = e.Stats.BytesReceived
		r.Reconnects = e.Stats.Reconnects
		if e.Err != nil {
			r.LastError = e.Err.Error()
		}
		m.finishRoom(r)
		m.notify(fmt.Sprintf("Room %s stopped: %s", roomID, r.Reason))
	}
}

func (m RootModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.state {
	case SettingsState:
		return m.handleSettingsKey(msg)

	case DetailState:
		switch {
		case msg.String() == "esc", key.Matches(msg, DashboardKeys.Details):
			m.state = DashboardState
			return m, nil
		case key.Matches(msg, DashboardKeys.Quit):
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, DashboardKeys.Quit):
		return m, tea.Quit

	case key.Matches(msg, DashboardKeys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, DashboardKeys.Down):
		if m.cursor < len(m.rooms)-1 {
			m.cursor++
		}

	case key.Matches(msg, DashboardKeys.Details):
		if m.GetSelectedRoom() != nil {
			m.state = DetailState
		}

	case key.Matches(msg, DashboardKeys.Stop):
		r := m.GetSelectedRoom()
		if r == nil || r.done || m.manager == nil {
			return m, nil
		}
		return m, stopRoom(m.manager.Stop, r.RoomID)

	case key.Matches(msg, DashboardKeys.Copy):
		r := m.GetSelectedRoom()
		if r == nil || r.Part == "" {
			return m, nil
		}
		return m, copyToClipboard(r.Part)

	case key.Matches(msg, DashboardKeys.Settings):
		m.state = SettingsState
		m.SettingsSelectedRow = 0
	}
	return m, nil
}

func stopRoom(stop func(context.Context, string) error, roomID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), StopRoomTimeout)
		defer cancel()
		return roomStoppedMsg{RoomID: roomID, Err: stop(ctx, roomID)}
	}
}

func copyToClipboard(text string) tea.Cmd {
	return func() tea.Msg {
		if err := clipboard.WriteAll(text); err != nil {
			utils.Debug("clipboard: %v", err)
			return notifyMsg("Clipboard unavailable")
		}
		return notifyMsg("Copied " + text)
	}
}

func (m RootModel) handleSettingsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	categories := config.CategoryOrder()
	metas := config.GetSettingsMetadata()[categories[m.SettingsActiveTab]]

	if m.SettingsIsEditing {
		switch msg.String() {
		case "enter":
			meta := metas[m.SettingsSelectedRow]
			if err := m.Settings.Set(meta.Key, m.SettingsInput.Value()); err != nil {
				m.notify(err.Error())
				return m, nil
			}
			m.SettingsIsEditing = false
			m.SettingsInput.Blur()
		case "esc":
			m.SettingsIsEditing = false
			m.SettingsInput.Blur()
		default:
			var cmd tea.Cmd
			m.SettingsInput, cmd = m.SettingsInput.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, SettingsKeys.Back):
		m.state = DashboardState
		if m.settingsPath != "" {
			if err := config.SaveSettingsTo(m.settingsPath, m.Settings); err != nil {
				m.notify("Save settings: " + err.Error())
			} else {
				m.notify("Settings saved; they apply to new recordings")
			}
		}

	case key.Matches(msg, SettingsKeys.Up):
		if m.SettingsSelectedRow > 0 {
			m.SettingsSelectedRow--
		}

	case key.Matches(msg, SettingsKeys.Down):
		if m.SettingsSelectedRow < len(metas)-1 {
			m.SettingsSelectedRow++
		}

	case key.Matches(msg, SettingsKeys.Tab):
		if n := msg.String(); n >= "1" && n <= "9" {
			if i := int(n[0] - '1'); i < len(categories) {
				m.SettingsActiveTab = i
			}
		} else {
			m.SettingsActiveTab = (m.SettingsActiveTab + 1) % len(categories)
		}
		m.SettingsSelectedRow = 0

	case key.Matches(msg, SettingsKeys.Edit):
		meta := metas[m.SettingsSelectedRow]
		value, _ := m.Settings.Get(meta.Key)
		m.SettingsInput.SetValue(config.FormatEditable(value))
		m.SettingsInput.Focus()
		m.SettingsIsEditing = true

	case key.Matches(msg, SettingsKeys.Reset):
		meta := metas[m.SettingsSelectedRow]
		_ = m.Settings.Reset(meta.Key)
	}
	return m, nil
}
