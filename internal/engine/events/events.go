package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/blive-rec/blive/internal/engine/state"
	"github.com/blive-rec/blive/internal/engine/types"
)

// Event is one notification from a recording task. The set is closed.
type Event interface {
	isEvent()
}

// StartedMsg is sent once the first session delivered bytes and the first part is open
type StartedMsg struct {
	TaskID  string
	RoomID  string
	Title   string
	Session types.StreamSession
	Part    types.FilePart
}

// ProgressMsg carries a stats snapshot. It may be coalesced under back-pressure.
type ProgressMsg struct {
	TaskID string
	RoomID string
	Stats  state.Snapshot
}

// ReconnectingMsg is sent before waiting Delay for reconnect Attempt
type ReconnectingMsg struct {
	TaskID  string
	RoomID  string
	Attempt int
	Delay   time.Duration
	Err     string
}

// PartRolledMsg signals that Closed is final and New is now receiving bytes
type PartRolledMsg struct {
	TaskID string
	RoomID string
	Closed types.FilePart
	New    types.FilePart
}

// StoppedMsg is the last event of a task
type StoppedMsg struct {
	TaskID string
	RoomID string
	Reason types.StopReason
	Err    error
	Parts  []types.FilePart
	Stats  state.Snapshot
}

func (m StoppedMsg) MarshalJSON() ([]byte, error) {
	type encoded struct {
		TaskID string           `json:"TaskID"`
		RoomID string           `json:"RoomID"`
		Reason string           `json:"Reason"`
		Err    string           `json:"Err,omitempty"`
		Parts  []types.FilePart `json:"Parts,omitempty"`
		Stats  state.Snapshot   `json:"Stats"`
	}

	out := encoded{
		TaskID: m.TaskID,
		RoomID: m.RoomID,
		Reason: m.Reason.String(),
		Parts:  m.Parts,
		Stats:  m.Stats,
	}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}

	return json.Marshal(out)
}

func (m *StoppedMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		TaskID string           `json:"TaskID"`
		RoomID string           `json:"RoomID"`
		Reason string           `json:"Reason"`
		Err    json.RawMessage  `json:"Err"`
		Parts  []types.FilePart `json:"Parts"`
		Stats  state.Snapshot   `json:"Stats"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.TaskID = aux.TaskID
	m.RoomID = aux.RoomID
	m.Reason = parseStopReason(aux.Reason)
	m.Parts = aux.Parts
	m.Stats = aux.Stats
	m.Err = nil

	if len(aux.Err) == 0 {
		return nil
	}

	var errStr string
	if err := json.Unmarshal(aux.Err, &errStr); err == nil {
		if errStr != "" {
			m.Err = errors.New(errStr)
		}
		return nil
	}

	// Accept non-string payloads (e.g. {}).
	raw := string(aux.Err)
	if raw != "" && raw != "null" {
		m.Err = errors.New(raw)
	}
	return nil
}

func parseStopReason(s string) types.StopReason {
	for _, r := range []types.StopReason{types.StopCompleted, types.StopCancelled, types.StopMaxReconnectExceeded, types.StopError} {
		if r.String() == s {
			return r
		}
	}
	return types.StopError
}

// ErrorMsg reports a classified failure. Terminal failures are followed by StoppedMsg.
type ErrorMsg struct {
	TaskID  string
	RoomID  string
	Kind    types.ErrorKind
	Message string
}

func (StartedMsg) isEvent()      {}
func (ProgressMsg) isEvent()     {}
func (ReconnectingMsg) isEvent() {}
func (PartRolledMsg) isEvent()   {}
func (StoppedMsg) isEvent()      {}
func (ErrorMsg) isEvent()        {}
