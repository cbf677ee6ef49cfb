package state

import (
	"sync"
	"sync/atomic"
	"time"
)

// speedSampleWindow is the minimum span folded into one speed sample.
const speedSampleWindow = 500 * time.Millisecond

// Snapshot is an immutable view of a task's counters.
type Snapshot struct {
	BytesReceived int64         `json:"bytes_received"`
	Chunks        int64         `json:"chunks"`
	Segments      int64         `json:"segments"`
	Parts         int           `json:"parts"`
	Reconnects    int           `json:"reconnects"`
	Elapsed       time.Duration `json:"elapsed"`
	Speed         float64       `json:"speed"` // bytes per second, EMA
	LastError     string        `json:"last_error,omitempty"`
}

// Tracker accumulates recording counters. Writes are serialized by a mutex
// and publish a fresh Snapshot through an atomic pointer, so Snapshot never
// takes the lock and never observes a half-applied update.
type Tracker struct {
	mu    sync.Mutex
	cur   atomic.Pointer[Snapshot]
	start time.Time
	alpha float64

	windowStart time.Time
	windowBytes int64
}

// NewTracker creates a tracker whose elapsed clock starts now.
func NewTracker(alpha float64) *Tracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	now := time.Now()
	t := &Tracker{start: now, alpha: alpha, windowStart: now}
	t.cur.Store(&Snapshot{})
	return t
}

func (t *Tracker) update(fn func(s *Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := *t.cur.Load()
	fn(&next)
	t.cur.Store(&next)
}

// AddChunk records n bytes delivered to the sink.
func (t *Tracker) AddChunk(n int, segment bool) {
	if n < 0 {
		return
	}
	t.update(func(s *Snapshot) {
		s.BytesReceived += int64(n)
		s.Chunks++
		if segment {
			s.Segments++
		}

		t.windowBytes += int64(n)
		now := time.Now()
		if dt := now.Sub(t.windowStart); dt >= speedSampleWindow {
			inst := float64(t.windowBytes) / dt.Seconds()
			if s.Speed == 0 {
				s.Speed = inst
			} else {
				s.Speed = t.alpha*inst + (1-t.alpha)*s.Speed
			}
			t.windowStart = now
			t.windowBytes = 0
		}
	})
}

// SetParts records the number of parts opened so far.
func (t *Tracker) SetParts(n int) {
	t.update(func(s *Snapshot) { s.Parts = n })
}

// AddReconnect counts one reconnect attempt.
func (t *Tracker) AddReconnect() {
	t.update(func(s *Snapshot) { s.Reconnects++ })
}

// SetError records the latest error summary.
func (t *Tracker) SetError(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.update(func(s *Snapshot) { s.LastError = msg })
}

// ResetSpeed drops the speed estimate, used while no session is streaming.
func (t *Tracker) ResetSpeed() {
	t.update(func(s *Snapshot) {
		s.Speed = 0
		t.windowStart = time.Now()
		t.windowBytes = 0
	})
}

// Snapshot returns the current counters without blocking writers.
func (t *Tracker) Snapshot() Snapshot {
	s := *t.cur.Load()
	s.Elapsed = time.Since(t.start)
	return s
}

// StartTime returns when the tracker was created.
func (t *Tracker) StartTime() time.Time {
	return t.start
}
