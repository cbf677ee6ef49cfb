package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/blive-rec/blive/internal/engine/events"
	"github.com/blive-rec/blive/internal/engine/fetch"
	"github.com/blive-rec/blive/internal/engine/sink"
	"github.com/blive-rec/blive/internal/engine/state"
	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/utils"
)

// ErrStopped is returned by Start when Stop was called before the room
// status check finished.
var ErrStopped = errors.New("task stopped before it started")

// State is the lifecycle position of a Task.
type State int32

const (
	StateIdle State = iota
	StateResolving
	StateStreaming
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Request describes what to record.
type Request struct {
	RoomID    string          `json:"room_id"`
	Quality   types.Quality   `json:"quality"`
	Codec     types.Codec     `json:"codec,omitempty"`
	Container types.Container `json:"container,omitempty"`
	OutputDir string          `json:"output_dir"`
	// Template overrides the configured filename template
	Template string `json:"template,omitempty"`
}

// Option customizes a Task.
type Option func(*Task)

// WithFetcher replaces the fetcher used for one variant.
func WithFetcher(kind fetch.Kind, f fetch.Fetcher) Option {
	return func(t *Task) { t.fetchers[kind] = f }
}

// WithClient sets the HTTP client shared by the default fetchers.
func WithClient(c *http.Client) Option {
	return func(t *Task) { t.client = c }
}

// WithID fixes the task ID instead of generating one.
func WithID(id string) Option {
	return func(t *Task) { t.ID = id }
}

// Task records one room: it resolves a session, streams chunks into the
// sink and reconnects on transport failures until it stops.
type Task struct {
	ID       string
	Request  Request
	Runtime  *types.RuntimeConfig
	Resolver types.SourceResolver
	Stats    *state.Tracker
	Bus      *events.Bus

	client   *http.Client
	fetchers map[fetch.Kind]fetch.Fetcher

	state   atomic.Int32
	attempt atomic.Int32

	mu      sync.Mutex // guards the fields below
	room    types.Room
	session types.StreamSession
	sink    *sink.Sink
	reason  types.StopReason
	err     error
	started time.Time

	runCtx    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once

	// worker only
	lastProgress time.Time
	lastMediaSeq uint64
	hasMediaSeq  bool
}

// NewTask creates an idle task.
func NewTask(req Request, resolver types.SourceResolver, runtime *types.RuntimeConfig, opts ...Option) *Task {
	runCtx, cancel := context.WithCancel(context.Background())
	t := &Task{
		ID:       uuid.New().String(),
		Request:  req,
		Runtime:  runtime,
		Resolver: resolver,
		Stats:    state.NewTracker(runtime.GetSpeedEmaAlpha()),
		Bus:      events.NewBus(runtime.GetEventBusCapacity()),
		fetchers: make(map[fetch.Kind]fetch.Fetcher),
		runCtx:   runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start checks that the room is live and launches the worker. An offline
// room fails with ErrRoomOffline and no worker, file or event is created.
// Other resolver errors are left to the reconnect policy. ctx bounds the
// initial check only; the worker runs until it ends or Stop is called.
// A Stop during the check publishes Stopped{Cancelled} and Start returns
// ErrStopped.
func (t *Task) Start(ctx context.Context) error {
	err := errors.New("task already started")
	t.startOnce.Do(func() {
		err = t.start(ctx)
	})
	return err
}

func (t *Task) start(ctx context.Context) error {
	t.setState(StateResolving)

	// Stop may arrive while the room status is still being checked.
	resolveCtx, cancelResolve := context.WithCancel(ctx)
	stopResolve := context.AfterFunc(t.runCtx, cancelResolve)
	room, err := t.Resolver.RoomStatus(resolveCtx, t.Request.RoomID)
	stopResolve()
	cancelResolve()

	if t.runCtx.Err() != nil {
		utils.Debug("task %s: stopped while resolving room %s", t.ID, t.Request.RoomID)
		t.finish(types.StopCancelled, nil)
		close(t.done)
		return types.NewError(types.KindCancelled, "room status", ErrStopped)
	}
	if err == nil && !room.Live {
		err = types.NewError(types.KindRoomOffline, "room status", types.ErrRoomOffline)
	}
	if err != nil && types.KindOf(err) == types.KindRoomOffline {
		t.abort(types.StopCompleted, err)
		return err
	}

	var first *types.Room
	if err == nil {
		first = &room
		t.mu.Lock()
		t.room = room
		t.mu.Unlock()
	}

	t.mu.Lock()
	t.started = time.Now()
	t.mu.Unlock()

	utils.Debug("task %s: recording room %s", t.ID, t.Request.RoomID)
	go t.run(t.runCtx, first)
	return nil
}

// abort ends a task that never got a worker.
func (t *Task) abort(reason types.StopReason, err error) {
	t.mu.Lock()
	t.reason, t.err = reason, err
	t.mu.Unlock()
	t.setState(StateStopped)
	t.Bus.Close()
	close(t.done)
}

func (t *Task) run(ctx context.Context, first *types.Room) {
	defer close(t.done)
	reason, err := t.loop(ctx, first)
	t.finish(reason, err)
}

func (t *Task) loop(ctx context.Context, room *types.Room) (types.StopReason, error) {
	attempt := 0
	for {
		delivered, err := t.stream(ctx, room)
		room = nil
		if err == nil {
			return types.StopCompleted, nil
		}
		if delivered {
			attempt = 0
			t.attempt.Store(0)
		}

		kind := types.KindOf(err)
		switch {
		case ctx.Err() != nil || kind == types.KindCancelled:
			return types.StopCancelled, nil
		case kind == types.KindRoomOffline, kind == types.KindStreamEnded:
			utils.Debug("task %s: broadcast ended: %v", t.ID, err)
			return types.StopCompleted, nil
		case !kind.Retryable():
			return types.StopError, err
		case !t.Runtime.IsAutoReconnect():
			return types.StopError, err
		}

		attempt++
		t.attempt.Store(int32(attempt))
		t.Stats.SetError(err)
		if attempt > t.Runtime.GetMaxReconnectAttempts() {
			return types.StopMaxReconnectExceeded, err
		}

		delay := t.Runtime.GetReconnectDelay()
		t.setState(StateReconnecting)
		t.Stats.AddReconnect()
		t.Stats.ResetSpeed()
		utils.Debug("task %s: reconnecting (attempt %d) in %s: %v", t.ID, attempt, delay, err)
		t.Bus.Publish(events.ReconnectingMsg{
			TaskID:  t.ID,
			RoomID:  t.Request.RoomID,
			Attempt: attempt,
			Delay:   delay,
			Err:     err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.StopCancelled, nil
		case <-timer.C:
		}
	}
}

// stream runs one session: resolve, open, copy chunks until the stream
// ends. delivered reports whether any chunk reached the sink.
func (t *Task) stream(ctx context.Context, room *types.Room) (delivered bool, err error) {
	t.setState(StateResolving)
	if room == nil {
		r, err := t.Resolver.RoomStatus(ctx, t.Request.RoomID)
		if err != nil {
			return false, t.resolveError(ctx, "room status", err)
		}
		if !r.Live {
			return false, types.NewError(types.KindRoomOffline, "room status", types.ErrRoomOffline)
		}
		room = &r
	}

	session, err := t.Resolver.PlaySession(ctx, t.Request.RoomID, t.Request.Quality, t.Request.Codec, t.Request.Container)
	if err != nil {
		return false, t.resolveError(ctx, "play session", err)
	}
	if err := session.Validate(); err != nil {
		return false, types.NewError(types.KindAPI, "play session", err)
	}
	if t.hasMediaSeq {
		session.Resuming, session.LastMediaSeq = true, t.lastMediaSeq
	}

	t.mu.Lock()
	t.room = *room
	t.session = session
	t.mu.Unlock()

	kind := fetch.KindFor(session)
	s, err := t.fetcher(kind).Open(ctx, session)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			utils.Debug("task %s: close stream: %v", t.ID, cerr)
		}
	}()

	t.setState(StateStreaming)
	utils.Debug("task %s: streaming %s via %s", t.ID, utils.RedactURL(session.URLs[0]), kind)
	for {
		c, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return delivered, nil
		}
		if err != nil {
			return delivered, err
		}
		// A new session carries its own container header: start a new part.
		if !delivered {
			c.Discontinuity = true
		}
		if err := t.write(*room, session, c); err != nil {
			return delivered, err
		}
		delivered = true
	}
}

func (t *Task) resolveError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return types.NewError(types.KindCancelled, op, ctx.Err())
	}
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return types.NewError(types.KindOf(err), op, err)
}

func (t *Task) fetcher(kind fetch.Kind) fetch.Fetcher {
	if f, ok := t.fetchers[kind]; ok {
		return f
	}
	if t.client == nil {
		t.client = fetch.NewClient(t.Runtime)
	}
	f := fetch.New(kind, t.client, t.Runtime)
	t.fetchers[kind] = f
	return f
}

func (t *Task) write(room types.Room, session types.StreamSession, c types.Chunk) error {
	t.mu.Lock()
	sk := t.sink
	t.mu.Unlock()

	if sk == nil {
		var err error
		if sk, err = t.openSink(room, session); err != nil {
			return err
		}
	}

	if err := sk.Write(c); err != nil {
		return err
	}
	t.Stats.AddChunk(len(c.Data), c.Segment)
	if c.Segment {
		t.lastMediaSeq, t.hasMediaSeq = c.MediaSeq, true
	}

	if now := time.Now(); now.Sub(t.lastProgress) >= t.Runtime.GetProgressInterval() {
		t.lastProgress = now
		t.publishProgress()
	}
	return nil
}

func (t *Task) openSink(room types.Room, session types.StreamSession) (*sink.Sink, error) {
	template := t.Request.Template
	if template == "" {
		template = t.Runtime.GetFilenameTemplate()
	}
	sk, err := sink.Open(sink.Options{
		Dir:         t.Request.OutputDir,
		BaseName:    sink.RenderFilename(template, room, time.Now()),
		Ext:         session.Container.Ext(),
		MaxPartSize: t.Runtime.GetMaxPartSize(),
		MaxParts:    t.Runtime.GetMaxParts(),
		OnRoll:      t.onRoll,
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.sink = sk
	t.mu.Unlock()

	part := sk.Current()
	t.Stats.SetParts(1)
	utils.Debug("task %s: started %s -> %s", t.ID, room.ID, part.Path)
	t.Bus.Publish(events.StartedMsg{
		TaskID:  t.ID,
		RoomID:  t.Request.RoomID,
		Title:   room.Title,
		Session: session,
		Part:    part,
	})
	return sk, nil
}

func (t *Task) onRoll(closed, opened types.FilePart) {
	t.Stats.SetParts(opened.Index)
	utils.Debug("task %s: part %d closed (%d bytes), writing %s", t.ID, closed.Index, closed.Written, opened.Path)
	t.Bus.Publish(events.PartRolledMsg{
		TaskID: t.ID,
		RoomID: t.Request.RoomID,
		Closed: closed,
		New:    opened,
	})
}

func (t *Task) publishProgress() {
	t.Bus.Publish(events.ProgressMsg{
		TaskID: t.ID,
		RoomID: t.Request.RoomID,
		Stats:  t.Stats.Snapshot(),
	})
}

// finish closes the open part before announcing Stopped.
func (t *Task) finish(reason types.StopReason, err error) {
	t.mu.Lock()
	sk := t.sink
	t.mu.Unlock()

	var parts []types.FilePart
	if sk != nil {
		if cerr := sk.Close(); cerr != nil && err == nil {
			reason, err = types.StopError, cerr
		}
		parts = sk.Parts()
	}

	if err != nil {
		t.Stats.SetError(err)
	}
	t.mu.Lock()
	t.reason, t.err = reason, err
	t.mu.Unlock()
	t.setState(StateStopped)

	if reason == types.StopError || reason == types.StopMaxReconnectExceeded {
		t.Bus.Publish(events.ErrorMsg{
			TaskID:  t.ID,
			RoomID:  t.Request.RoomID,
			Kind:    types.KindOf(err),
			Message: err.Error(),
		})
	}
	t.publishProgress()

	stats := t.Stats.Snapshot()
	utils.Debug("task %s: stopped (%s) after %d bytes in %d part(s): %v", t.ID, reason, stats.BytesReceived, len(parts), err)
	t.Bus.Publish(events.StoppedMsg{
		TaskID: t.ID,
		RoomID: t.Request.RoomID,
		Reason: reason,
		Err:    err,
		Parts:  parts,
		Stats:  stats,
	})
	t.Bus.Close()
}

// Stop cancels the task and waits until the open part is closed and
// Stopped was published, or ctx expires.
func (t *Task) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	cancel()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop task %s: %w", t.ID, ctx.Err())
	}
}

// Done is closed once the task has stopped.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns why the task stopped. It is only meaningful after Done.
func (t *Task) Result() (types.StopReason, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason, t.err
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// Attempt returns the current consecutive reconnect attempt, 0 when healthy.
func (t *Task) Attempt() int {
	return int(t.attempt.Load())
}

// Parts returns the parts written so far.
func (t *Task) Parts() []types.FilePart {
	t.mu.Lock()
	sk := t.sink
	t.mu.Unlock()
	if sk == nil {
		return nil
	}
	return sk.Parts()
}

// Status summarizes the task for polling UIs.
func (t *Task) Status() types.TaskStatus {
	snap := t.Stats.Snapshot()

	t.mu.Lock()
	room, sk, started := t.room, t.sink, t.started
	t.mu.Unlock()

	st := types.TaskStatus{
		TaskID:    t.ID,
		RoomID:    t.Request.RoomID,
		Title:     room.Title,
		State:     t.State().String(),
		Bytes:     snap.BytesReceived,
		Speed:     snap.Speed,
		Parts:     snap.Parts,
		Attempt:   t.Attempt(),
		Error:     snap.LastError,
		StartedAt: started,
	}
	if sk != nil {
		cur := sk.Current()
		st.Part, st.PartBytes = cur.Path, cur.Written
	}
	return st
}
