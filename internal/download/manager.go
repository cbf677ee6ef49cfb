package download

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/blive-rec/blive/internal/engine"
	"github.com/blive-rec/blive/internal/engine/events"
	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/utils"
)

var (
	ErrAlreadyRunning = errors.New("room is already recording")
	ErrNotRunning     = errors.New("room is not recording")
)

// Observer receives every event of every task, in order, on its own
// goroutine per task.
type Observer func(events.Event)

// Manager runs at most one recording task per room.
type Manager struct {
	resolver  types.SourceResolver
	runtime   *types.RuntimeConfig
	taskOpts  []engine.Option
	observers []Observer

	mu     sync.RWMutex
	active map[string]*engine.Task // nil value while a start is in flight
	recent map[string]*engine.Task // last finished task per room
	wg     sync.WaitGroup
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithTaskOptions passes options to every task.
func WithTaskOptions(opts ...engine.Option) ManagerOption {
	return func(m *Manager) { m.taskOpts = append(m.taskOpts, opts...) }
}

// WithObserver attaches fn to every task before it starts, so it sees the
// full event stream.
func WithObserver(fn Observer) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, fn) }
}

func NewManager(resolver types.SourceResolver, runtime *types.RuntimeConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		resolver: resolver,
		runtime:  runtime,
		active:   make(map[string]*engine.Task),
		recent:   make(map[string]*engine.Task),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins recording req.RoomID. It fails with ErrAlreadyRunning while
// the room has an active task and with types.ErrRoomOffline when the room is
// not live; neither case leaves a task behind or creates a file. A Stop that
// arrives while the room is being resolved makes Start fail with
// engine.ErrStopped.
func (m *Manager) Start(ctx context.Context, req engine.Request) (*engine.Task, error) {
	task := engine.NewTask(req, m.resolver, m.runtime, m.taskOpts...)

	// Registered before resolving so Stop can reach a task still in Resolving.
	m.mu.Lock()
	if _, exists := m.active[req.RoomID]; exists {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	m.active[req.RoomID] = task
	m.mu.Unlock()

	var feeds sync.WaitGroup
	for _, obs := range m.observers {
		ch, _ := task.Bus.Subscribe()
		feeds.Add(1)
		go func(obs Observer) {
			defer feeds.Done()
			for ev := range ch {
				obs(ev)
			}
		}(obs)
	}

	if err := task.Start(ctx); err != nil {
		m.mu.Lock()
		if m.active[req.RoomID] == task {
			delete(m.active, req.RoomID)
		}
		m.mu.Unlock()
		feeds.Wait()
		return nil, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-task.Done()
		feeds.Wait()

		m.mu.Lock()
		if m.active[req.RoomID] == task {
			delete(m.active, req.RoomID)
		}
		m.recent[req.RoomID] = task
		m.mu.Unlock()

		reason, err := task.Result()
		utils.Debug("manager: room %s finished (%s): %v", req.RoomID, reason, err)
	}()
	return task, nil
}

// Stop cancels the room's task and waits for its file to be closed, bounded
// by the configured stop timeout.
func (m *Manager) Stop(ctx context.Context, roomID string) error {
	m.mu.RLock()
	task := m.active[roomID]
	m.mu.RUnlock()
	if task == nil {
		return ErrNotRunning
	}

	ctx, cancel := context.WithTimeout(ctx, m.runtime.GetStopTimeout())
	defer cancel()
	if err := task.Stop(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.active[roomID] == task {
		delete(m.active, roomID)
	}
	m.recent[roomID] = task
	m.mu.Unlock()
	return nil
}

// Task returns the active task of a room, or its last finished one.
func (m *Manager) Task(roomID string) (*engine.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t := m.active[roomID]; t != nil {
		return t, true
	}
	t, ok := m.recent[roomID]
	return t, ok
}

// Subscribe streams the events of a room's task. For a finished task the
// channel is already closed.
func (m *Manager) Subscribe(roomID string) (<-chan events.Event, func(), error) {
	task, ok := m.Task(roomID)
	if !ok {
		return nil, nil, ErrNotRunning
	}
	ch, cancel := task.Bus.Subscribe()
	return ch, cancel, nil
}

// Snapshot returns the status of a room's task.
func (m *Manager) Snapshot(roomID string) (types.TaskStatus, bool) {
	task, ok := m.Task(roomID)
	if !ok {
		return types.TaskStatus{}, false
	}
	return task.Status(), true
}

// Active returns the status of every running task, sorted by room.
func (m *Manager) Active() []types.TaskStatus {
	m.mu.RLock()
	tasks := make([]*engine.Task, 0, len(m.active))
	for _, t := range m.active {
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()

	out := make([]types.TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// IsRunning reports whether roomID has an active task.
func (m *Manager) IsRunning(roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[roomID]
	return ok
}

// Shutdown stops every task and waits for the bookkeeping goroutines.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	rooms := make([]string, 0, len(m.active))
	for id := range m.active {
		rooms = append(rooms, id)
	}
	m.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range rooms {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
