package download

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blive-rec/blive/internal/engine"
	"github.com/blive-rec/blive/internal/engine/events"
	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/source"
	"github.com/blive-rec/blive/internal/testutil"
)

func testRuntime() *types.RuntimeConfig {
	return &types.RuntimeConfig{
		ReconnectDelay:   10 * time.Millisecond,
		ProgressInterval: 10 * time.Millisecond,
		StopTimeout:      5 * time.Second,
	}
}

// heldServer streams an FLV header and then keeps the connection open.
func heldServer(t *testing.T) *testutil.MockServer {
	return testutil.NewMockServerT(t, testutil.WithResponses(testutil.StreamResponse{Data: testutil.FLVHeader, Hold: true}))
}

func liveRoom(resolver *source.Static, id string, server *testutil.MockServer) {
	resolver.SetRoom(types.Room{ID: id, Title: "room " + id, UpName: "up", Live: true},
		source.Guess(types.QualityOriginal, server.URL()))
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Name()[0] != '.' {
			n++
		}
	}
	return n
}

func waitBytes(t *testing.T, task *engine.Task, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return task.Stats.Snapshot().BytesReceived >= n
	}, 5*time.Second, 5*time.Millisecond)
}

// =============================================================================
// Start / Stop
// =============================================================================

func TestManager_StartTwiceIsAlreadyRunning(t *testing.T) {
	server := heldServer(t)
	resolver := source.NewStatic(types.StrategyLowCost)
	liveRoom(resolver, "1000", server)
	dir := t.TempDir()

	m := NewManager(resolver, testRuntime())
	ctx := context.Background()

	task, err := m.Start(ctx, engine.Request{RoomID: "1000", OutputDir: dir})
	require.NoError(t, err)
	waitBytes(t, task, int64(len(testutil.FLVHeader)))

	again, err := m.Start(ctx, engine.Request{RoomID: "1000", OutputDir: dir})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Nil(t, again)
	assert.Equal(t, 1, countFiles(t, dir), "no second part file")
	assert.Equal(t, int64(1), server.Stats().TotalRequests)

	require.NoError(t, m.Stop(ctx, "1000"))
	assert.False(t, m.IsRunning("1000"))
	reason, _ := task.Result()
	assert.Equal(t, types.StopCancelled, reason)
}

func TestManager_StartOfflineRoom(t *testing.T) {
	server := heldServer(t)
	resolver := source.NewStatic(types.StrategyLowCost)
	liveRoom(resolver, "1000", server)
	require.NoError(t, resolver.SetLive("1000", false))
	dir := t.TempDir()

	m := NewManager(resolver, testRuntime())
	task, err := m.Start(context.Background(), engine.Request{RoomID: "1000", OutputDir: dir})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRoomOffline)
	assert.Nil(t, task)

	assert.False(t, m.IsRunning("1000"))
	assert.Zero(t, countFiles(t, dir))
	assert.Zero(t, server.Stats().TotalRequests)

	// The room can be started once it goes live.
	require.NoError(t, resolver.SetLive("1000", true))
	task, err = m.Start(context.Background(), engine.Request{RoomID: "1000", OutputDir: dir})
	require.NoError(t, err)
	require.NoError(t, task.Stop(context.Background()))
}

func TestManager_StopUnknownRoom(t *testing.T) {
	m := NewManager(source.NewStatic(types.StrategyLowCost), testRuntime())
	assert.ErrorIs(t, m.Stop(context.Background(), "nope"), ErrNotRunning)

	_, _, err := m.Subscribe("nope")
	assert.ErrorIs(t, err, ErrNotRunning)

	_, ok := m.Snapshot("nope")
	assert.False(t, ok)
}

// slowResolver blocks RoomStatus until its context ends.
type slowResolver struct {
	types.SourceResolver
	entered chan struct{}
}

func (r *slowResolver) RoomStatus(ctx context.Context, roomID string) (types.Room, error) {
	close(r.entered)
	<-ctx.Done()
	return types.Room{}, ctx.Err()
}

func TestManager_StopWhileResolving(t *testing.T) {
	resolver := &slowResolver{SourceResolver: source.NewStatic(types.StrategyLowCost), entered: make(chan struct{})}
	var (
		mu  sync.Mutex
		got []events.Event
	)
	m := NewManager(resolver, testRuntime(), WithObserver(func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))

	type result struct {
		task *engine.Task
		err  error
	}
	started := make(chan result, 1)
	go func() {
		task, err := m.Start(context.Background(), engine.Request{RoomID: "1000", OutputDir: t.TempDir()})
		started <- result{task, err}
	}()

	select {
	case <-resolver.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("resolver was not called")
	}
	assert.True(t, m.IsRunning("1000"))
	require.NoError(t, m.Stop(context.Background(), "1000"))

	var res result
	select {
	case res = <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.ErrorIs(t, res.err, engine.ErrStopped)
	assert.Nil(t, res.task)
	assert.False(t, m.IsRunning("1000"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	stopped, ok := got[len(got)-1].(events.StoppedMsg)
	require.True(t, ok, "last event is %T", got[len(got)-1])
	assert.Equal(t, types.StopCancelled, stopped.Reason)
	assert.Empty(t, stopped.Parts)
}

// Rooms are recorded independently.
func TestManager_IndependentRooms(t *testing.T) {
	resolver := source.NewStatic(types.StrategyLowCost)
	liveRoom(resolver, "1", heldServer(t))
	liveRoom(resolver, "2", heldServer(t))

	m := NewManager(resolver, testRuntime())
	ctx := context.Background()

	a, err := m.Start(ctx, engine.Request{RoomID: "1", OutputDir: t.TempDir()})
	require.NoError(t, err)
	b, err := m.Start(ctx, engine.Request{RoomID: "2", OutputDir: t.TempDir()})
	require.NoError(t, err)
	waitBytes(t, a, 1)
	waitBytes(t, b, 1)

	active := m.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "1", active[0].RoomID)
	assert.Equal(t, "2", active[1].RoomID)
	assert.Equal(t, "streaming", active[0].State)

	require.NoError(t, m.Stop(ctx, "1"))
	assert.True(t, m.IsRunning("2"))
	assert.Equal(t, engine.StateStreaming, b.State())

	require.NoError(t, m.Shutdown(ctx))
	assert.Empty(t, m.Active())
}

// =============================================================================
// Events
// =============================================================================

func TestManager_ObserverSeesWholeStream(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFLVPayload(16*1024))
	resolver := source.NewStatic(types.StrategyLowCost)
	liveRoom(resolver, "1000", server)

	var (
		mu  sync.Mutex
		got []events.Event
	)
	m := NewManager(resolver, testRuntime(), WithObserver(func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))

	// The payload ends cleanly, which completes the task.
	task, err := m.Start(context.Background(), engine.Request{RoomID: "1000", OutputDir: t.TempDir()})
	require.NoError(t, err)
	waitBytes(t, task, 16*1024)

	select {
	case <-task.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("task did not finish")
	}
	require.Eventually(t, func() bool { return !m.IsRunning("1000") }, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	_, ok := got[0].(events.StartedMsg)
	assert.True(t, ok, "first event is %T", got[0])
	stopped, ok := got[len(got)-1].(events.StoppedMsg)
	require.True(t, ok, "last event is %T", got[len(got)-1])
	assert.Equal(t, types.StopCompleted, stopped.Reason)
	assert.Equal(t, int64(16*1024), stopped.Stats.BytesReceived)

	// A finished task stays queryable.
	status, ok := m.Snapshot("1000")
	require.True(t, ok)
	assert.Equal(t, "stopped", status.State)

	ch, cancel, err := m.Subscribe("1000")
	require.NoError(t, err)
	defer cancel()
	_, open := <-ch
	assert.False(t, open, "a finished task's stream is closed")
}
