package state

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_BytesEqualSumOfChunks(t *testing.T) {
	tr := NewTracker(0.3)

	sizes := []int{1000, 1, 0, 4096, 32 * 1024}
	var want int64
	for _, n := range sizes {
		tr.AddChunk(n, false)
		want += int64(n)
	}

	snap := tr.Snapshot()
	assert.Equal(t, want, snap.BytesReceived)
	assert.Equal(t, int64(len(sizes)), snap.Chunks)
	assert.Zero(t, snap.Segments)
}

func TestTracker_SegmentsCounted(t *testing.T) {
	tr := NewTracker(0.3)
	tr.AddChunk(10, true)
	tr.AddChunk(10, true)
	tr.AddChunk(10, false)

	assert.Equal(t, int64(2), tr.Snapshot().Segments)
}

func TestTracker_NegativeIgnored(t *testing.T) {
	tr := NewTracker(0.3)
	tr.AddChunk(100, false)
	tr.AddChunk(-50, false)

	assert.Equal(t, int64(100), tr.Snapshot().BytesReceived)
}

func TestTracker_ReconnectsPartsAndError(t *testing.T) {
	tr := NewTracker(0.3)
	tr.AddReconnect()
	tr.AddReconnect()
	tr.SetParts(3)
	tr.SetError(errors.New("connection reset"))

	snap := tr.Snapshot()
	assert.Equal(t, 2, snap.Reconnects)
	assert.Equal(t, 3, snap.Parts)
	assert.Equal(t, "connection reset", snap.LastError)

	tr.SetError(nil)
	assert.Empty(t, tr.Snapshot().LastError)
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	tr := NewTracker(0.3)
	tr.AddChunk(10, false)

	snap := tr.Snapshot()
	snap.BytesReceived = 999

	assert.Equal(t, int64(10), tr.Snapshot().BytesReceived)
}

func TestTracker_ElapsedAdvances(t *testing.T) {
	tr := NewTracker(0.3)
	first := tr.Snapshot().Elapsed
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, tr.Snapshot().Elapsed, first)
}

func TestTracker_SpeedSample(t *testing.T) {
	tr := NewTracker(0.5)
	tr.AddChunk(1000, false)
	assert.Zero(t, tr.Snapshot().Speed, "no sample before the window elapses")

	time.Sleep(speedSampleWindow + 50*time.Millisecond)
	tr.AddChunk(1000, false)
	assert.Greater(t, tr.Snapshot().Speed, 0.0)

	tr.ResetSpeed()
	assert.Zero(t, tr.Snapshot().Speed)
}

// Readers running alongside a writer only ever see non-decreasing totals
// where Chunks and BytesReceived agree.
func TestTracker_ConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	tr := NewTracker(0.3)
	const writes = 5000

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			tr.AddChunk(7, false)
		}
		close(done)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last int64
			for {
				snap := tr.Snapshot()
				if snap.BytesReceived != snap.Chunks*7 {
					t.Errorf("torn snapshot: bytes=%d chunks=%d", snap.BytesReceived, snap.Chunks)
					return
				}
				if snap.BytesReceived < last {
					t.Errorf("bytes decreased: %d < %d", snap.BytesReceived, last)
					return
				}
				last = snap.BytesReceived
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
	require.Equal(t, int64(writes*7), tr.Snapshot().BytesReceived)
}
