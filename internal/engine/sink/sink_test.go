package sink

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/testutil"
)

func chunk(data string) types.Chunk {
	return types.Chunk{Data: []byte(data), Boundary: true}
}

func partPaths(parts []types.FilePart) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p.Path)
	}
	return out
}

// =============================================================================
// Naming
// =============================================================================

func TestOpen_FreshName(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, BaseName: "room", Ext: "flv"})
	require.NoError(t, err)

	require.NoError(t, s.Write(chunk("hello")))
	require.NoError(t, s.Close())

	parts := s.Parts()
	require.Len(t, parts, 1)
	assert.Equal(t, filepath.Join(dir, "room.flv"), parts[0].Path)
	assert.Equal(t, 1, parts[0].Index)
	assert.True(t, parts[0].Closed)
	assert.Equal(t, int64(5), parts[0].Written)
	assert.NoError(t, testutil.VerifyFileSize(parts[0].Path, 5))
	assert.False(t, testutil.FileExists(filepath.Join(dir, ".room.lock")), "lock file removed on close")
}

func TestOpen_CollisionRenamesExistingToP1(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "room.flv"), []byte("old"), 0o644))

	s, err := Open(Options{Dir: dir, BaseName: "room", Ext: "flv"})
	require.NoError(t, err)
	require.NoError(t, s.Write(chunk("new")))
	require.NoError(t, s.Close())

	p1 := filepath.Join(dir, "room", "room_P1.flv")
	p2 := filepath.Join(dir, "room", "room_P2.flv")
	assert.False(t, testutil.FileExists(filepath.Join(dir, "room.flv")))

	old, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
	assert.Equal(t, []string{p2}, partPaths(s.Parts()))
}

func TestOpen_CollisionContinuesAfterHighestPart(t *testing.T) {
	dir := t.TempDir()
	folder := filepath.Join(dir, "room")
	require.NoError(t, os.MkdirAll(folder, 0o755))
	for _, name := range []string{"room_P1.flv", "room_P3.flv", "room_P7.ts", "other_P9.flv"} {
		require.NoError(t, os.WriteFile(filepath.Join(folder, name), nil, 0o644))
	}

	s, err := Open(Options{Dir: dir, BaseName: "room", Ext: "flv"})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, filepath.Join(folder, "room_P4.flv"), s.Current().Path)
}

func TestOpen_AtCapAppendsToLastPart(t *testing.T) {
	dir := t.TempDir()
	folder := filepath.Join(dir, "room")
	require.NoError(t, os.MkdirAll(folder, 0o755))
	last := filepath.Join(folder, "room_P3.flv")
	require.NoError(t, os.WriteFile(last, []byte("abc"), 0o644))

	s, err := Open(Options{Dir: dir, BaseName: "room", Ext: "flv", MaxParts: 3, MaxPartSize: 2})
	require.NoError(t, err)
	require.NoError(t, s.Write(chunk("def")))
	require.NoError(t, s.Write(chunk("ghi")), "capped sinks never roll")
	require.NoError(t, s.Close())

	data, err := os.ReadFile(last)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghi", string(data))
	assert.Len(t, s.Parts(), 1)
}

func TestOpen_SecondWriterIsLocked(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(Options{Dir: dir, BaseName: "room", Ext: "flv"})
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(Options{Dir: dir, BaseName: "room", Ext: "flv"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, types.KindIO, types.KindOf(err))
}

func TestOpen_EmptyName(t *testing.T) {
	_, err := Open(Options{Dir: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, types.KindIO, types.KindOf(err))
}

// =============================================================================
// Rolling
// =============================================================================

func TestWrite_RollsAtBoundaryAfterSizeLimit(t *testing.T) {
	dir := t.TempDir()
	var rolls [][2]types.FilePart
	s, err := Open(Options{
		Dir: dir, BaseName: "room", Ext: "flv", MaxPartSize: 1000,
		OnRoll: func(closed, opened types.FilePart) {
			rolls = append(rolls, [2]types.FilePart{closed, opened})
		},
	})
	require.NoError(t, err)

	var all []byte
	for i := 0; i < 3; i++ {
		data := bytes.Repeat([]byte{byte('a' + i)}, 1000)
		all = append(all, data...)
		require.NoError(t, s.Write(types.Chunk{Data: data, Boundary: true, Seq: uint64(i + 1)}))
	}
	require.NoError(t, s.Close())

	parts := s.Parts()
	require.Len(t, parts, 3)
	for i, p := range parts {
		assert.Equal(t, i+1, p.Index)
		assert.True(t, p.Closed)
		assert.Equal(t, int64(1000), p.Written)
	}
	folder := filepath.Join(dir, "room")
	assert.Equal(t, []string{
		filepath.Join(folder, "room_P1.flv"),
		filepath.Join(folder, "room_P2.flv"),
		filepath.Join(folder, "room_P3.flv"),
	}, partPaths(parts))

	joined, err := testutil.ConcatFiles(partPaths(parts)...)
	require.NoError(t, err)
	assert.Equal(t, all, joined)

	require.Len(t, rolls, 2)
	assert.Equal(t, parts[0].Path, rolls[0][0].Path, "the rolled part reports its final path")
	assert.True(t, rolls[0][0].Closed)
	assert.Equal(t, 2, rolls[0][1].Index)
	assert.Equal(t, 3, rolls[1][1].Index)
}

func TestWrite_WaitsForBoundary(t *testing.T) {
	s, err := Open(Options{Dir: t.TempDir(), BaseName: "room", Ext: "ts", MaxPartSize: 4})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(chunk("12345")))
	require.NoError(t, s.Write(types.Chunk{Data: []byte("678")}))
	assert.Len(t, s.Parts(), 1, "no roll without a boundary")

	require.NoError(t, s.Write(chunk("9")))
	parts := s.Parts()
	require.Len(t, parts, 2)
	assert.Equal(t, int64(8), parts[0].Written)
	assert.Equal(t, int64(1), parts[1].Written)
}

func TestWrite_DiscontinuityRolls(t *testing.T) {
	s, err := Open(Options{Dir: t.TempDir(), BaseName: "room", Ext: "ts"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(types.Chunk{Data: []byte("a"), Boundary: true, Discontinuity: true}))
	assert.Len(t, s.Parts(), 1, "an empty part is never rolled")

	require.NoError(t, s.Write(chunk("b")))
	require.NoError(t, s.Write(types.Chunk{Data: []byte("c"), Boundary: true, Discontinuity: true}))
	parts := s.Parts()
	require.Len(t, parts, 2)
	assert.Equal(t, int64(2), parts[0].Written)
	assert.Equal(t, int64(1), parts[1].Written)
}

func TestWrite_StopsRollingAtMaxParts(t *testing.T) {
	s, err := Open(Options{Dir: t.TempDir(), BaseName: "room", Ext: "flv", MaxPartSize: 1, MaxParts: 2})
	require.NoError(t, err)

	for _, d := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Write(chunk(d)))
	}
	require.NoError(t, s.Close())

	parts := s.Parts()
	require.Len(t, parts, 2)
	assert.Equal(t, int64(3), parts[1].Written)
	assert.NoError(t, testutil.VerifyFileSize(parts[1].Path, 3))
}

func TestWrite_AfterClose(t *testing.T) {
	s, err := Open(Options{Dir: t.TempDir(), BaseName: "room", Ext: "flv"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	err = s.Write(chunk("late"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFlush_MakesBytesVisible(t *testing.T) {
	s, err := Open(Options{Dir: t.TempDir(), BaseName: "room", Ext: "flv"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(chunk("visible")))
	require.NoError(t, s.Flush())
	assert.NoError(t, testutil.VerifyFileSize(s.Current().Path, 7))
}

// =============================================================================
// Template
// =============================================================================

func TestRenderFilename(t *testing.T) {
	live := time.Date(2024, 3, 9, 20, 5, 0, 0, time.UTC)
	room := types.Room{
		ID:       "21452505",
		Title:    "a very long stream title",
		UpName:   "up/name",
		AreaName: "Games",
		LiveTime: live,
	}

	tests := []struct {
		template string
		want     string
	}{
		{"", "up_name_21452505_2024-03-09 20点05分"},
		{"{room_id}_{date}", "21452505_2024-03-09"},
		{"{room_title}", "a very lon"},
		{"{room_area_name}-{unknown}", "Games-{unknown}"},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderFilename(tt.template, room, time.Now()))
		})
	}
}

func TestRenderFilename_FallsBackToNow(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	got := RenderFilename("{date}", types.Room{ID: "1"}, now)
	assert.Equal(t, "2025-01-02", got)
}
