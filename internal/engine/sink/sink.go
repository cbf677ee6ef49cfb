package sink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/utils"
)

var (
	// ErrLocked is returned when another process holds the recording lock
	ErrLocked = errors.New("recording is locked by another process")
	ErrClosed = errors.New("sink is closed")
)

// Options configures a Sink.
type Options struct {
	Dir      string
	BaseName string // file stem, already sanitized
	Ext      string

	// MaxPartSize rolls to a new part at the next boundary once the open part
	// reaches it. Zero disables size rolling.
	MaxPartSize int64
	MaxParts    int

	// OnRoll runs after a part is closed and its successor opened. It is
	// called without the sink lock held.
	OnRoll func(closed, opened types.FilePart)
}

// Sink writes an ordered chunk stream into one or more part files.
//
// The first part is {Dir}/{BaseName}.{Ext}. When that name is taken, or when
// the sink rolls, parts move into {Dir}/{BaseName}/ as {BaseName}_P{n}.{Ext};
// an unsuffixed file found there becomes _P1. Once n reaches MaxParts the
// last part is appended to instead of rolling.
type Sink struct {
	mu sync.Mutex

	opts Options
	lock *flock.Flock

	file  *os.File
	w     *bufio.Writer
	parts []types.FilePart

	number      int // _P suffix of the open part, 0 while unsuffixed
	pendingRoll bool
	capped      bool
	closed      bool
}

// Open resolves the first part path, takes the recording lock and opens the
// file for writing.
func Open(opts Options) (*Sink, error) {
	if opts.BaseName == "" {
		return nil, types.NewError(types.KindIO, "open sink", errors.New("empty file name"))
	}
	if opts.Ext == "" {
		opts.Ext = types.ContainerFLV.Ext()
	}
	if opts.MaxParts <= 0 {
		opts.MaxParts = types.MaxParts
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, types.NewError(types.KindIO, "create output dir", err)
	}

	lock := flock.New(filepath.Join(opts.Dir, "."+opts.BaseName+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, types.NewError(types.KindIO, "lock recording", err)
	}
	if !locked {
		return nil, types.NewError(types.KindIO, "lock recording", ErrLocked)
	}

	s := &Sink{opts: opts, lock: lock}
	path, number, appendMode, err := s.resolveFirst()
	if err == nil {
		err = s.openPart(path, number, appendMode)
	}
	if err != nil {
		s.releaseLock()
		return nil, err
	}
	return s, nil
}

func (s *Sink) initialPath() string {
	return filepath.Join(s.opts.Dir, s.opts.BaseName+"."+s.opts.Ext)
}

func (s *Sink) folder() string {
	return filepath.Join(s.opts.Dir, s.opts.BaseName)
}

func (s *Sink) partPath(n int) string {
	return filepath.Join(s.folder(), fmt.Sprintf("%s_P%d.%s", s.opts.BaseName, n, s.opts.Ext))
}

// highestPart scans the part folder for the largest _P{n} in use.
func (s *Sink) highestPart() int {
	entries, err := os.ReadDir(s.folder())
	if err != nil {
		return 0
	}
	prefix := s.opts.BaseName + "_P"
	suffix := "." + s.opts.Ext
	highest := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix))
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

func (s *Sink) resolveFirst() (path string, number int, appendMode bool, err error) {
	initial := s.initialPath()
	initialExists := fileExists(initial)
	if info, statErr := os.Stat(s.folder()); !initialExists && (statErr != nil || !info.IsDir()) {
		return initial, 0, false, nil
	}

	if err := os.MkdirAll(s.folder(), 0o755); err != nil {
		return "", 0, false, types.NewError(types.KindIO, "create part folder", err)
	}
	if initialExists {
		if p1 := s.partPath(1); !fileExists(p1) {
			if err := os.Rename(initial, p1); err != nil {
				return "", 0, false, types.NewError(types.KindIO, "rename existing recording", err)
			}
		}
	}

	next := s.highestPart() + 1
	if next > s.opts.MaxParts {
		utils.Debug("sink: %s already has %d parts, appending to the last one", s.opts.BaseName, s.opts.MaxParts)
		s.capped = true
		return s.partPath(s.opts.MaxParts), s.opts.MaxParts, true, nil
	}
	return s.partPath(next), next, false, nil
}

func (s *Sink) openPart(path string, number int, appendMode bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return types.NewError(types.KindIO, "open part", err)
	}

	s.file = f
	if s.w == nil {
		s.w = bufio.NewWriterSize(f, types.SinkBuffer)
	} else {
		s.w.Reset(f)
	}
	s.number = number
	s.pendingRoll = false
	s.parts = append(s.parts, types.FilePart{
		Index:     len(s.parts) + 1,
		Path:      path,
		CreatedAt: time.Now(),
	})
	utils.Debug("sink: opened part %d at %s", len(s.parts), path)
	return nil
}

func (s *Sink) closeFile() error {
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil

	var errs []error
	if err := s.w.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := f.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := f.Close(); err != nil {
		errs = append(errs, err)
	}
	s.parts[len(s.parts)-1].Closed = true
	if err := errors.Join(errs...); err != nil {
		return types.NewError(types.KindIO, "close part", err)
	}
	return nil
}

// Write appends c to the open part, rolling first when c is a discontinuity
// or a boundary after the size limit was reached. A part that has received
// no bytes is never rolled.
func (s *Sink) Write(c types.Chunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.NewError(types.KindIO, "write part", ErrClosed)
	}

	var (
		closed, opened types.FilePart
		rolled         bool
	)
	if s.current().Written > 0 && (c.Discontinuity || (s.pendingRoll && c.Boundary)) {
		var err error
		closed, opened, rolled, err = s.roll()
		if err != nil {
			s.mu.Unlock()
			return err
		}
	}

	err := s.write(c.Data)
	onRoll := s.opts.OnRoll
	s.mu.Unlock()

	if rolled && onRoll != nil {
		onRoll(closed, opened)
	}
	return err
}

func (s *Sink) write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	cur := s.current()
	n, err := s.w.Write(data)
	cur.Written += int64(n)
	if err != nil {
		return types.NewError(types.KindIO, "write part", err)
	}
	if s.opts.MaxPartSize > 0 && cur.Written >= s.opts.MaxPartSize {
		s.pendingRoll = true
	}
	return nil
}

func (s *Sink) roll() (closed, opened types.FilePart, rolled bool, err error) {
	if s.capped {
		s.pendingRoll = false
		return closed, opened, false, nil
	}

	next := s.highestPart() + 1
	if s.number == 0 && next < 2 {
		next = 2
	}
	if next <= s.number {
		next = s.number + 1
	}
	if next > s.opts.MaxParts {
		utils.Debug("sink: %s reached %d parts, appending to the last one", s.opts.BaseName, s.opts.MaxParts)
		s.capped = true
		s.pendingRoll = false
		return closed, opened, false, nil
	}

	if err := s.closeFile(); err != nil {
		return closed, opened, false, err
	}
	idx := len(s.parts) - 1

	if s.number == 0 {
		if err := os.MkdirAll(s.folder(), 0o755); err != nil {
			return closed, opened, false, types.NewError(types.KindIO, "create part folder", err)
		}
		if p1 := s.partPath(1); !fileExists(p1) {
			if err := os.Rename(s.parts[idx].Path, p1); err != nil {
				return closed, opened, false, types.NewError(types.KindIO, "rename part", err)
			}
			s.parts[idx].Path = p1
		}
	}

	if err := s.openPart(s.partPath(next), next, false); err != nil {
		return closed, opened, false, err
	}
	return s.parts[idx], s.parts[idx+1], true, nil
}

func (s *Sink) current() *types.FilePart {
	return &s.parts[len(s.parts)-1]
}

// Flush pushes buffered bytes of the open part to the OS.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.file == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return types.NewError(types.KindIO, "flush part", err)
	}
	return nil
}

// Current returns the open part, or the last part after Close.
func (s *Sink) Current() types.FilePart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.current()
}

// Parts returns every part written so far, in order.
func (s *Sink) Parts() []types.FilePart {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.FilePart, len(s.parts))
	copy(out, s.parts)
	return out
}

// Close flushes and closes the open part and releases the lock. It is safe
// to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.closeFile()
	s.releaseLock()
	return err
}

func (s *Sink) releaseLock() {
	if err := s.lock.Unlock(); err != nil {
		utils.Debug("sink: unlock %s: %v", s.lock.Path(), err)
	}
	_ = os.Remove(s.lock.Path())
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
