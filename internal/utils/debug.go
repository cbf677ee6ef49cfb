package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	logMu     sync.Mutex
	logDir    string
	logFile   *os.File
	logger    *slog.Logger
	debugOnce sync.Once
)

// ConfigureDebug sets the directory debug logs are written to. It must be
// called before the first Debug call to take effect.
func ConfigureDebug(dir string) {
	logMu.Lock()
	defer logMu.Unlock()
	logDir = dir
}

func initLogger() {
	logMu.Lock()
	defer logMu.Unlock()

	var w io.Writer = io.Discard
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err == nil {
			name := fmt.Sprintf("debug-%s.log", time.Now().Format("20060102-150405"))
			if f, err := os.Create(filepath.Join(logDir, name)); err == nil {
				logFile = f
				w = f
			}
		}
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Logger returns the structured debug logger.
func Logger() *slog.Logger {
	debugOnce.Do(initLogger)
	return logger
}

// Debug writes a formatted message to the debug log
func Debug(format string, args ...any) {
	Logger().Debug(fmt.Sprintf(format, args...))
}

// CloseDebug flushes and closes the current log file.
func CloseDebug() {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
}

// CleanupLogs keeps the newest retain debug logs in dir and removes the rest.
func CleanupLogs(dir string, retain int) error {
	if retain < 1 {
		retain = 1
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "debug-") && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e.Name())
		}
	}
	if len(logs) <= retain {
		return nil
	}

	// Names embed a sortable timestamp.
	sort.Strings(logs)
	for _, name := range logs[:len(logs)-retain] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
