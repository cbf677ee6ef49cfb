package config

import (
	"os"
	"path/filepath"
)

// AppName is used for the per-user config and state directories.
const AppName = "blive"

// GetAppDir returns the per-user configuration directory.
// BLIVE_HOME overrides it, which tests rely on.
func GetAppDir() string {
	if dir := os.Getenv("BLIVE_HOME"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, "."+AppName)
}

// GetStateDir returns the directory holding the history database.
func GetStateDir() string {
	return filepath.Join(GetAppDir(), "state")
}

// GetLogsDir returns the directory debug logs are written to.
func GetLogsDir() string {
	return filepath.Join(GetAppDir(), "logs")
}

// GetHistoryPath returns the sqlite history database path.
func GetHistoryPath() string {
	return filepath.Join(GetStateDir(), "history.db")
}
