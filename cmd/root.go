package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blive-rec/blive/internal/config"
	"github.com/blive-rec/blive/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "blive",
		Short:        "A live-stream recorder written in Go",
		Long:         `blive records live streams (FLV, TS and HLS) to disk, reconnecting through network failures and rolling output into numbered parts.`,
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Settings file (default: $BLIVE_HOME/settings.json)")
	root.SetVersionTemplate("blive version {{.Version}}\n")

	root.AddCommand(newRecordCmd(), newHistoryCmd(), newSettingsCmd())
	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// settingsPath returns the settings file selected by --config.
func settingsPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return config.GetSettingsPath()
}

// loadSettings reads the settings file, falling back to defaults when it
// does not exist yet.
func loadSettings(cmd *cobra.Command) (*config.Settings, string, error) {
	path := settingsPath(cmd)
	settings, err := config.LoadSettingsFrom(path)
	if err != nil {
		return nil, path, fmt.Errorf("load settings %s: %w", path, err)
	}
	return settings, path, nil
}

// initializeGlobalState sets up the state directories and debug logging
func initializeGlobalState(settings *config.Settings) {
	logsDir := config.GetLogsDir()
	_ = os.MkdirAll(config.GetStateDir(), 0o755)
	_ = os.MkdirAll(logsDir, 0o755)

	utils.ConfigureDebug(logsDir)
	if err := utils.CleanupLogs(logsDir, settings.General.LogRetentionCount); err != nil {
		utils.Debug("cleanup logs: %v", err)
	}
	utils.Debug("blive %s (%s) starting", Version, BuildTime)
}
