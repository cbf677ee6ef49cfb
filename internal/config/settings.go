package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General   GeneralSettings   `json:"general"`
	Recording RecordingSettings `json:"recording"`
	Reconnect ReconnectSettings `json:"reconnect"`
	Network   NetworkSettings   `json:"network"`
	HLS       HLSSettings       `json:"hls"`
	Events    EventSettings     `json:"events"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	RecordDir         string `json:"record_dir"`
	FilenameTemplate  string `json:"filename_template"`
	Theme             int    `json:"theme"`
	LogRetentionCount int    `json:"log_retention_count"`
	KeepHistory       bool   `json:"keep_history"`
}

const (
	ThemeAdaptive = 0
	ThemeLight    = 1
	ThemeDark     = 2
)

// RecordingSettings selects what is recorded and how parts are rolled.
type RecordingSettings struct {
	Quality     string `json:"quality"`
	Format      string `json:"format"`
	Codec       string `json:"codec"`
	Strategy    string `json:"strategy"` // "low_cost" or "priority_config"
	MaxPartSize int64  `json:"max_part_size"`
	MaxParts    int    `json:"max_parts"`
}

// ReconnectSettings controls the reconnect policy.
type ReconnectSettings struct {
	AutoReconnect bool          `json:"auto_reconnect"`
	MaxAttempts   int           `json:"max_attempts"`
	Delay         time.Duration `json:"delay"`
}

// NetworkSettings contains HTTP parameters.
type NetworkSettings struct {
	UserAgent           string        `json:"user_agent"`
	Referer             string        `json:"referer"`
	ProxyURL            string        `json:"proxy_url"`
	SkipTLSVerification bool          `json:"skip_tls_verification"`
	ReadBufferSize      int           `json:"read_buffer_size"`
	ReadIdleTimeout     time.Duration `json:"read_idle_timeout"`
	StopTimeout         time.Duration `json:"stop_timeout"`
}

// HLSSettings tunes the segmented fetcher.
type HLSSettings struct {
	PollInterval    time.Duration `json:"poll_interval"`
	MaxEmptyPolls   int           `json:"max_empty_polls"`
	SegmentRetries  int           `json:"segment_retries"`
	ManifestTimeout time.Duration `json:"manifest_timeout"`
	SegmentTimeout  time.Duration `json:"segment_timeout"`
}

// EventSettings tunes progress reporting.
type EventSettings struct {
	BusCapacity      int           `json:"bus_capacity"`
	ProgressInterval time.Duration `json:"progress_interval"`
}

// SettingMeta provides metadata for a single setting (for UI rendering).
type SettingMeta struct {
	Key         string // JSON key name
	Label       string // Human-readable label
	Description string // Help text displayed in right pane
	Type        string // "string", "int", "int64", "bool", "duration"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "record_dir", Label: "Record Dir", Description: "Directory recordings are written to.", Type: "string"},
			{Key: "filename_template", Label: "Filename Template", Description: "Placeholders: {up_name} {room_id} {room_title} {room_area_name} {date} {datetime}.", Type: "string"},
			{Key: "theme", Label: "App Theme", Description: "UI Theme (System, Light, Dark).", Type: "int"},
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
			{Key: "keep_history", Label: "Keep History", Description: "Record finished sessions and parts in the history database.", Type: "bool"},
		},
		"Recording": {
			{Key: "quality", Label: "Quality", Description: "Requested quality (dolby, 4k, original, blueray, ultrahd, hd, smooth).", Type: "string"},
			{Key: "format", Label: "Format", Description: "Requested container (flv, ts, fmp4).", Type: "string"},
			{Key: "codec", Label: "Codec", Description: "Requested codec (avc, hevc). Leave empty for any.", Type: "string"},
			{Key: "strategy", Label: "Strategy", Description: "low_cost prefers the continuous stream, priority_config prefers HLS.", Type: "string"},
			{Key: "max_part_size", Label: "Max Part Size", Description: "Roll to a new part after this many bytes. 0 disables.", Type: "int64"},
			{Key: "max_parts", Label: "Max Parts", Description: "Highest _P suffix used before appending to the last part.", Type: "int"},
		},
		"Reconnect": {
			{Key: "auto_reconnect", Label: "Auto Reconnect", Description: "Retry after network failures instead of stopping.", Type: "bool"},
			{Key: "max_attempts", Label: "Max Attempts", Description: "Consecutive reconnect attempts before giving up.", Type: "int"},
			{Key: "delay", Label: "Reconnect Delay", Description: "Fixed wait before each reconnect (e.g., 5s).", Type: "duration"},
		},
		"Network": {
			{Key: "user_agent", Label: "User Agent", Description: "Custom User-Agent string for HTTP requests. Leave empty for default.", Type: "string"},
			{Key: "referer", Label: "Referer", Description: "Referer header sent with every request.", Type: "string"},
			{Key: "proxy_url", Label: "Proxy URL", Description: "HTTP or SOCKS5 proxy URL. Leave empty to use system default.", Type: "string"},
			{Key: "skip_tls_verification", Label: "Skip TLS Verify", Description: "Accept invalid certificates from CDN nodes.", Type: "bool"},
			{Key: "read_buffer_size", Label: "Read Buffer", Description: "Read size for continuous streams in bytes.", Type: "int"},
			{Key: "read_idle_timeout", Label: "Read Timeout", Description: "Reconnect when a stream delivers nothing for this long.", Type: "duration"},
			{Key: "stop_timeout", Label: "Stop Timeout", Description: "How long stop waits for a recording to flush.", Type: "duration"},
		},
		"HLS": {
			{Key: "poll_interval", Label: "Poll Interval", Description: "Playlist refresh interval.", Type: "duration"},
			{Key: "max_empty_polls", Label: "Max Empty Polls", Description: "Polls without new segments before reconnecting.", Type: "int"},
			{Key: "segment_retries", Label: "Segment Retries", Description: "Attempts per segment before reconnecting.", Type: "int"},
			{Key: "manifest_timeout", Label: "Manifest Timeout", Description: "Timeout for one playlist request.", Type: "duration"},
			{Key: "segment_timeout", Label: "Segment Timeout", Description: "Timeout for one segment request.", Type: "duration"},
		},
		"Events": {
			{Key: "bus_capacity", Label: "Queue Size", Description: "Events buffered per subscriber before progress is coalesced.", Type: "int"},
			{Key: "progress_interval", Label: "Progress Interval", Description: "Minimum time between progress events.", Type: "duration"},
		},
	}
}

// CategoryOrder returns the order of categories for UI tabs.
func CategoryOrder() []string {
	return []string{"General", "Recording", "Reconnect", "Network", "HLS", "Events"}
}

const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	defaultDir := filepath.Join(homeDir, "Movies", "blive")

	return &Settings{
		General: GeneralSettings{
			RecordDir:         defaultDir,
			FilenameTemplate:  "{up_name}_{room_id}_{datetime}",
			Theme:             ThemeAdaptive,
			LogRetentionCount: 5,
			KeepHistory:       true,
		},
		Recording: RecordingSettings{
			Quality:     "original",
			Format:      "flv",
			Codec:       "avc",
			Strategy:    "low_cost",
			MaxPartSize: 0,
			MaxParts:    50,
		},
		Reconnect: ReconnectSettings{
			AutoReconnect: true,
			MaxAttempts:   30,
			Delay:         5 * time.Second,
		},
		Network: NetworkSettings{
			UserAgent:       "", // Empty means use default UA
			Referer:         "",
			ReadBufferSize:  32 * KB,
			ReadIdleTimeout: 30 * time.Second,
			StopTimeout:     15 * time.Second,
		},
		HLS: HLSSettings{
			PollInterval:    1 * time.Second,
			MaxEmptyPolls:   30,
			SegmentRetries:  3,
			ManifestTimeout: 10 * time.Second,
			SegmentTimeout:  30 * time.Second,
		},
		Events: EventSettings{
			BusCapacity:      64,
			ProgressInterval: 1 * time.Second,
		},
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetAppDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom loads settings from path, filling missing fields with defaults.
func LoadSettingsFrom(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	return SaveSettingsTo(GetSettingsPath(), s)
}

// SaveSettingsTo writes settings to path via a temp file and rename.
func SaveSettingsTo(path string, s *Settings) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// RuntimeConfig is the engine-facing view of Settings.
// This is used to pass user settings to the recording engine
type RuntimeConfig struct {
	UserAgent           string
	Referer             string
	ProxyURL            string
	SkipTLSVerification bool
	ReadBufferSize      int
	ReadIdleTimeout     time.Duration
	ManifestTimeout     time.Duration
	SegmentTimeout      time.Duration
	StopTimeout         time.Duration

	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	HLSPollInterval  time.Duration
	HLSMaxEmptyPolls int
	SegmentRetries   int

	MaxPartSize      int64
	MaxParts         int
	FilenameTemplate string

	EventBusCapacity int
	ProgressInterval time.Duration
}

// ToRuntimeConfig creates a RuntimeConfig from user Settings
func (s *Settings) ToRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		UserAgent:            s.Network.UserAgent,
		Referer:              s.Network.Referer,
		ProxyURL:             s.Network.ProxyURL,
		SkipTLSVerification:  s.Network.SkipTLSVerification,
		ReadBufferSize:       s.Network.ReadBufferSize,
		ReadIdleTimeout:      s.Network.ReadIdleTimeout,
		ManifestTimeout:      s.HLS.ManifestTimeout,
		SegmentTimeout:       s.HLS.SegmentTimeout,
		StopTimeout:          s.Network.StopTimeout,
		AutoReconnect:        s.Reconnect.AutoReconnect,
		MaxReconnectAttempts: s.Reconnect.MaxAttempts,
		ReconnectDelay:       s.Reconnect.Delay,
		HLSPollInterval:      s.HLS.PollInterval,
		HLSMaxEmptyPolls:     s.HLS.MaxEmptyPolls,
		SegmentRetries:       s.HLS.SegmentRetries,
		MaxPartSize:          s.Recording.MaxPartSize,
		MaxParts:             s.Recording.MaxParts,
		FilenameTemplate:     s.General.FilenameTemplate,
		EventBusCapacity:     s.Events.BusCapacity,
		ProgressInterval:     s.Events.ProgressInterval,
	}
}
