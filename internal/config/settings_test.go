package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings()

	if settings == nil {
		t.Fatal("DefaultSettings returned nil")
	}

	t.Run("GeneralSettings", func(t *testing.T) {
		if settings.General.RecordDir == "" {
			t.Error("Default record directory should not be empty")
		}
		if !strings.Contains(settings.General.FilenameTemplate, "{room_id}") {
			t.Errorf("Default template should contain {room_id}, got: %s", settings.General.FilenameTemplate)
		}
		if settings.General.LogRetentionCount <= 0 {
			t.Errorf("LogRetentionCount should be positive, got: %d", settings.General.LogRetentionCount)
		}
	})

	t.Run("RecordingSettings", func(t *testing.T) {
		if settings.Recording.Quality != "original" {
			t.Errorf("Quality: got %q, want original", settings.Recording.Quality)
		}
		if settings.Recording.Format != "flv" {
			t.Errorf("Format: got %q, want flv", settings.Recording.Format)
		}
		if settings.Recording.MaxPartSize != 0 {
			t.Errorf("MaxPartSize should default to unlimited, got: %d", settings.Recording.MaxPartSize)
		}
		if settings.Recording.MaxParts != 50 {
			t.Errorf("MaxParts: got %d, want 50", settings.Recording.MaxParts)
		}
	})

	t.Run("ReconnectSettings", func(t *testing.T) {
		if !settings.Reconnect.AutoReconnect {
			t.Error("AutoReconnect should be true by default")
		}
		if settings.Reconnect.MaxAttempts <= 0 {
			t.Errorf("MaxAttempts should be positive, got: %d", settings.Reconnect.MaxAttempts)
		}
		if settings.Reconnect.Delay <= 0 {
			t.Errorf("Delay should be positive, got: %v", settings.Reconnect.Delay)
		}
	})

	t.Run("NetworkSettings", func(t *testing.T) {
		// UserAgent can be empty (means use default)
		if settings.Network.ReadBufferSize <= 0 {
			t.Errorf("ReadBufferSize should be positive, got: %d", settings.Network.ReadBufferSize)
		}
		if settings.Network.ReadIdleTimeout <= 0 {
			t.Errorf("ReadIdleTimeout should be positive, got: %v", settings.Network.ReadIdleTimeout)
		}
		if settings.Network.SkipTLSVerification {
			t.Error("SkipTLSVerification should be false by default")
		}
	})

	t.Run("HLSSettings", func(t *testing.T) {
		if settings.HLS.PollInterval <= 0 {
			t.Errorf("PollInterval should be positive, got: %v", settings.HLS.PollInterval)
		}
		if settings.HLS.SegmentRetries <= 0 {
			t.Errorf("SegmentRetries should be positive, got: %d", settings.HLS.SegmentRetries)
		}
	})
}

func TestGetSettingsPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("BLIVE_HOME", home)

	path := GetSettingsPath()
	if path != filepath.Join(home, "settings.json") {
		t.Errorf("GetSettingsPath: got %q", path)
	}
	if GetHistoryPath() != filepath.Join(home, "state", "history.db") {
		t.Errorf("GetHistoryPath: got %q", GetHistoryPath())
	}
	if GetLogsDir() != filepath.Join(home, "logs") {
		t.Errorf("GetLogsDir: got %q", GetLogsDir())
	}
}

// =============================================================================
// Load / Save
// =============================================================================

func TestSaveAndLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	original := DefaultSettings()
	original.General.RecordDir = "/tmp/recordings"
	original.Recording.Quality = "4k"
	original.Recording.MaxPartSize = 512 * MB
	original.Reconnect.AutoReconnect = false
	original.Reconnect.Delay = 2 * time.Second
	original.Network.ProxyURL = "socks5://127.0.0.1:1080"
	original.HLS.MaxEmptyPolls = 7

	if err := SaveSettingsTo(path, original); err != nil {
		t.Fatalf("SaveSettingsTo failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away")
	}

	loaded, err := LoadSettingsFrom(path)
	if err != nil {
		t.Fatalf("LoadSettingsFrom failed: %v", err)
	}

	if loaded.General.RecordDir != original.General.RecordDir {
		t.Errorf("RecordDir: got %q, want %q", loaded.General.RecordDir, original.General.RecordDir)
	}
	if loaded.Recording.Quality != "4k" {
		t.Errorf("Quality: got %q, want 4k", loaded.Recording.Quality)
	}
	if loaded.Recording.MaxPartSize != 512*MB {
		t.Errorf("MaxPartSize: got %d", loaded.Recording.MaxPartSize)
	}
	if loaded.Reconnect.AutoReconnect {
		t.Error("AutoReconnect should round-trip as false")
	}
	if loaded.Reconnect.Delay != 2*time.Second {
		t.Errorf("Delay: got %v", loaded.Reconnect.Delay)
	}
	if loaded.Network.ProxyURL != original.Network.ProxyURL {
		t.Errorf("ProxyURL: got %q", loaded.Network.ProxyURL)
	}
	if loaded.HLS.MaxEmptyPolls != 7 {
		t.Errorf("MaxEmptyPolls: got %d", loaded.HLS.MaxEmptyPolls)
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	settings, err := LoadSettingsFrom(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if settings.Reconnect.MaxAttempts != DefaultSettings().Reconnect.MaxAttempts {
		t.Error("missing file should yield defaults")
	}
}

func TestLoadSettings_CorruptedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettingsFrom(path); err == nil {
		t.Error("expected error for corrupted JSON")
	}
}

func TestLoadSettings_PartialJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	partial := `{"reconnect": {"max_attempts": 3}}`
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	settings, err := LoadSettingsFrom(path)
	if err != nil {
		t.Fatalf("LoadSettingsFrom failed: %v", err)
	}
	if settings.Reconnect.MaxAttempts != 3 {
		t.Errorf("MaxAttempts: got %d, want 3", settings.Reconnect.MaxAttempts)
	}
	// Fields absent from the file keep their defaults
	if settings.HLS.SegmentRetries != DefaultSettings().HLS.SegmentRetries {
		t.Errorf("SegmentRetries should keep default, got %d", settings.HLS.SegmentRetries)
	}
	if settings.Recording.Format != "flv" {
		t.Errorf("Format should keep default, got %q", settings.Recording.Format)
	}
}

func TestSaveAndLoadSettings_RealFunction(t *testing.T) {
	t.Setenv("BLIVE_HOME", t.TempDir())

	s := DefaultSettings()
	s.Events.BusCapacity = 8
	if err := SaveSettings(s); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	loaded, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if loaded.Events.BusCapacity != 8 {
		t.Errorf("BusCapacity: got %d, want 8", loaded.Events.BusCapacity)
	}
}

// =============================================================================
// Runtime config / metadata
// =============================================================================

func TestToRuntimeConfig(t *testing.T) {
	s := DefaultSettings()
	s.Network.UserAgent = "Agent/1.0"
	s.Network.Referer = "https://example.com/"
	s.Reconnect.AutoReconnect = false
	s.Reconnect.MaxAttempts = 4
	s.Recording.MaxPartSize = 10 * MB
	s.HLS.PollInterval = 250 * time.Millisecond
	s.Events.ProgressInterval = 2 * time.Second

	rc := s.ToRuntimeConfig()

	if rc.UserAgent != "Agent/1.0" {
		t.Errorf("UserAgent: got %q", rc.UserAgent)
	}
	if rc.Referer != "https://example.com/" {
		t.Errorf("Referer: got %q", rc.Referer)
	}
	if rc.AutoReconnect {
		t.Error("AutoReconnect should be false")
	}
	if rc.MaxReconnectAttempts != 4 {
		t.Errorf("MaxReconnectAttempts: got %d", rc.MaxReconnectAttempts)
	}
	if rc.MaxPartSize != 10*MB {
		t.Errorf("MaxPartSize: got %d", rc.MaxPartSize)
	}
	if rc.HLSPollInterval != 250*time.Millisecond {
		t.Errorf("HLSPollInterval: got %v", rc.HLSPollInterval)
	}
	if rc.ProgressInterval != 2*time.Second {
		t.Errorf("ProgressInterval: got %v", rc.ProgressInterval)
	}
	if rc.FilenameTemplate != s.General.FilenameTemplate {
		t.Errorf("FilenameTemplate: got %q", rc.FilenameTemplate)
	}
}

func TestGetSettingsMetadata(t *testing.T) {
	metadata := GetSettingsMetadata()

	for _, category := range CategoryOrder() {
		settings, ok := metadata[category]
		if !ok {
			t.Errorf("category %q missing from metadata", category)
			continue
		}
		if len(settings) == 0 {
			t.Errorf("category %q has no settings", category)
		}
		for _, meta := range settings {
			if meta.Key == "" || meta.Label == "" {
				t.Errorf("category %q has a setting without key or label", category)
			}
			switch meta.Type {
			case "string", "int", "int64", "bool", "duration":
			default:
				t.Errorf("setting %q has unknown type %q", meta.Key, meta.Type)
			}
		}
	}

	if len(metadata) != len(CategoryOrder()) {
		t.Errorf("metadata has %d categories, CategoryOrder has %d", len(metadata), len(CategoryOrder()))
	}
}

// Every metadata key must exist as a JSON key of its category.
func TestGetSettingsMetadata_KeysMatchJSON(t *testing.T) {
	data, err := json.Marshal(DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}

	for category, settings := range GetSettingsMetadata() {
		fields := raw[strings.ToLower(category)]
		if fields == nil {
			t.Errorf("no JSON object for category %q", category)
			continue
		}
		for _, meta := range settings {
			if _, ok := fields[meta.Key]; !ok {
				t.Errorf("%s.%s not present in JSON", category, meta.Key)
			}
		}
	}
}

func TestSettings_SetAndGet(t *testing.T) {
	s := DefaultSettings()

	cases := []struct {
		key, value string
		want       any
	}{
		{"record_dir", "/tmp/rec", "/tmp/rec"},
		{"max_part_size", "512MiB", int64(512 * MB)},
		{"max_part_size", "0", int64(0)},
		{"max_attempts", "7", 7},
		{"delay", "250ms", 250 * time.Millisecond},
		{"auto_reconnect", "false", false},
		{"poll_interval", "2s", 2 * time.Second},
	}
	for _, c := range cases {
		if err := s.Set(c.key, c.value); err != nil {
			t.Fatalf("Set(%s, %s): %v", c.key, c.value, err)
		}
		got, ok := s.Get(c.key)
		if !ok {
			t.Fatalf("Get(%s) not found", c.key)
		}
		if got != c.want {
			t.Errorf("%s: got %v (%T), want %v (%T)", c.key, got, got, c.want, c.want)
		}
	}

	if s.Recording.MaxPartSize != 0 || s.Reconnect.MaxAttempts != 7 {
		t.Errorf("Set did not write through to the struct: %+v %+v", s.Recording, s.Reconnect)
	}
}

func TestSettings_SetRejectsBadInput(t *testing.T) {
	s := DefaultSettings()
	for _, kv := range [][2]string{
		{"no_such_key", "1"},
		{"max_attempts", "many"},
		{"delay", "5"},
		{"auto_reconnect", "maybe"},
		{"max_part_size", "huge"},
	} {
		if err := s.Set(kv[0], kv[1]); err == nil {
			t.Errorf("Set(%s, %s) should fail", kv[0], kv[1])
		}
	}
	if s.Reconnect.MaxAttempts != DefaultSettings().Reconnect.MaxAttempts {
		t.Error("failed Set must not change the value")
	}
}

func TestSettings_ValuesAndReset(t *testing.T) {
	s := DefaultSettings()
	for _, category := range CategoryOrder() {
		values := s.Values(category)
		if len(values) != len(GetSettingsMetadata()[category]) {
			t.Errorf("%s: %d values for %d settings", category, len(values), len(GetSettingsMetadata()[category]))
		}
	}

	s.HLS.MaxEmptyPolls = 1
	if err := s.Reset("max_empty_polls"); err != nil {
		t.Fatal(err)
	}
	if s.HLS.MaxEmptyPolls != DefaultSettings().HLS.MaxEmptyPolls {
		t.Errorf("Reset: got %d", s.HLS.MaxEmptyPolls)
	}
	if err := s.Reset("nope"); err == nil {
		t.Error("Reset of unknown key should fail")
	}
}

func TestFormatValue(t *testing.T) {
	cases := []struct {
		value any
		typ   string
		want  string
	}{
		{true, "bool", "True"},
		{false, "bool", "False"},
		{5 * time.Second, "duration", "5s"},
		{int64(0), "int64", "0 (off)"},
		{int64(512 * MB), "int64", "512 MiB"},
		{"", "string", "(default)"},
		{"flv", "string", "flv"},
		{30, "int", "30"},
	}
	for _, c := range cases {
		if got := FormatValue(c.value, c.typ); got != c.want {
			t.Errorf("FormatValue(%v): got %q, want %q", c.value, got, c.want)
		}
	}
}

func TestFormatEditable_RoundTrips(t *testing.T) {
	s := DefaultSettings()
	s.Recording.MaxPartSize = 3 * GB
	s.Reconnect.Delay = 1500 * time.Millisecond

	for _, key := range []string{"max_part_size", "delay", "max_attempts", "auto_reconnect", "quality"} {
		v, _ := s.Get(key)
		fresh := DefaultSettings()
		if err := fresh.Set(key, FormatEditable(v)); err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		got, _ := fresh.Get(key)
		if got != v {
			t.Errorf("%s: got %v, want %v", key, got, v)
		}
	}
}
