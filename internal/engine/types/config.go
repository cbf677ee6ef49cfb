package types

import (
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB

	// Megabyte as float for display calculations
	Megabyte = 1024.0 * 1024.0
)

// Read sizes for the continuous fetcher
const (
	ReadBuffer = 32 * KB

	// SinkBuffer is the bufio size in front of each part file
	SinkBuffer = 256 * KB
)

// HTTP Client Tuning
const (
	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration            = 30 * time.Second
)

// Per-operation timeouts
const (
	ReadIdleTimeout  = 30 * time.Second // continuous stream: no byte for this long is a transport error
	ManifestTimeout  = 10 * time.Second
	SegmentTimeout   = 30 * time.Second
	StopTimeout      = 15 * time.Second
	ProgressInterval = 1 * time.Second
)

// Reconnect policy defaults
const (
	MaxReconnectAttempts = 30
	ReconnectDelay       = 5 * time.Second
)

// HLS defaults
const (
	HLSPollInterval  = 1 * time.Second
	HLSMaxEmptyPolls = 30
	SegmentRetries   = 3
	RetryBaseDelay   = 200 * time.Millisecond
	MaxRetryAfter    = 10 * time.Second
)

// Part rolling
const (
	// MaxParts caps the _P{n} suffix; once reached the last part is appended to.
	MaxParts = 50

	DefaultFilenameTemplate = "{up_name}_{room_id}_{datetime}"
)

// Channel buffer sizes
const (
	EventBusCapacity = 64
	SpeedEMAAlpha    = 0.3
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultReferer   = "https://live.bilibili.com/"
)

// RuntimeConfig holds dynamic settings that can override defaults
type RuntimeConfig struct {
	UserAgent           string
	Referer             string
	ProxyURL            string
	SkipTLSVerification bool

	ReadBufferSize  int
	ReadIdleTimeout time.Duration
	ManifestTimeout time.Duration
	SegmentTimeout  time.Duration
	StopTimeout     time.Duration

	// DisableAutoReconnect makes every transport failure terminal.
	DisableAutoReconnect bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	HLSPollInterval  time.Duration
	HLSMaxEmptyPolls int
	SegmentRetries   int

	// MaxPartSize is the byte size after which the sink rolls at the next
	// boundary. Zero or negative disables size-based rolling.
	MaxPartSize      int64
	MaxParts         int
	FilenameTemplate string

	EventBusCapacity int
	ProgressInterval time.Duration
	SpeedEmaAlpha    float64
}

// GetUserAgent returns the configured user agent or the default
func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return DefaultUserAgent
	}
	return r.UserAgent
}

// GetReferer returns the configured referer or the default
func (r *RuntimeConfig) GetReferer() string {
	if r == nil || r.Referer == "" {
		return DefaultReferer
	}
	return r.Referer
}

// GetReadBufferSize returns configured value or default
func (r *RuntimeConfig) GetReadBufferSize() int {
	if r == nil || r.ReadBufferSize <= 0 {
		return ReadBuffer
	}
	return r.ReadBufferSize
}

// GetReadIdleTimeout returns configured value or default
func (r *RuntimeConfig) GetReadIdleTimeout() time.Duration {
	if r == nil || r.ReadIdleTimeout <= 0 {
		return ReadIdleTimeout
	}
	return r.ReadIdleTimeout
}

// GetManifestTimeout returns configured value or default
func (r *RuntimeConfig) GetManifestTimeout() time.Duration {
	if r == nil || r.ManifestTimeout <= 0 {
		return ManifestTimeout
	}
	return r.ManifestTimeout
}

// GetSegmentTimeout returns configured value or default
func (r *RuntimeConfig) GetSegmentTimeout() time.Duration {
	if r == nil || r.SegmentTimeout <= 0 {
		return SegmentTimeout
	}
	return r.SegmentTimeout
}

// GetStopTimeout returns configured value or default
func (r *RuntimeConfig) GetStopTimeout() time.Duration {
	if r == nil || r.StopTimeout <= 0 {
		return StopTimeout
	}
	return r.StopTimeout
}

// IsAutoReconnect reports whether transport failures go through the reconnect policy
func (r *RuntimeConfig) IsAutoReconnect() bool {
	return r == nil || !r.DisableAutoReconnect
}

// GetMaxReconnectAttempts returns configured value or default
func (r *RuntimeConfig) GetMaxReconnectAttempts() int {
	if r == nil || r.MaxReconnectAttempts <= 0 {
		return MaxReconnectAttempts
	}
	return r.MaxReconnectAttempts
}

// GetReconnectDelay returns configured value or default
func (r *RuntimeConfig) GetReconnectDelay() time.Duration {
	if r == nil || r.ReconnectDelay <= 0 {
		return ReconnectDelay
	}
	return r.ReconnectDelay
}

// GetHLSPollInterval returns configured value or default
func (r *RuntimeConfig) GetHLSPollInterval() time.Duration {
	if r == nil || r.HLSPollInterval <= 0 {
		return HLSPollInterval
	}
	return r.HLSPollInterval
}

// GetHLSMaxEmptyPolls returns configured value or default
func (r *RuntimeConfig) GetHLSMaxEmptyPolls() int {
	if r == nil || r.HLSMaxEmptyPolls <= 0 {
		return HLSMaxEmptyPolls
	}
	return r.HLSMaxEmptyPolls
}

// GetSegmentRetries returns configured value or default
func (r *RuntimeConfig) GetSegmentRetries() int {
	if r == nil || r.SegmentRetries <= 0 {
		return SegmentRetries
	}
	return r.SegmentRetries
}

// GetMaxPartSize returns the configured size, 0 meaning unlimited
func (r *RuntimeConfig) GetMaxPartSize() int64 {
	if r == nil || r.MaxPartSize <= 0 {
		return 0
	}
	return r.MaxPartSize
}

// GetMaxParts returns configured value or default
func (r *RuntimeConfig) GetMaxParts() int {
	if r == nil || r.MaxParts <= 0 {
		return MaxParts
	}
	return r.MaxParts
}

// GetFilenameTemplate returns configured value or default
func (r *RuntimeConfig) GetFilenameTemplate() string {
	if r == nil || r.FilenameTemplate == "" {
		return DefaultFilenameTemplate
	}
	return r.FilenameTemplate
}

// GetEventBusCapacity returns configured value or default
func (r *RuntimeConfig) GetEventBusCapacity() int {
	if r == nil || r.EventBusCapacity <= 0 {
		return EventBusCapacity
	}
	return r.EventBusCapacity
}

// GetProgressInterval returns configured value or default
func (r *RuntimeConfig) GetProgressInterval() time.Duration {
	if r == nil || r.ProgressInterval <= 0 {
		return ProgressInterval
	}
	return r.ProgressInterval
}

// GetSpeedEmaAlpha returns configured value or default
func (r *RuntimeConfig) GetSpeedEmaAlpha() float64 {
	if r == nil || r.SpeedEmaAlpha <= 0 || r.SpeedEmaAlpha > 1 {
		return SpeedEMAAlpha
	}
	return r.SpeedEmaAlpha
}
