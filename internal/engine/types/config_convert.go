package types

import "github.com/blive-rec/blive/internal/config"

// ConvertRuntimeConfig converts the app-level RuntimeConfig to the engine-level RuntimeConfig.
func ConvertRuntimeConfig(rc *config.RuntimeConfig) *RuntimeConfig {
	return &RuntimeConfig{
		UserAgent:            rc.UserAgent,
		Referer:              rc.Referer,
		ProxyURL:             rc.ProxyURL,
		SkipTLSVerification:  rc.SkipTLSVerification,
		ReadBufferSize:       rc.ReadBufferSize,
		ReadIdleTimeout:      rc.ReadIdleTimeout,
		ManifestTimeout:      rc.ManifestTimeout,
		SegmentTimeout:       rc.SegmentTimeout,
		StopTimeout:          rc.StopTimeout,
		DisableAutoReconnect: !rc.AutoReconnect,
		MaxReconnectAttempts: rc.MaxReconnectAttempts,
		ReconnectDelay:       rc.ReconnectDelay,
		HLSPollInterval:      rc.HLSPollInterval,
		HLSMaxEmptyPolls:     rc.HLSMaxEmptyPolls,
		SegmentRetries:       rc.SegmentRetries,
		MaxPartSize:          rc.MaxPartSize,
		MaxParts:             rc.MaxParts,
		FilenameTemplate:     rc.FilenameTemplate,
		EventBusCapacity:     rc.EventBusCapacity,
		ProgressInterval:     rc.ProgressInterval,
	}
}
