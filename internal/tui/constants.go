package tui

import "time"

const (
	// Timeouts and Intervals
	TickInterval     = 500 * time.Millisecond
	NotificationTTL  = 3 * time.Second
	StopRoomTimeout  = 10 * time.Second
	SpeedHistorySize = 120

	// Layout Offsets and Padding
	DefaultPaddingX = 1
	DefaultPaddingY = 0
	HeaderHeight    = 9
	MinListHeight   = 10
	MinGraphHeight  = 9

	// Units
	Megabyte = 1024.0 * 1024.0
)
