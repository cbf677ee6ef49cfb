package utils

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ConvertBytesToHumanReadable formats a byte count, e.g. 1536 -> "1.5 KiB"
func ConvertBytesToHumanReadable(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// FormatSpeed formats bytes per second.
func FormatSpeed(bps float64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}

// FormatDuration renders d as H:MM:SS.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// FormatTimeAgo renders t relative to now, e.g. "3 minutes ago".
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
