package util

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
)

// FormatDuration renders d with its two most significant units, e.g.
// "12 minutes 4 seconds". Zero renders as "-".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).String()
}

// FormatSince renders t relative to now, e.g. "3 minutes ago".
func FormatSince(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// FormatBytes renders n as a size, e.g. "4.2 MB".
func FormatBytes(n uint64) string {
	return humanize.Bytes(n)
}

// FormatMillis renders a latency as whole milliseconds.
func FormatMillis(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return humanize.Comma(d.Milliseconds()) + "ms"
}
