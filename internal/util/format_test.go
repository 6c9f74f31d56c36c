package util

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "-"},
		{90 * time.Second, "1 minute 30 seconds"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2 hours 3 minutes"},
		{1500 * time.Millisecond, "1 second"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatMillis(t *testing.T) {
	if got := FormatMillis(1234 * time.Millisecond); got != "1,234ms" {
		t.Errorf("got %q", got)
	}
	if got := FormatMillis(0); got != "-" {
		t.Errorf("got %q", got)
	}
}

func TestFormatBytes(t *testing.T) {
	if got := FormatBytes(4_200_000); got != "4.2 MB" {
		t.Errorf("got %q", got)
	}
}
