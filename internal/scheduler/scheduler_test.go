package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/energizer-project/relayhost/internal/config"
)

type fakePruner struct {
	cutoffs []time.Time
	err     error
}

func (f *fakePruner) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, f.err
}

func TestNextRunAt(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		clock string
		want  time.Time
	}{
		{"13:00", time.Date(2024, 5, 10, 13, 0, 0, 0, time.UTC)},
		{"04:00", time.Date(2024, 5, 11, 4, 0, 0, 0, time.UTC)},
		{"12:30", time.Date(2024, 5, 11, 12, 30, 0, 0, time.UTC)},
		{"garbage", time.Date(2024, 5, 11, 4, 0, 0, 0, time.UTC)},
		{"25:00", time.Date(2024, 5, 11, 4, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := nextRunAt(tt.clock, now); !got.Equal(tt.want) {
			t.Errorf("nextRunAt(%q) = %v, want %v", tt.clock, got, tt.want)
		}
	}
}

func TestRunOnceUsesRetentionWindow(t *testing.T) {
	p := &fakePruner{}
	s := NewScheduler(config.StorageConfig{RetentionDays: 7}, p)

	now := time.Date(2024, 5, 10, 4, 0, 0, 0, time.UTC)
	s.RunOnce(context.Background(), now)

	if len(p.cutoffs) != 1 {
		t.Fatalf("expected one prune call, got %d", len(p.cutoffs))
	}
	if want := now.AddDate(0, 0, -7); !p.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoffs[0], want)
	}

	p.err = errors.New("disk full")
	s.RunOnce(context.Background(), now)
	if len(p.cutoffs) != 2 {
		t.Errorf("expected failing prune to still be attempted")
	}
}

func TestStartDisabledReturnsImmediately(t *testing.T) {
	p := &fakePruner{}
	s := NewScheduler(config.StorageConfig{RetentionDays: 0}, p)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start blocked with retention disabled")
	}
	if len(p.cutoffs) != 0 {
		t.Error("pruner called while disabled")
	}
}
