package game

import (
	"slices"
	"testing"
	"time"

	"github.com/energizer-project/relayhost/internal/protocol"
)

func TestLagHysteresis(t *testing.T) {
	trajectory := []uint32{10, 55, 40, 24}
	want := []bool{false, true, true, false}
	lagging := false
	for i, d := range trajectory {
		lagging = nextLagState(lagging, d, 50)
		if lagging != want[i] {
			t.Fatalf("step %d deficit %d: lagging=%v, want %v", i, d, lagging, want[i])
		}
	}
	if nextLagState(false, 50, 50) {
		t.Fatal("deficit equal to the limit started lagging")
	}
	if !nextLagState(true, 25, 50) {
		t.Fatal("deficit equal to half the limit stopped lagging")
	}
}

func TestSyncDeficit(t *testing.T) {
	if syncDeficit(10, 12) != 0 || syncDeficit(12, 10) != 2 {
		t.Fatal("deficit wrong")
	}
}

func TestDesyncEvictions(t *testing.T) {
	cases := []struct {
		name   string
		fronts []uint32
		want   []int
	}{
		{"agree", []uint32{7, 7, 7}, nil},
		{"single outlier", []uint32{7, 7, 9}, []int{2}},
		{"two outliers", []uint32{1, 2, 1, 3, 1}, []int{1, 3}},
		{"even split", []uint32{1, 1, 2, 2}, []int{0, 1, 2, 3}},
		{"plurality only", []uint32{1, 1, 2, 3, 4}, []int{0, 1, 2, 3, 4}},
		{"two players", []uint32{5, 6}, []int{0, 1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := desyncEvictions(c.fronts); !slices.Equal(got, c.want) {
				t.Fatalf("evicted %v, want %v", got, c.want)
			}
		})
	}
}

func TestBatchActionsRespectsLimit(t *testing.T) {
	mk := func(n int) protocol.Action { return protocol.Action{PID: 1, Data: make([]byte, n)} }
	actions := []protocol.Action{mk(700), mk(700), mk(100), mk(1449), mk(10)}
	batches := batchActions(actions, protocol.MaxActionBatch)

	if len(batches) != 4 {
		t.Fatalf("%d batches, want 4", len(batches))
	}
	total := 0
	for i, b := range batches {
		size := 0
		for _, a := range b {
			size += a.Len()
			total++
		}
		if size > protocol.MaxActionBatch {
			t.Fatalf("batch %d is %d bytes", i, size)
		}
	}
	if total != len(actions) {
		t.Fatalf("%d actions batched, want %d", total, len(actions))
	}
	if len(batchActions(nil, protocol.MaxActionBatch)) != 0 {
		t.Fatal("empty input produced batches")
	}
}

func TestRelayLateness(t *testing.T) {
	latency := 100 * time.Millisecond
	late, starved := relayLateness(130*time.Millisecond, 100*time.Millisecond, latency)
	if late != 30*time.Millisecond || starved {
		t.Fatalf("late=%v starved=%v", late, starved)
	}
	if next := nextRelayInterval(latency, late); next != 70*time.Millisecond {
		t.Fatalf("next interval %v, want 70ms", next)
	}
	late, starved = relayLateness(450*time.Millisecond, 100*time.Millisecond, latency)
	if late != latency || !starved {
		t.Fatalf("late=%v starved=%v, want clamp", late, starved)
	}
	if next := nextRelayInterval(latency, late); next != 0 {
		t.Fatalf("next interval %v, want 0", next)
	}
}
