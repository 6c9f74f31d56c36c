package game

import (
	"time"

	"github.com/energizer-project/relayhost/internal/protocol"
)

// nextLagState applies the lag hysteresis: a player starts lagging when the
// deficit exceeds syncLimit and stops once it drops below half of it.
func nextLagState(lagging bool, deficit, syncLimit uint32) bool {
	if lagging {
		return deficit >= syncLimit/2
	}
	return deficit > syncLimit
}

// syncDeficit is how many keepalives a player is behind the session.
func syncDeficit(session, player uint32) uint32 {
	if player >= session {
		return 0
	}
	return session - player
}

// desyncEvictions returns the indices of fronts outside the strict-majority
// checksum bucket. Without a strict majority every index is returned. A
// uniform input evicts nobody.
func desyncEvictions(fronts []uint32) []int {
	counts := make(map[uint32]int, len(fronts))
	for _, c := range fronts {
		counts[c]++
	}
	if len(counts) <= 1 {
		return nil
	}

	var majority uint32
	found := false
	for c, n := range counts {
		if n*2 > len(fronts) {
			majority, found = c, true
			break
		}
	}

	var out []int
	for i, c := range fronts {
		if !found || c != majority {
			out = append(out, i)
		}
	}
	return out
}

// batchActions splits actions into consecutive groups whose encoded size
// stays within limit. An action is never split; one larger than limit gets
// a group of its own.
func batchActions(actions []protocol.Action, limit int) [][]protocol.Action {
	var batches [][]protocol.Action
	var cur []protocol.Action
	size := 0
	for _, a := range actions {
		if len(cur) > 0 && size+a.Len() > limit {
			batches = append(batches, cur)
			cur, size = nil, 0
		}
		cur = append(cur, a)
		size += a.Len()
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// relayLateness computes how late a flush was relative to the interval it
// was scheduled for. starved reports lateness beyond a full latency period,
// in which case the returned value is clamped to latency.
func relayLateness(actual, expected, latency time.Duration) (lateBy time.Duration, starved bool) {
	lateBy = actual - expected
	if lateBy < 0 {
		lateBy = 0
	}
	if lateBy > latency {
		return latency, true
	}
	return lateBy, false
}

// nextRelayInterval is the wait before the next flush given the lateness of
// the previous one.
func nextRelayInterval(latency, lateBy time.Duration) time.Duration {
	if lateBy >= latency {
		return 0
	}
	return latency - lateBy
}
