// Package dota extracts game statistics from the sync-store actions DotA
// style maps emit. The map script writes integers into the "dr.x" store;
// the host reads them as they are relayed.
package dota

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/game"
	"github.com/energizer-project/relayhost/internal/protocol"
)

const (
	actionSyncInteger = 0x6B
	storeName         = "dr.x"
)

// Teams reported in the Global/Winner key.
const (
	WinnerSentinel uint8 = 1
	WinnerScourge  uint8 = 2
)

// statKeys maps the numeric store keys to stat names.
var statKeys = map[string]string{
	"1": "kills",
	"2": "deaths",
	"3": "creepkills",
	"4": "creepdenies",
	"5": "assists",
	"6": "gold",
	"7": "neutralkills",
}

// syncInteger is one decoded store write.
type syncInteger struct {
	mission string
	key     string
	value   uint32
}

// Tracker implements game.StatsTracker. Results may be read from other
// goroutines while the session feeds actions.
type Tracker struct {
	mu      sync.Mutex
	winner  uint8
	minutes uint32
	seconds uint32
	players map[uint8]map[string]int
	logger  zerolog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		players: make(map[uint8]map[string]int),
		logger:  log.With().Str("component", "dota").Logger(),
	}
}

// ProcessAction scans one relayed action for sync-store writes. It returns
// true once, when the winner is first recorded.
func (t *Tracker) ProcessAction(a protocol.Action) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	decided := false
	data := a.Data
	for {
		i := bytes.IndexByte(data, actionSyncInteger)
		if i < 0 {
			return decided
		}
		si, rest, ok := parseSyncInteger(data[i+1:])
		if !ok {
			data = data[i+1:]
			continue
		}
		if t.apply(si) {
			decided = true
		}
		data = rest
	}
}

// parseSyncInteger decodes [store\0][mission\0][key\0][value:4] and returns
// the remaining bytes.
func parseSyncInteger(data []byte) (syncInteger, []byte, bool) {
	var fields [3]string
	for i := range fields {
		end := bytes.IndexByte(data, 0)
		if end < 0 {
			return syncInteger{}, nil, false
		}
		fields[i] = string(data[:end])
		data = data[end+1:]
	}
	if fields[0] != storeName || len(data) < 4 {
		return syncInteger{}, nil, false
	}
	return syncInteger{mission: fields[1], key: fields[2], value: binary.LittleEndian.Uint32(data)}, data[4:], true
}

func (t *Tracker) apply(si syncInteger) bool {
	if si.mission == "Global" {
		switch si.key {
		case "Winner":
			if t.winner != 0 || (si.value != uint32(WinnerSentinel) && si.value != uint32(WinnerScourge)) {
				return false
			}
			t.winner = uint8(si.value)
			t.logger.Info().Uint8("winner", t.winner).Msg("winner recorded")
			return true
		case "m":
			t.minutes = si.value
		case "s":
			t.seconds = si.value
		}
		return false
	}

	colour, err := strconv.Atoi(si.mission)
	if err != nil || colour < 0 || colour > 12 {
		return false
	}
	stats := t.players[uint8(colour)]
	if stats == nil {
		stats = make(map[string]int)
		t.players[uint8(colour)] = stats
	}
	if name, ok := statKeys[si.key]; ok {
		stats[name] = int(si.value)
	} else if si.key == "id" {
		stats["id"] = int(si.value)
	}
	return false
}

// Results returns a copy of the collected statistics.
func (t *Tracker) Results() game.TrackerResults {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := game.TrackerResults{
		Winner:   t.winner,
		Duration: time.Duration(t.minutes)*time.Minute + time.Duration(t.seconds)*time.Second,
		Players:  make(map[uint8]map[string]int, len(t.players)),
	}
	for colour, stats := range t.players {
		cp := make(map[string]int, len(stats))
		for k, v := range stats {
			cp[k] = v
		}
		res.Players[colour] = cp
	}
	return res
}

// WinnerName returns a display name for a winner value.
func WinnerName(w uint8) string {
	switch w {
	case WinnerSentinel:
		return "Sentinel"
	case WinnerScourge:
		return "Scourge"
	default:
		return "none"
	}
}
