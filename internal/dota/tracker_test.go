package dota

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/energizer-project/relayhost/internal/protocol"
)

func syncAction(mission, key string, value uint32) []byte {
	out := []byte{actionSyncInteger}
	for _, s := range []string{storeName, mission, key} {
		out = append(out, s...)
		out = append(out, 0)
	}
	return binary.LittleEndian.AppendUint32(out, value)
}

func TestTrackerCollectsPlayerStats(t *testing.T) {
	tr := NewTracker()
	var data []byte
	data = append(data, 0x03, 0x01)
	data = append(data, syncAction("3", "1", 12)...)
	data = append(data, syncAction("3", "2", 4)...)
	data = append(data, syncAction("3", "id", 5)...)
	data = append(data, syncAction("other", "1", 99)...)

	if tr.ProcessAction(protocol.Action{PID: 2, Data: data}) {
		t.Fatal("no winner yet")
	}
	res := tr.Results()
	if res.Players[3]["kills"] != 12 || res.Players[3]["deaths"] != 4 || res.Players[3]["id"] != 5 {
		t.Fatalf("stats = %v", res.Players)
	}
	if len(res.Players) != 1 {
		t.Fatalf("unexpected players %v", res.Players)
	}
}

func TestTrackerWinnerDecidedOnce(t *testing.T) {
	tr := NewTracker()
	tr.ProcessAction(protocol.Action{Data: append(syncAction("Global", "m", 41), syncAction("Global", "s", 7)...)})
	if !tr.ProcessAction(protocol.Action{Data: syncAction("Global", "Winner", 2)}) {
		t.Fatal("winner not reported")
	}
	if tr.ProcessAction(protocol.Action{Data: syncAction("Global", "Winner", 1)}) {
		t.Fatal("winner reported twice")
	}
	res := tr.Results()
	if res.Winner != WinnerScourge || WinnerName(res.Winner) != "Scourge" {
		t.Fatalf("winner = %d", res.Winner)
	}
	if res.Duration != 41*time.Minute+7*time.Second {
		t.Fatalf("duration = %s", res.Duration)
	}
}

func TestTrackerIgnoresTruncatedWrites(t *testing.T) {
	tr := NewTracker()
	a := syncAction("Global", "Winner", 1)
	if tr.ProcessAction(protocol.Action{Data: a[:len(a)-2]}) {
		t.Fatal("truncated write decided the game")
	}
	if tr.Results().Winner != 0 {
		t.Fatal("winner set from truncated data")
	}
}
