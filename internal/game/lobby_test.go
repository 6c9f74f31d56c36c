package game

import (
	"testing"

	"github.com/energizer-project/relayhost/internal/maps"
	"github.com/energizer-project/relayhost/internal/protocol"
	"github.com/energizer-project/relayhost/internal/slot"
)

// request sends a lobby settings change on behalf of name.
func (h *harness) request(name string, flag, value byte) {
	h.streams[name].feed(protocol.BuildChatToHostChange(h.player(name).PID, flag, value))
	h.update()
}

func (h *harness) slotOf(name string) slot.Slot {
	h.t.Helper()
	idx := h.s.slots.FindPID(h.player(name).PID)
	if idx < 0 {
		h.t.Fatalf("%s has no slot", name)
	}
	return h.s.slots[idx]
}

func (h *harness) leave(name string) {
	h.streams[name].feed(protocol.BuildLeaveGame(protocol.LeaveLobby))
	h.update()
	delete(h.streams, name)
}

func assertUniqueColours(t *testing.T, tb slot.Table) {
	t.Helper()
	seen := make(map[uint8]int)
	for i, sl := range tb {
		if sl.Status != slot.StatusOccupied || sl.Observer() {
			continue
		}
		if j, dup := seen[sl.Colour]; dup {
			t.Fatalf("slots %d and %d share colour %d: %+v", j, i, sl.Colour, tb)
		}
		seen[sl.Colour] = i
	}
}

func TestObserverRoundTripKeepsColoursUnique(t *testing.T) {
	h := newHarness(t, testMap(3, maps.Options{Observers: true}), Config{}, Collaborators{})
	h.join("x")
	h.join("y")
	h.join("alice")
	h.leave("x")
	h.leave("y")
	if sl := h.slotOf("alice"); sl.Colour != 2 || sl.Team != 0 {
		t.Fatalf("alice slot = %+v", sl)
	}

	h.request("alice", protocol.ChatTeamChange, slot.ObserverTeam)
	if sl := h.slotOf("alice"); !sl.Observer() || sl.Colour != slot.ObserverColour {
		t.Fatalf("observer slot = %+v", sl)
	}

	// colour and race stay pinned while observing
	h.request("alice", protocol.ChatColourChange, 5)
	h.request("alice", protocol.ChatRaceChange, byte(slot.RaceOrc))
	if sl := h.slotOf("alice"); sl.Colour != slot.ObserverColour || sl.Race&^slot.RaceSelectable == slot.RaceOrc {
		t.Fatalf("observer settings changed: %+v", sl)
	}

	h.request("alice", protocol.ChatTeamChange, 0)
	if sl := h.slotOf("alice"); sl.Team != 0 || sl.Colour != 2 {
		t.Fatalf("returned slot = %+v, want team 0 colour 2", sl)
	}

	h.join("bob")
	if h.s.PlayerByName("bob") == nil {
		t.Fatal("bob not seated")
	}
	assertUniqueColours(t, h.s.slots)
}

func TestObserverRequestNeedsObserverSlots(t *testing.T) {
	h := newHarness(t, testMap(2, maps.Options{}), Config{}, Collaborators{})
	h.join("alice")
	h.request("alice", protocol.ChatTeamChange, slot.ObserverTeam)
	if sl := h.slotOf("alice"); sl.Observer() || sl.Colour != 0 {
		t.Fatalf("moved to observers without observer slots: %+v", sl)
	}

	h.request("alice", protocol.ChatTeamChange, 1)
	if sl := h.slotOf("alice"); sl.Team != 1 || sl.Colour != 0 {
		t.Fatalf("team change = %+v", sl)
	}
}

func TestLobbySettingRequests(t *testing.T) {
	h := newHarness(t, testMap(3, maps.Options{}), Config{}, Collaborators{})
	h.join("alice")
	h.join("bob")

	h.request("alice", protocol.ChatColourChange, 1)
	if h.slotOf("alice").Colour != 0 {
		t.Fatal("took a colour held by another player")
	}
	h.request("alice", protocol.ChatColourChange, 2)
	if h.slotOf("alice").Colour != 2 || h.s.slots[2].Colour != 0 {
		t.Fatalf("colour not swapped with the open slot: %+v", h.s.slots)
	}
	h.request("alice", protocol.ChatColourChange, slot.MaxColours)
	if h.slotOf("alice").Colour != 2 {
		t.Fatal("accepted an out of range colour")
	}

	h.request("alice", protocol.ChatRaceChange, byte(slot.RaceOrc))
	if got := h.slotOf("alice").Race; got != slot.RaceOrc|slot.RaceSelectable {
		t.Fatalf("race = %d", got)
	}
	h.request("alice", protocol.ChatRaceChange, byte(slot.RaceOrc|slot.RaceUndead))
	if got := h.slotOf("alice").Race; got != slot.RaceOrc|slot.RaceSelectable {
		t.Fatalf("mixed race accepted: %d", got)
	}

	h.request("bob", protocol.ChatHandicapChange, 80)
	if h.slotOf("bob").Handicap != 80 {
		t.Fatal("handicap not applied")
	}
	h.request("bob", protocol.ChatHandicapChange, 55)
	if h.slotOf("bob").Handicap != 80 {
		t.Fatal("invalid handicap applied")
	}

	h.request("bob", protocol.ChatTeamChange, 13)
	if h.slotOf("bob").Team != 1 {
		t.Fatal("accepted a team past the observer team")
	}
	assertUniqueColours(t, h.s.slots)
}

func TestFixedSettingsIgnoreRequests(t *testing.T) {
	h := newHarness(t, testMap(2, maps.Options{FixedPlayerSettings: true, Observers: true}), Config{}, Collaborators{})
	h.join("alice")
	before := h.slotOf("alice")

	h.request("alice", protocol.ChatTeamChange, 1)
	h.request("alice", protocol.ChatColourChange, 1)
	h.request("alice", protocol.ChatRaceChange, byte(slot.RaceOrc))
	h.request("alice", protocol.ChatHandicapChange, 50)
	h.request("alice", protocol.ChatTeamChange, slot.ObserverTeam)

	if after := h.slotOf("alice"); after != before {
		t.Fatalf("fixed slot changed: %+v -> %+v", before, after)
	}
}

func TestCustomForcesTeamRequestMovesSeat(t *testing.T) {
	h := newHarness(t, testMap(3, maps.Options{CustomForces: true}), Config{}, Collaborators{})
	h.join("alice")
	pid := h.player("alice").PID

	h.request("alice", protocol.ChatTeamChange, 1)
	if idx := h.s.slots.FindPID(pid); idx != 1 {
		t.Fatalf("alice in slot %d, want 1", idx)
	}
	if sl := h.slotOf("alice"); sl.Team != 1 || sl.Colour != 0 {
		t.Fatalf("moved slot = %+v", sl)
	}
	if h.s.slots[0].Status != slot.StatusOpen || h.s.slots[0].Team != 0 {
		t.Fatalf("vacated slot = %+v", h.s.slots[0])
	}

	h.join("bob")
	h.request("bob", protocol.ChatTeamChange, 1)
	if idx := h.s.slots.FindPID(h.player("bob").PID); idx != 0 {
		t.Fatalf("bob moved to slot %d with no open slot on team 1", idx)
	}
}

func TestHCLEncodedInStartSlotInfo(t *testing.T) {
	h := newHarness(t, testMap(3, maps.Options{}), Config{HCLCommand: "ap"}, Collaborators{})
	a := h.join("alice")
	h.join("bob")
	h.ready()
	a.reset()
	h.countdown()

	frames := a.framesOfType(protocol.SlotInfo)
	if len(frames) == 0 {
		t.Fatal("no slot info at countdown end")
	}
	last := frames[len(frames)-1]
	layout, err := protocol.DecodeSlotLayout(last[protocol.HeaderSize+2:])
	if err != nil {
		t.Fatalf("DecodeSlotLayout: %v", err)
	}
	for i := 0; i < 2; i++ {
		if slot.ValidHandicap(layout.Slots[i].Handicap) {
			t.Fatalf("slot %d handicap %d carries no command", i, layout.Slots[i].Handicap)
		}
	}
	if cmd := layout.Slots.DecodeHCL(); cmd != "ap" {
		t.Fatalf("decoded command = %q", cmd)
	}
	if layout.Slots[0].Handicap != 100 || layout.Slots[1].Handicap != 100 {
		t.Fatal("real handicaps not restored")
	}
}
