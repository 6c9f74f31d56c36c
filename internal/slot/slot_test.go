package slot

import (
	"math/rand/v2"
	"testing"
)

func testTable() Table {
	t := make(Table, 4)
	for i := range t {
		t[i] = Slot{Download: DownloadUnknown, Status: StatusOpen, Team: uint8(i % 2), Colour: uint8(i), Race: RaceRandom | RaceSelectable, Skill: SkillNormal, Handicap: 100}
	}
	return t
}

func TestSwapFixedPlayerSettingsKeepsPositionAttributes(t *testing.T) {
	tb := testTable()
	tb.Occupy(0, 1, 100)
	tb[0].Handicap = 80
	tb[1].Race = RaceOrc
	tb.Swap(0, 1, Options{FixedPlayerSettings: true})

	if tb[0].Status != StatusOpen || tb[0].PID != 0 || tb[0].Download != DownloadUnknown {
		t.Fatalf("slot 0 = %+v, want open", tb[0])
	}
	if tb[1].PID != 1 || tb[1].Status != StatusOccupied || tb[1].Download != 100 {
		t.Fatalf("slot 1 = %+v, want occupied by pid 1", tb[1])
	}
	if tb[0].Team != 0 || tb[0].Colour != 0 || tb[0].Handicap != 80 || tb[0].Race != RaceRandom|RaceSelectable {
		t.Fatalf("slot 0 position attributes moved: %+v", tb[0])
	}
	if tb[1].Team != 1 || tb[1].Colour != 1 || tb[1].Race != RaceOrc || tb[1].Handicap != 100 {
		t.Fatalf("slot 1 position attributes moved: %+v", tb[1])
	}
}

func TestSwapCustomForcesPinsTeam(t *testing.T) {
	tb := testTable()
	tb.Occupy(0, 1, 100)
	tb.Swap(0, 1, Options{CustomForces: true})
	if tb[1].PID != 1 || tb[1].Colour != 0 || tb[1].Team != 1 {
		t.Fatalf("slot 1 = %+v", tb[1])
	}
	if tb[0].Team != 0 || tb[0].Colour != 1 {
		t.Fatalf("slot 0 = %+v", tb[0])
	}
}

func TestSwapMeleeMovesEverything(t *testing.T) {
	tb := testTable()
	tb.Occupy(0, 1, 100)
	tb.Swap(0, 1, Options{})
	if tb[1].PID != 1 || tb[1].Team != 0 || tb[1].Colour != 0 {
		t.Fatalf("slot 1 = %+v", tb[1])
	}
	if tb.Swap(2, 2, Options{}) || tb.Swap(0, 9, Options{}) {
		t.Fatal("degenerate swap reported a change")
	}
}

func TestSetColour(t *testing.T) {
	tb := testTable()
	tb.Occupy(0, 1, 100)
	tb.Occupy(1, 2, 100)

	// colour 2 is held by open slot 2: swapped
	if !tb.SetColour(0, 2) {
		t.Fatal("expected colour swap with unused slot")
	}
	if tb[0].Colour != 2 || tb[2].Colour != 0 {
		t.Fatalf("colours = %d/%d, want 2/0", tb[0].Colour, tb[2].Colour)
	}
	// colour 1 is held by occupied slot 1: ignored
	if tb.SetColour(0, 1) {
		t.Fatal("took a colour from an occupied slot")
	}
	if tb.SetColour(0, MaxColours) {
		t.Fatal("accepted out of range colour")
	}
	tb[3].Colour = 9
	if !tb.SetColour(3, 11) || tb[3].Colour != 11 {
		t.Fatal("free colour not assigned")
	}
}

func TestColourNeverDuplicatedAmongOccupied(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	tb := testTable()
	for i := range tb {
		tb.Occupy(i, uint8(i+1), 100)
	}
	tb.Open(3)
	for n := 0; n < 500; n++ {
		tb.SetColour(r.IntN(len(tb)), uint8(r.IntN(14)))
		seen := map[uint8]bool{}
		for _, s := range tb {
			if s.Status != StatusOccupied {
				continue
			}
			if seen[s.Colour] {
				t.Fatalf("duplicate colour %d among occupied slots: %+v", s.Colour, tb)
			}
			seen[s.Colour] = true
		}
	}
}

func TestRandomOperationsKeepPIDsUnique(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 9))
	tb := testTable()
	next := uint8(1)
	for n := 0; n < 2000; n++ {
		i := r.IntN(len(tb))
		switch r.IntN(5) {
		case 0:
			tb.Open(i)
		case 1:
			tb.Close(i)
		case 2:
			tb.Computer(i, SkillHard)
		case 3:
			if tb[i].Status == StatusOpen {
				for tb.FindPID(next) >= 0 || next == 0 {
					next++
				}
				tb.Occupy(i, next, 0)
			}
		case 4:
			tb.Swap(i, r.IntN(len(tb)), Options{FixedPlayerSettings: r.IntN(2) == 0})
		}
		seen := map[uint8]bool{}
		for _, s := range tb {
			if s.Status != StatusOccupied || s.Computer {
				continue
			}
			if seen[s.PID] {
				t.Fatalf("pid %d occupies two slots", s.PID)
			}
			seen[s.PID] = true
		}
	}
}

func TestShuffleKeepsPositionAttributes(t *testing.T) {
	tb := make(Table, 6)
	for i := range tb {
		tb[i] = Slot{PID: uint8(i + 1), Download: 100, Status: StatusOccupied, Team: uint8(i % 2), Colour: uint8(i), Race: RaceHuman, Handicap: 100}
	}
	tb[4].Team = ObserverTeam
	tb[5].Computer = true
	tb[5].PID = 0
	before := tb.Clone()
	tb.Shuffle(rand.New(rand.NewPCG(3, 4)))

	pids := map[uint8]bool{}
	for i := range tb {
		if tb[i].Team != before[i].Team || tb[i].Colour != before[i].Colour || tb[i].Race != before[i].Race {
			t.Fatalf("slot %d position attributes changed", i)
		}
		pids[tb[i].PID] = true
	}
	if tb[4] != before[4] || tb[5] != before[5] {
		t.Fatal("observer or computer slot moved")
	}
	for p := uint8(1); p <= 5; p++ {
		if !pids[p] {
			t.Fatalf("pid %d lost by shuffle", p)
		}
	}
}

func TestHCLRoundTrip(t *testing.T) {
	tb := testTable()
	for i := range tb {
		tb.Occupy(i, uint8(i+1), 100)
		tb[i].Handicap = Handicaps[i]
	}
	before := tb.Clone()
	if !tb.EncodeHCL("ap1.") {
		t.Fatal("encode failed")
	}
	for i := range tb {
		if ValidHandicap(tb[i].Handicap) || tb[i].Handicap == 0 {
			t.Fatalf("slot %d handicap %d collides with a real value", i, tb[i].Handicap)
		}
	}
	if got := tb.DecodeHCL(); got != "ap1." {
		t.Fatalf("decoded %q, want %q", got, "ap1.")
	}
	for i := range tb {
		if tb[i] != before[i] {
			t.Fatalf("slot %d = %+v, want %+v", i, tb[i], before[i])
		}
	}
}

func TestHCLEveryCharacterAndHandicap(t *testing.T) {
	for c := 0; c < len(HCLAlphabet); c++ {
		for _, h := range Handicaps {
			tb := Table{{PID: 1, Status: StatusOccupied, Handicap: h}}
			if !tb.EncodeHCL(string(HCLAlphabet[c])) {
				t.Fatalf("encode %q failed", HCLAlphabet[c])
			}
			if got := tb.DecodeHCL(); got != string(HCLAlphabet[c]) || tb[0].Handicap != h {
				t.Fatalf("char %q handicap %d decoded to %q/%d", HCLAlphabet[c], h, got, tb[0].Handicap)
			}
		}
	}
}

func TestHCLRejectsTooLong(t *testing.T) {
	tb := testTable()
	tb.Occupy(0, 1, 100)
	if tb.EncodeHCL("ab") {
		t.Fatal("encoded more characters than occupied slots")
	}
	if tb.EncodeHCL("a!") || tb[0].Handicap != 100 {
		t.Fatal("table modified by rejected command")
	}
}
