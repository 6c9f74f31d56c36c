// Package slot models the fixed table of player positions a map defines.
// Nothing in here touches the network; the game session owns a Table and
// decides when mutations are allowed.
package slot

import "math/rand/v2"

// Status is the occupancy state of a slot.
type Status uint8

const (
	StatusOpen     Status = 0
	StatusClosed   Status = 1
	StatusOccupied Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusOccupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// Race is a bitmask; RaceSelectable may be OR'd with any single race.
type Race uint8

const (
	RaceHuman      Race = 1
	RaceOrc        Race = 2
	RaceNightElf   Race = 4
	RaceUndead     Race = 8
	RaceRandom     Race = 32
	RaceSelectable Race = 64
)

// Skill is the difficulty of a computer-controlled slot.
type Skill uint8

const (
	SkillEasy   Skill = 0
	SkillNormal Skill = 1
	SkillHard   Skill = 2
)

const (
	// ObserverTeam is the team id shared by every observer slot.
	ObserverTeam uint8 = 12
	// ObserverColour is pinned to observer slots.
	ObserverColour uint8 = 12
	// MaxColours is the number of player colours.
	MaxColours uint8 = 12
	// DownloadUnknown marks a slot whose download progress is not applicable.
	DownloadUnknown uint8 = 255
	// EncodedSize is the serialized size of one slot.
	EncodedSize = 9
)

// Handicaps lists the only handicap values the client accepts.
var Handicaps = [...]uint8{50, 60, 70, 80, 90, 100}

// ValidHandicap reports whether h is one of the real handicap values.
func ValidHandicap(h uint8) bool {
	for _, v := range Handicaps {
		if v == h {
			return true
		}
	}
	return false
}

// Slot is one player position.
type Slot struct {
	PID      uint8
	Download uint8
	Status   Status
	Computer bool
	Team     uint8
	Colour   uint8
	Race     Race
	Skill    Skill
	Handicap uint8
}

// Observer reports whether the slot belongs to the observer team.
func (s Slot) Observer() bool { return s.Team == ObserverTeam }

// Human reports whether the slot is occupied by a non-computer entity.
func (s Slot) Human() bool { return s.Status == StatusOccupied && !s.Computer }

// Options are the map flags that restrict slot mutations.
type Options struct {
	FixedPlayerSettings bool
	CustomForces        bool
}

// LayoutStyle is the layout byte carried at the end of a serialized table.
func (o Options) LayoutStyle() uint8 {
	switch {
	case o.FixedPlayerSettings:
		return 3
	case o.CustomForces:
		return 1
	default:
		return 0
	}
}

// Table is the ordered slot array of a session.
type Table []Slot

// Clone returns an independent copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	copy(out, t)
	return out
}

// Valid reports whether i indexes into the table.
func (t Table) Valid(i int) bool { return i >= 0 && i < len(t) }

// FindPID returns the index of the slot occupied by pid, or -1.
func (t Table) FindPID(pid uint8) int {
	if pid == 0 {
		return -1
	}
	for i, s := range t {
		if s.Status == StatusOccupied && s.PID == pid {
			return i
		}
	}
	return -1
}

// FirstOpen returns the first open slot index, or -1.
func (t Table) FirstOpen() int {
	for i, s := range t {
		if s.Status == StatusOpen {
			return i
		}
	}
	return -1
}

// FirstOpenOnTeam returns the first open slot on team, or -1.
func (t Table) FirstOpenOnTeam(team uint8) int {
	for i, s := range t {
		if s.Status == StatusOpen && s.Team == team {
			return i
		}
	}
	return -1
}

// Count returns the number of slots in the given status.
func (t Table) Count(st Status) int {
	n := 0
	for _, s := range t {
		if s.Status == st {
			n++
		}
	}
	return n
}

// Open resets slot i to an empty open position. Team, colour and race stay
// with the position.
func (t Table) Open(i int) {
	s := t[i]
	t[i] = Slot{Download: DownloadUnknown, Status: StatusOpen, Team: s.Team, Colour: s.Colour, Race: s.Race, Skill: SkillNormal, Handicap: 100}
}

// Close resets slot i to a closed position.
func (t Table) Close(i int) {
	s := t[i]
	t[i] = Slot{Download: DownloadUnknown, Status: StatusClosed, Team: s.Team, Colour: s.Colour, Race: s.Race, Skill: SkillNormal, Handicap: 100}
}

// Computer fills slot i with a computer player of the given skill.
func (t Table) Computer(i int, skill Skill) {
	s := t[i]
	t[i] = Slot{Download: 100, Status: StatusOccupied, Computer: true, Team: s.Team, Colour: s.Colour, Race: s.Race, Skill: skill, Handicap: s.Handicap}
}

// Occupy seats pid in slot i.
func (t Table) Occupy(i int, pid uint8, download uint8) {
	t[i].PID = pid
	t[i].Download = download
	t[i].Status = StatusOccupied
	t[i].Computer = false
	t[i].Skill = SkillNormal
}

// SetColour assigns colour c to slot i. When another slot already holds c the
// two colours are swapped if that slot is unused; a colour held by an
// occupied slot is never taken. Returns true if anything changed.
func (t Table) SetColour(i int, c uint8) bool {
	if !t.Valid(i) || c >= MaxColours || t[i].Observer() || t[i].Colour == c {
		return false
	}
	for j := range t {
		if j == i || t[j].Colour != c {
			continue
		}
		if t[j].Status == StatusOccupied {
			return false
		}
		t[j].Colour = t[i].Colour
		t[i].Colour = c
		return true
	}
	t[i].Colour = c
	return true
}

// Swap exchanges slots a and b, honouring the map restrictions in opts.
func (t Table) Swap(a, b int, opts Options) bool {
	if a == b || !t.Valid(a) || !t.Valid(b) {
		return false
	}
	sa, sb := t[a], t[b]
	switch {
	case opts.FixedPlayerSettings:
		t[a].PID, t[b].PID = sb.PID, sa.PID
		t[a].Download, t[b].Download = sb.Download, sa.Download
		t[a].Status, t[b].Status = sb.Status, sa.Status
		t[a].Computer, t[b].Computer = sb.Computer, sa.Computer
		t[a].Skill, t[b].Skill = sb.Skill, sa.Skill
	case opts.CustomForces:
		t[a], t[b] = sb, sa
		t[a].Team, t[b].Team = sa.Team, sb.Team
	default:
		t[a], t[b] = sb, sa
	}
	return true
}

// Shuffle randomly re-seats the occupied human non-observer slots. Team,
// colour and race stay with each position; the occupant and its download,
// status and handicap move.
func (t Table) Shuffle(r *rand.Rand) bool {
	var idx []int
	for i, s := range t {
		if s.Human() && !s.Observer() {
			idx = append(idx, i)
		}
	}
	if len(idx) < 2 {
		return false
	}
	occupants := make([]Slot, len(idx))
	for k, i := range idx {
		occupants[k] = t[i]
	}
	r.Shuffle(len(occupants), func(x, y int) { occupants[x], occupants[y] = occupants[y], occupants[x] })
	for k, i := range idx {
		o := occupants[k]
		t[i].PID = o.PID
		t[i].Download = o.Download
		t[i].Status = o.Status
		t[i].Computer = o.Computer
		t[i].Skill = o.Skill
		t[i].Handicap = o.Handicap
	}
	return true
}
