package game

import (
	"time"

	"github.com/energizer-project/relayhost/internal/slot"
)

// PlayerSummary is the persisted record of one participant.
type PlayerSummary struct {
	PID        uint8
	Name       string
	IP         string
	Team       uint8
	Colour     uint8
	Reserved   bool
	GProxy     bool
	JoinedAt   time.Time
	LoadedAt   time.Time
	LeftAt     time.Time
	LeftReason string
}

// Summary is handed to the persistence sink when a game is over.
type Summary struct {
	GameID    uint32
	Name      string
	Map       string
	Creator   string
	CreatedAt time.Time
	StartedAt time.Time
	LoadedAt  time.Time
	EndedAt   time.Time
	Winner    uint8
	Players   []PlayerSummary
	Stats     *TrackerResults
}

// Duration is the time from loading start to the end of the game.
func (s Summary) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

func (s *Session) playerSummary(p *Player) PlayerSummary {
	ps := PlayerSummary{
		PID:        p.PID,
		Name:       p.Name,
		Reserved:   p.Reserved,
		GProxy:     p.gproxy,
		JoinedAt:   p.joinedAt,
		LoadedAt:   p.finishedLoadingAt,
		LeftAt:     p.leftAt,
		LeftReason: p.leftReason,
	}
	if p.ExternalIP != nil {
		ps.IP = p.ExternalIP.String()
	}
	if idx := s.slots.FindPID(p.PID); idx >= 0 {
		ps.Team = s.slots[idx].Team
		ps.Colour = s.slots[idx].Colour
	}
	return ps
}

func (s *Session) summary(now time.Time) Summary {
	sum := Summary{
		GameID:    s.id,
		Name:      s.name,
		Map:       s.gameMap.Name,
		Creator:   s.creator,
		CreatedAt: s.createdAt,
		StartedAt: s.startedLoadingAt,
		LoadedAt:  s.loadedAt,
		EndedAt:   now,
		Winner:    s.winner,
		Players:   append([]PlayerSummary(nil), s.departed...),
	}
	for _, p := range s.players {
		sum.Players = append(sum.Players, s.playerSummary(p))
	}
	if s.collab.Tracker != nil {
		res := s.collab.Tracker.Results()
		sum.Stats = &res
		if sum.Winner == 0 {
			sum.Winner = res.Winner
		}
	}
	return sum
}

// PlayerInfo is a read-only view of a player for operator surfaces.
type PlayerInfo struct {
	PID          uint8         `json:"pid"`
	Name         string        `json:"name"`
	IP           string        `json:"ip"`
	Slot         int           `json:"slot"`
	Ping         time.Duration `json:"ping"`
	Download     uint8         `json:"download"`
	Reserved     bool          `json:"reserved"`
	SpoofChecked bool          `json:"spoof_checked"`
	Muted        bool          `json:"muted"`
	Loaded       bool          `json:"loaded"`
	Lagging      bool          `json:"lagging"`
	GProxy       bool          `json:"gproxy"`
	Disconnected bool          `json:"disconnected"`
}

// Snapshot is a read-only view of a session, safe to hand to other
// goroutines.
type Snapshot struct {
	ID        uint32       `json:"id"`
	Name      string       `json:"name"`
	Map       string       `json:"map"`
	State     string       `json:"state"`
	Public    bool         `json:"public"`
	Creator   string       `json:"creator"`
	CreatedAt time.Time    `json:"created_at"`
	StartedAt time.Time    `json:"started_at,omitempty"`
	Latency   int          `json:"latency_ms"`
	SyncLimit int          `json:"sync_limit"`
	Lagging   bool         `json:"lagging"`
	Counting  bool         `json:"counting_down"`
	Slots     slot.Table   `json:"slots"`
	Players   []PlayerInfo `json:"players"`
}

// Snapshot captures the current state of the session.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Name:      s.name,
		Map:       s.gameMap.Name,
		State:     s.state.String(),
		Public:    s.public,
		Creator:   s.creator,
		CreatedAt: s.createdAt,
		StartedAt: s.startedLoadingAt,
		Latency:   s.cfg.LatencyMS,
		SyncLimit: s.cfg.SyncLimit,
		Lagging:   s.lagging,
		Counting:  s.countingDown,
		Slots:     s.slots.Clone(),
	}
	for _, p := range s.Players() {
		info := PlayerInfo{
			PID:          p.PID,
			Name:         p.Name,
			Slot:         s.slots.FindPID(p.PID),
			Ping:         p.Ping(),
			Reserved:     p.Reserved,
			SpoofChecked: p.spoofChecked,
			Muted:        p.muted,
			Loaded:       p.finishedLoading,
			Lagging:      p.lagging,
			GProxy:       p.gproxy,
			Disconnected: p.disconnected,
		}
		if p.ExternalIP != nil {
			info.IP = p.ExternalIP.String()
		}
		if info.Slot >= 0 {
			info.Download = s.slots[info.Slot].Download
		}
		snap.Players = append(snap.Players, info)
	}
	return snap
}
